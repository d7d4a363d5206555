package nutrio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/integrations/internal/domain"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAdapter(server.URL, server.Client())
}

func TestFetchProfile(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/user/-/profile.json", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"encodedId":"NU123","displayName":"Sam"}}`))
	})

	profile, err := adapter.FetchProfile(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "NU123", profile.ExternalUserID)
	require.Equal(t, "Sam", profile.DisplayName)
}

func TestFetchActivitiesSinceNormalizesUnits(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/user/-/exercises/list.json", r.URL.Path)
		require.Equal(t, "40", r.URL.Query().Get("offset"))
		require.Equal(t, "20", r.URL.Query().Get("limit"))
		require.Equal(t, "asc", r.URL.Query().Get("sort"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"exercises":[
				{"logId":501,"activityName":"Weights","activityType":"Weights","startTime":"2026-01-02T06:00:00Z","duration":2700000,"calories":350},
				{"logId":502,"activityName":"Bike ride","activityType":"Bike","startTime":"2026-01-02T18:00:00Z","duration":3600000,"distance":21.5}
			],
			"pagination":{"next":"more"}
		}`))
	})

	page, err := adapter.FetchActivitiesSince(context.Background(), "tok-1", "40", 20)
	require.NoError(t, err)
	require.Len(t, page.Activities, 2)
	require.True(t, page.HasMore)
	require.Equal(t, "42", page.NextCursor)

	weights := page.Activities[0]
	require.Equal(t, "501", weights.ExternalID)
	require.Equal(t, "strength_training", weights.ActivityType)
	// 2,700,000 ms is 45 minutes.
	require.NotNil(t, weights.DurationMin)
	require.InDelta(t, 45.0, *weights.DurationMin, 0.001)
	require.NotNil(t, weights.EndedAt)
	require.Equal(t, time.Date(2026, time.January, 2, 6, 45, 0, 0, time.UTC), *weights.EndedAt)

	ride := page.Activities[1]
	require.Equal(t, "cycling", ride.ActivityType)
	// 21.5 km becomes meters.
	require.NotNil(t, ride.DistanceMeters)
	require.InDelta(t, 21500.0, *ride.DistanceMeters, 0.001)
}

func TestFetchActivitiesSinceEmptyCursorStartsAtZero(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "0", r.URL.Query().Get("offset"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"exercises":[],"pagination":{}}`))
	})

	page, err := adapter.FetchActivitiesSince(context.Background(), "tok-1", "", 20)
	require.NoError(t, err)
	require.Empty(t, page.Activities)
	require.False(t, page.HasMore)
	require.Equal(t, "0", page.NextCursor)
}

func TestFetchActivitiesSinceRejectsGarbageCursor(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := adapter.FetchActivitiesSince(context.Background(), "tok-1", "not-a-number", 20)
	require.Error(t, err)
}

func TestFetchActivitiesSinceSkipsMalformedEntries(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"exercises":[
				{"logId":501,"activityName":"ok","activityType":"Run","startTime":"2026-01-02T06:00:00Z","duration":600000},
				{"activityName":"missing logId","activityType":"Run","startTime":"2026-01-02T07:00:00Z"},
				{"logId":503,"activityName":"bad time","activityType":"Run","startTime":"yesterday"}
			],
			"pagination":{}
		}`))
	})

	page, err := adapter.FetchActivitiesSince(context.Background(), "tok-1", "", 20)
	require.NoError(t, err)
	require.Len(t, page.Activities, 1)
	require.Equal(t, 2, page.Malformed)
	// Skipped entries still advance the offset so the run never loops on them.
	require.Equal(t, "3", page.NextCursor)
}

func TestFetchActivitiesSinceClassifiesAuthFailure(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := adapter.FetchActivitiesSince(context.Background(), "tok-1", "", 20)
	require.ErrorIs(t, err, domain.ErrInvalidGrant)
}
