// Package nutrio integrates the Nutrio nutrition-and-exercise service: OAuth
// endpoints, the offset-paginated exercise-log API, and the shared-token
// webhook scheme.
package nutrio

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/provider"
)

// Name is the provider identifier used in routes, credentials and the registry.
const Name = "nutrio"

// Config carries the Nutrio application settings.
type Config struct {
	ClientID     string
	ClientSecret string
	VerifyToken  string
	APIBase      string
	RedirectURL  string
}

// Adapter translates Nutrio REST responses into canonical activities.
type Adapter struct {
	apiBase string
	client  *http.Client
	logger  *log.Logger
}

// NewAdapter constructs an Adapter against the given API base URL.
func NewAdapter(apiBase string, client *http.Client) *Adapter {
	return &Adapter{
		apiBase: apiBase,
		client:  client,
		logger:  log.New(log.Writer(), "[nutrio] ", log.LstdFlags),
	}
}

// NewBundle wires the full Nutrio capability bundle for the registry.
func NewBundle(cfg Config, client *http.Client) *provider.Bundle {
	return &provider.Bundle{
		Name:     Name,
		Adapter:  NewAdapter(cfg.APIBase, client),
		Verifier: &Verifier{Token: cfg.VerifyToken},
		Parser:   &Parser{VerifyToken: cfg.VerifyToken},
		OAuth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"exercise", "nutrition", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.APIBase + "/oauth2/authorize",
				TokenURL: cfg.APIBase + "/oauth2/token",
			},
		},
		RevokeURL: cfg.APIBase + "/oauth2/revoke",
	}
}

type profilePayload struct {
	User struct {
		EncodedID   string `json:"encodedId"`
		DisplayName string `json:"displayName"`
	} `json:"user"`
}

// FetchProfile returns the connected user's identity.
func (a *Adapter) FetchProfile(ctx context.Context, accessToken string) (*provider.Profile, error) {
	var payload profilePayload
	if err := a.get(ctx, accessToken, "/1/user/-/profile.json", nil, &payload); err != nil {
		return nil, err
	}
	if payload.User.EncodedID == "" {
		return nil, fmt.Errorf("nutrio: profile response missing encodedId")
	}
	return &provider.Profile{
		ExternalUserID: payload.User.EncodedID,
		DisplayName:    payload.User.DisplayName,
	}, nil
}

type exerciseListPayload struct {
	Exercises  []json.RawMessage `json:"exercises"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

type exercisePayload struct {
	LogID        int64   `json:"logId"`
	ActivityName string  `json:"activityName"`
	ActivityType string  `json:"activityType"`
	StartTime    string  `json:"startTime"`
	DurationMs   float64 `json:"duration"`
	DistanceKm   float64 `json:"distance"`
	Calories     int     `json:"calories"`
}

// FetchActivitiesSince pulls exercise-log entries from the opaque offset
// cursor. Nutrio reports durations in milliseconds and distances in
// kilometers; both are normalized here.
func (a *Adapter) FetchActivitiesSince(ctx context.Context, accessToken, cursor string, pageSize int) (*provider.Page, error) {
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("nutrio: invalid cursor %q: %v", cursor, err)
		}
		offset = parsed
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(pageSize))
	query.Set("sort", "asc")

	var payload exerciseListPayload
	if err := a.get(ctx, accessToken, "/1/user/-/exercises/list.json", query, &payload); err != nil {
		return nil, err
	}

	page := &provider.Page{
		HasMore:    payload.Pagination.Next != "",
		NextCursor: strconv.Itoa(offset + len(payload.Exercises)),
	}
	for _, item := range payload.Exercises {
		var raw exercisePayload
		if err := json.Unmarshal(item, &raw); err != nil || raw.LogID == 0 || raw.StartTime == "" {
			a.logger.Printf("skipping malformed exercise entry: %v", err)
			page.Malformed++
			continue
		}
		startedAt, err := time.Parse(time.RFC3339, raw.StartTime)
		if err != nil {
			a.logger.Printf("skipping exercise %d: bad startTime %q", raw.LogID, raw.StartTime)
			page.Malformed++
			continue
		}
		page.Activities = append(page.Activities, canonical(raw, startedAt, item))
	}
	return page, nil
}

func canonical(raw exercisePayload, startedAt time.Time, rawJSON json.RawMessage) domain.CanonicalActivity {
	act := domain.CanonicalActivity{
		ExternalID:   strconv.FormatInt(raw.LogID, 10),
		Name:         raw.ActivityName,
		ActivityType: normalizeType(raw.ActivityType),
		StartedAt:    startedAt.UTC(),
		Raw:          append(json.RawMessage(nil), rawJSON...),
	}
	if raw.DurationMs > 0 {
		minutes := raw.DurationMs / 1000 / 60
		act.DurationMin = &minutes
		ended := startedAt.Add(time.Duration(raw.DurationMs * float64(time.Millisecond))).UTC()
		act.EndedAt = &ended
	}
	if raw.DistanceKm > 0 {
		meters := raw.DistanceKm * 1000
		act.DistanceMeters = &meters
	}
	if raw.Calories > 0 {
		cal := raw.Calories
		act.Calories = &cal
	}
	return act
}

var typeMap = map[string]string{
	"Weights":  "strength_training",
	"Workout":  "strength_training",
	"HIIT":     "hiit",
	"Run":      "running",
	"Bike":     "cycling",
	"Swimming": "swimming",
	"Walk":     "walking",
	"Yoga":     "yoga",
}

func normalizeType(t string) string {
	if mapped, ok := typeMap[t]; ok {
		return mapped
	}
	return "other"
}

func (a *Adapter) get(ctx context.Context, accessToken, path string, query url.Values, out interface{}) error {
	target := a.apiBase + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("nutrio: %v: %w", err, domain.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if err := provider.ClassifyResponse(resp); err != nil {
		return fmt.Errorf("nutrio: %w", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nutrio: decoding response: %w", err)
	}
	return nil
}
