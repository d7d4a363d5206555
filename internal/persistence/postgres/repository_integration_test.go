//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/integrations/internal/domain"
)

func setupPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("fitness"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}

func seedCredential(t *testing.T, ctx context.Context, repo *CredentialRepository) *domain.Credential {
	t.Helper()
	expiry := time.Now().Add(time.Hour).UTC()
	stored, err := repo.Upsert(ctx, domain.Credential{
		ID:             uuid.NewString(),
		UserID:         uuid.NewString(),
		Provider:       "strive",
		ExternalUserID: uuid.NewString(),
		AccessToken:    "at-1",
		RefreshToken:   "rt-1",
		TokenExpiresAt: &expiry,
	})
	require.NoError(t, err)
	require.NotNil(t, stored)
	return stored
}

func TestCredentialUpsertIsUniquePerUserProvider(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t, ctx)
	repo := NewCredentialRepository(pool)

	cred := seedCredential(t, ctx, repo)
	require.True(t, cred.IsActive)

	// Reconnecting the same user and provider refreshes the existing row.
	again, err := repo.Upsert(ctx, domain.Credential{
		ID:          uuid.NewString(),
		UserID:      cred.UserID,
		Provider:    cred.Provider,
		AccessToken: "at-2",
	})
	require.NoError(t, err)
	require.Equal(t, cred.ID, again.ID)
	require.Equal(t, "at-2", again.AccessToken)

	list, err := repo.ListByUser(ctx, cred.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCredentialDeactivateRemovesFromActiveSet(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t, ctx)
	repo := NewCredentialRepository(pool)

	cred := seedCredential(t, ctx, repo)
	require.NoError(t, repo.Deactivate(ctx, cred.ID))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	for _, a := range active {
		require.NotEqual(t, cred.ID, a.ID)
	}

	stored, err := repo.Get(ctx, cred.ID)
	require.NoError(t, err)
	require.NotNil(t, stored, "deactivation must not delete the row")
	require.False(t, stored.IsActive)
}

func TestSyncRunSingleRunningConstraint(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t, ctx)
	creds := NewCredentialRepository(pool)
	runs := NewSyncRunRepository(pool)

	cred := seedCredential(t, ctx, creds)

	first := domain.SyncRun{
		ID:           uuid.NewString(),
		CredentialID: cred.ID,
		Status:       domain.SyncRunRunning,
		Trigger:      domain.TriggerManual,
		StartedAt:    time.Now().UTC(),
	}
	started, err := runs.Begin(ctx, first, 15*time.Minute)
	require.NoError(t, err)
	require.True(t, started)

	// A second claim while the first is running loses, without error.
	second := first
	second.ID = uuid.NewString()
	started, err = runs.Begin(ctx, second, 15*time.Minute)
	require.NoError(t, err)
	require.False(t, started)

	// Finalizing frees the slot.
	now := time.Now().UTC()
	first.Status = domain.SyncRunSucceeded
	first.CompletedAt = &now
	first.RecordsProcessed = 5
	first.RecordsImported = 4
	first.RecordsSkipped = 1
	first.CursorAfter = "100"
	require.NoError(t, runs.Finalize(ctx, first))

	started, err = runs.Begin(ctx, second, 15*time.Minute)
	require.NoError(t, err)
	require.True(t, started)

	history, err := runs.ListByCredential(ctx, cred.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestSyncRunStaleClaimIsReclaimed(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t, ctx)
	creds := NewCredentialRepository(pool)
	runs := NewSyncRunRepository(pool)

	cred := seedCredential(t, ctx, creds)

	stale := domain.SyncRun{
		ID:           uuid.NewString(),
		CredentialID: cred.ID,
		Status:       domain.SyncRunRunning,
		Trigger:      domain.TriggerPeriodic,
		StartedAt:    time.Now().UTC().Add(-time.Hour),
	}
	started, err := runs.Begin(ctx, stale, 15*time.Minute)
	require.NoError(t, err)
	require.True(t, started)

	// The hour-old running row is treated as a crashed worker's leftovers.
	fresh := stale
	fresh.ID = uuid.NewString()
	fresh.StartedAt = time.Now().UTC()
	started, err = runs.Begin(ctx, fresh, 15*time.Minute)
	require.NoError(t, err)
	require.True(t, started)

	history, err := runs.ListByCredential(ctx, cred.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, run := range history {
		if run.ID == stale.ID {
			require.Equal(t, domain.SyncRunFailed, run.Status)
		}
	}
}

func TestExternalRecordUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t, ctx)
	creds := NewCredentialRepository(pool)
	records := NewExternalRecordRepository(pool)

	cred := seedCredential(t, ctx, creds)
	now := time.Now().UTC()

	rec := domain.ExternalRecord{
		ID:           uuid.NewString(),
		CredentialID: cred.ID,
		ExternalID:   "ext-1",
		Name:         "Morning Lift",
		ActivityType: "strength_training",
		StartedAt:    now.Add(-time.Hour),
		RawData:      []byte(`{"id":1}`),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	stored, created, err := records.Upsert(ctx, rec)
	require.NoError(t, err)
	require.True(t, created)

	// Import it, then re-ingest: descriptive refresh must not clear the flag.
	imported, err := records.MarkImported(ctx, stored.ID, uuid.NewString())
	require.NoError(t, err)
	require.True(t, imported)

	rec.ID = uuid.NewString()
	rec.Name = "Morning Lift (renamed)"
	again, created, err := records.Upsert(ctx, rec)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, stored.ID, again.ID)
	require.Equal(t, "Morning Lift (renamed)", again.Name)
	require.True(t, again.IsImported)
	require.NotNil(t, again.ImportedSessionID)

	// Import happens at most once.
	imported, err = records.MarkImported(ctx, stored.ID, uuid.NewString())
	require.NoError(t, err)
	require.False(t, imported)
}

func TestSessionCreatorWritesSessionAndOutboxAtomically(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t, ctx)
	creds := NewCredentialRepository(pool)
	records := NewExternalRecordRepository(pool)
	sessions := NewSessionCreator(pool)

	cred := seedCredential(t, ctx, creds)
	now := time.Now().UTC()

	stored, _, err := records.Upsert(ctx, domain.ExternalRecord{
		ID:           uuid.NewString(),
		CredentialID: cred.ID,
		ExternalID:   "ext-1",
		Name:         "Morning Lift",
		ActivityType: "strength_training",
		StartedAt:    now.Add(-time.Hour),
		RawData:      []byte(`{"id":1}`),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)

	sessionID, err := sessions.CreateFromRecord(ctx, *cred, *stored)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	var sessionCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM workout_sessions WHERE session_id = $1`, sessionID).Scan(&sessionCount))
	require.Equal(t, 1, sessionCount)

	var eventType string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT event_type FROM outbox WHERE aggregate_id = $1`, sessionID).Scan(&eventType))
	require.Equal(t, "workout.imported", eventType)

	// The dedupe key blocks a second event for the same record.
	_, err = sessions.CreateFromRecord(ctx, *cred, *stored)
	require.NoError(t, err)

	var outboxCount int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE event_type = 'workout.imported'`).Scan(&outboxCount))
	require.Equal(t, 1, outboxCount, "dedupe key must hold")
}
