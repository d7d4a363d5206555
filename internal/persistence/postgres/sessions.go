package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/integrations/internal/domain"
)

// SessionCreator turns imported external records into application workout
// sessions. The session row and the outbox event announcing it are written in
// a single transaction, so downstream consumers never observe one without the
// other.
type SessionCreator struct {
	pool *pgxpool.Pool
}

// NewSessionCreator constructs a SessionCreator.
func NewSessionCreator(pool *pgxpool.Pool) *SessionCreator {
	return &SessionCreator{pool: pool}
}

// workoutImportedEvent is the payload published on the workout_events topic.
type workoutImportedEvent struct {
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id"`
	CredentialID string     `json:"credential_id"`
	RecordID     string     `json:"record_id"`
	Provider     string     `json:"provider"`
	ActivityType string     `json:"activity_type"`
	Name         string     `json:"name"`
	StartedAt    time.Time  `json:"started_at"`
	DurationMin  *float64   `json:"duration_min,omitempty"`
	ImportedAt   time.Time  `json:"imported_at"`
}

// CreateFromRecord implements domain.WorkoutSessionCreator.
func (s *SessionCreator) CreateFromRecord(ctx context.Context, cred domain.Credential, rec domain.ExternalRecord) (string, error) {
	sessionID := uuid.NewString()
	now := time.Now().UTC()

	payload, err := json.Marshal(workoutImportedEvent{
		SessionID:    sessionID,
		UserID:       cred.UserID,
		CredentialID: cred.ID,
		RecordID:     rec.ID,
		Provider:     cred.Provider,
		ActivityType: rec.ActivityType,
		Name:         rec.Name,
		StartedAt:    rec.StartedAt,
		DurationMin:  rec.DurationMin,
		ImportedAt:   now,
	})
	if err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	const insertSession = `INSERT INTO workout_sessions
        (session_id, user_id, name, activity_type, started_at, duration_min, source, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := tx.Exec(ctx, insertSession,
		sessionID,
		cred.UserID,
		rec.Name,
		rec.ActivityType,
		rec.StartedAt,
		rec.DurationMin,
		"import:"+cred.Provider,
		now,
	); err != nil {
		return "", err
	}

	// Dedupe on the record so a retried import never double-publishes.
	dedupeKey := fmt.Sprintf("%s:workout.imported", rec.ID)
	const insertOutbox = `INSERT INTO outbox
        (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ('workout_session', $1, 'workout.imported', 'workout_events', $2, $3, $4)
        ON CONFLICT (dedupe_key) DO NOTHING`
	if _, err := tx.Exec(ctx, insertOutbox, sessionID, cred.UserID, payload, dedupeKey); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return sessionID, nil
}
