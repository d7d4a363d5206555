package domain

import (
	"context"
	"encoding/json"
	"time"
)

// CanonicalActivity is the provider-agnostic shape all adapters normalize into.
// Distances are meters, durations are minutes; the core never sees
// provider-native units.
type CanonicalActivity struct {
	ExternalID     string
	Name           string
	ActivityType   string
	StartedAt      time.Time
	EndedAt        *time.Time
	DurationMin    *float64
	DistanceMeters *float64
	Calories       *int
	Raw            json.RawMessage
}

// ExternalRecord is a canonical imported activity persisted per credential.
// (credential_id, external_id) is unique at the storage layer; that key makes
// repeated ingestion of the same provider object a no-op on replay.
type ExternalRecord struct {
	ID             string
	CredentialID   string
	ExternalID     string
	Name           string
	ActivityType   string
	StartedAt      time.Time
	EndedAt        *time.Time
	DurationMin    *float64
	DistanceMeters *float64
	Calories       *int
	IsImported     bool
	// ImportedSessionID is set once, when the record is imported into an
	// application workout session.
	ImportedSessionID *string
	RawData           json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExternalRecordRepository captures persistence operations on external records.
type ExternalRecordRepository interface {
	// Upsert inserts the record or, when (credential_id, external_id) already
	// exists, refreshes descriptive fields only, leaving is_imported and
	// imported_session_id untouched. created reports whether a new row was
	// inserted.
	Upsert(ctx context.Context, rec ExternalRecord) (stored *ExternalRecord, created bool, err error)
	Get(ctx context.Context, id string) (*ExternalRecord, error)
	// MarkImported transitions the record to imported at most once. It
	// returns false when the record was already imported.
	MarkImported(ctx context.Context, id, sessionID string) (bool, error)
	ListByCredential(ctx context.Context, credentialID string, limit int) ([]ExternalRecord, error)
}

// WorkoutSessionCreator turns an external record into an application-native
// workout session. The session store itself lives outside the sync engine.
type WorkoutSessionCreator interface {
	CreateFromRecord(ctx context.Context, cred Credential, rec ExternalRecord) (sessionID string, err error)
}
