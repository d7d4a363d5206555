package sync

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/observability"
)

// Importer is the merge step: it upserts canonical activities into external
// records keyed by (credential_id, external_id), and applies the auto-import
// policy that turns recognized strength work into application workout
// sessions.
type Importer struct {
	records  domain.ExternalRecordRepository
	sessions domain.WorkoutSessionCreator
	// autoImport lists the normalized activity types imported into a
	// workout session without user action.
	autoImport map[string]struct{}
	logger     *log.Logger
}

// NewImporter constructs an Importer. autoImportTypes may be empty, which
// disables automatic session creation entirely.
func NewImporter(records domain.ExternalRecordRepository, sessions domain.WorkoutSessionCreator, autoImportTypes []string, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.New(log.Writer(), "[import] ", log.LstdFlags)
	}
	types := make(map[string]struct{}, len(autoImportTypes))
	for _, t := range autoImportTypes {
		types[t] = struct{}{}
	}
	return &Importer{records: records, sessions: sessions, autoImport: types, logger: logger}
}

// Merge upserts one canonical activity. created reports whether a new record
// row was inserted; re-ingesting a known external id refreshes descriptive
// fields only and reports created=false. Repeated merges of the same record
// therefore never duplicate rows or double-count imports.
func (i *Importer) Merge(ctx context.Context, cred domain.Credential, act domain.CanonicalActivity) (*domain.ExternalRecord, bool, error) {
	now := time.Now().UTC()
	rec, created, err := i.records.Upsert(ctx, domain.ExternalRecord{
		ID:             uuid.NewString(),
		CredentialID:   cred.ID,
		ExternalID:     act.ExternalID,
		Name:           act.Name,
		ActivityType:   act.ActivityType,
		StartedAt:      act.StartedAt,
		EndedAt:        act.EndedAt,
		DurationMin:    act.DurationMin,
		DistanceMeters: act.DistanceMeters,
		Calories:       act.Calories,
		RawData:        act.Raw,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		observability.RecordIngested(now)
	}

	if !rec.IsImported {
		if _, auto := i.autoImport[rec.ActivityType]; auto {
			i.importSession(ctx, cred, rec)
		}
	}
	return rec, created, nil
}

// ImportSession explicitly imports a record into a workout session,
// regardless of the auto-import policy. The transition happens at most once:
// a second attempt reports imported=false without error.
func (i *Importer) ImportSession(ctx context.Context, cred domain.Credential, rec *domain.ExternalRecord) (bool, error) {
	if rec.IsImported {
		return false, nil
	}
	sessionID, err := i.sessions.CreateFromRecord(ctx, cred, *rec)
	if err != nil {
		return false, err
	}
	imported, err := i.records.MarkImported(ctx, rec.ID, sessionID)
	if err != nil {
		return false, err
	}
	if imported {
		rec.IsImported = true
		rec.ImportedSessionID = &sessionID
		observability.RecordImported(time.Now().UTC())
	}
	return imported, nil
}

// importSession applies the policy path. Failures leave the record
// unimported; a later sync pass retries since is_imported is still false.
func (i *Importer) importSession(ctx context.Context, cred domain.Credential, rec *domain.ExternalRecord) {
	if _, err := i.ImportSession(ctx, cred, rec); err != nil {
		i.logger.Printf("auto-import failed for record %s (%s): %v", rec.ID, rec.ExternalID, err)
	}
}
