package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/integrations/internal/domain"
)

const recordColumns = `record_id, credential_id, external_id, name, activity_type, started_at, ended_at,
    duration_min, distance_meters, calories, is_imported, imported_session_id, raw_data, created_at, updated_at`

// ExternalRecordRepository is the Postgres-backed domain.ExternalRecordRepository.
type ExternalRecordRepository struct {
	pool *pgxpool.Pool
}

// NewExternalRecordRepository constructs an ExternalRecordRepository.
func NewExternalRecordRepository(pool *pgxpool.Pool) *ExternalRecordRepository {
	return &ExternalRecordRepository{pool: pool}
}

// Upsert inserts the record or refreshes descriptive fields of the existing
// (credential_id, external_id) row. Import state is never touched by the
// update arm. The xmax=0 check distinguishes a fresh insert from a conflict
// update without a second round trip.
func (r *ExternalRecordRepository) Upsert(ctx context.Context, rec domain.ExternalRecord) (*domain.ExternalRecord, bool, error) {
	const stmt = `INSERT INTO external_records
        (record_id, credential_id, external_id, name, activity_type, started_at, ended_at,
         duration_min, distance_meters, calories, raw_data, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (credential_id, external_id) DO UPDATE SET
            name            = EXCLUDED.name,
            activity_type   = EXCLUDED.activity_type,
            started_at      = EXCLUDED.started_at,
            ended_at        = EXCLUDED.ended_at,
            duration_min    = EXCLUDED.duration_min,
            distance_meters = EXCLUDED.distance_meters,
            calories        = EXCLUDED.calories,
            raw_data        = EXCLUDED.raw_data,
            updated_at      = NOW()
        RETURNING ` + recordColumns + `, (xmax = 0) AS inserted`

	row := r.pool.QueryRow(ctx, stmt,
		rec.ID,
		rec.CredentialID,
		rec.ExternalID,
		rec.Name,
		rec.ActivityType,
		rec.StartedAt,
		rec.EndedAt,
		rec.DurationMin,
		rec.DistanceMeters,
		rec.Calories,
		rec.RawData,
		rec.CreatedAt,
		rec.UpdatedAt,
	)

	var stored domain.ExternalRecord
	var inserted bool
	if err := row.Scan(
		&stored.ID,
		&stored.CredentialID,
		&stored.ExternalID,
		&stored.Name,
		&stored.ActivityType,
		&stored.StartedAt,
		&stored.EndedAt,
		&stored.DurationMin,
		&stored.DistanceMeters,
		&stored.Calories,
		&stored.IsImported,
		&stored.ImportedSessionID,
		&stored.RawData,
		&stored.CreatedAt,
		&stored.UpdatedAt,
		&inserted,
	); err != nil {
		return nil, false, err
	}
	return &stored, inserted, nil
}

// Get retrieves a record by id.
func (r *ExternalRecordRepository) Get(ctx context.Context, id string) (*domain.ExternalRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM external_records WHERE record_id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// MarkImported sets the import state at most once: the is_imported guard
// makes the transition a no-op for already-imported rows.
func (r *ExternalRecordRepository) MarkImported(ctx context.Context, id, sessionID string) (bool, error) {
	const stmt = `UPDATE external_records
        SET is_imported = TRUE, imported_session_id = $2, updated_at = NOW()
        WHERE record_id = $1 AND NOT is_imported`
	tag, err := r.pool.Exec(ctx, stmt, id, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByCredential returns the most recently started records for a credential.
func (r *ExternalRecordRepository) ListByCredential(ctx context.Context, credentialID string, limit int) ([]domain.ExternalRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM external_records
        WHERE credential_id = $1 ORDER BY started_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, credentialID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ExternalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.ExternalRecord, error) {
	var rec domain.ExternalRecord
	err := row.Scan(
		&rec.ID,
		&rec.CredentialID,
		&rec.ExternalID,
		&rec.Name,
		&rec.ActivityType,
		&rec.StartedAt,
		&rec.EndedAt,
		&rec.DurationMin,
		&rec.DistanceMeters,
		&rec.Calories,
		&rec.IsImported,
		&rec.ImportedSessionID,
		&rec.RawData,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
