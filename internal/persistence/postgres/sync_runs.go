package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/integrations/internal/domain"
)

// SyncRunRepository is the Postgres-backed domain.SyncRunRepository.
type SyncRunRepository struct {
	pool *pgxpool.Pool
}

// NewSyncRunRepository constructs a SyncRunRepository.
func NewSyncRunRepository(pool *pgxpool.Pool) *SyncRunRepository {
	return &SyncRunRepository{pool: pool}
}

// Begin claims the per-credential run slot. The partial unique index on
// running rows makes the claim atomic across processes; a conflicting insert
// is reported as started=false, never as an error. Stale running rows older
// than staleAfter are reclaimed first.
func (r *SyncRunRepository) Begin(ctx context.Context, run domain.SyncRun, staleAfter time.Duration) (bool, error) {
	const reclaim = `UPDATE sync_runs
        SET status = 'failed', completed_at = NOW(), error_message = 'stale running run reclaimed'
        WHERE credential_id = $1 AND status = 'running' AND started_at < NOW() - $2::interval`
	if _, err := r.pool.Exec(ctx, reclaim, run.CredentialID, staleAfter); err != nil {
		return false, err
	}

	const insert = `INSERT INTO sync_runs (run_id, credential_id, status, trigger_kind, started_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (credential_id) WHERE status = 'running' DO NOTHING`
	tag, err := r.pool.Exec(ctx, insert, run.ID, run.CredentialID, run.Status, run.Trigger, run.StartedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Finalize writes the terminal state of a run. Finalized rows are never
// mutated again; the status guard keeps a reclaimed run from resurrecting.
func (r *SyncRunRepository) Finalize(ctx context.Context, run domain.SyncRun) error {
	const stmt = `UPDATE sync_runs
        SET status = $2, completed_at = $3, records_processed = $4, records_imported = $5,
            records_skipped = $6, error_message = $7, cursor_after = $8
        WHERE run_id = $1 AND status = 'running'`
	_, err := r.pool.Exec(ctx, stmt,
		run.ID,
		run.Status,
		run.CompletedAt,
		run.RecordsProcessed,
		run.RecordsImported,
		run.RecordsSkipped,
		run.ErrorMessage,
		run.CursorAfter,
	)
	return err
}

// ListByCredential returns the most recent runs for a credential.
func (r *SyncRunRepository) ListByCredential(ctx context.Context, credentialID string, limit int) ([]domain.SyncRun, error) {
	const query = `SELECT run_id, credential_id, status, trigger_kind, started_at, completed_at,
            records_processed, records_imported, records_skipped, error_message, cursor_after
        FROM sync_runs WHERE credential_id = $1 ORDER BY started_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, credentialID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.SyncRun
	for rows.Next() {
		var run domain.SyncRun
		if err := rows.Scan(
			&run.ID,
			&run.CredentialID,
			&run.Status,
			&run.Trigger,
			&run.StartedAt,
			&run.CompletedAt,
			&run.RecordsProcessed,
			&run.RecordsImported,
			&run.RecordsSkipped,
			&run.ErrorMessage,
			&run.CursorAfter,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
