// Package postgres provides pgx-backed persistence for credentials, sync
// runs, external records, and the outbox.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/integrations/internal/domain"
)

const credentialColumns = `credential_id, user_id, provider, external_user_id, access_token, refresh_token,
    token_expires_at, is_active, connected_at, last_sync_at, sync_cursor, metadata, created_at, updated_at`

// CredentialRepository is the Postgres-backed domain.CredentialRepository.
type CredentialRepository struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository constructs a CredentialRepository.
func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

// Upsert inserts the credential, or refreshes tokens and reactivates the
// existing (user_id, provider) row on reconnect.
func (r *CredentialRepository) Upsert(ctx context.Context, cred domain.Credential) (*domain.Credential, error) {
	const stmt = `INSERT INTO integration_credentials
        (credential_id, user_id, provider, external_user_id, access_token, refresh_token,
         token_expires_at, is_active, connected_at, sync_cursor, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,$8,$9,$10)
        ON CONFLICT (user_id, provider) DO UPDATE SET
            external_user_id = EXCLUDED.external_user_id,
            access_token     = EXCLUDED.access_token,
            refresh_token    = EXCLUDED.refresh_token,
            token_expires_at = EXCLUDED.token_expires_at,
            is_active        = TRUE,
            connected_at     = EXCLUDED.connected_at,
            metadata         = EXCLUDED.metadata,
            updated_at       = NOW()
        RETURNING ` + credentialColumns

	row := r.pool.QueryRow(ctx, stmt,
		cred.ID,
		cred.UserID,
		cred.Provider,
		cred.ExternalUserID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.TokenExpiresAt,
		cred.ConnectedAt,
		cred.SyncCursor,
		cred.Metadata,
	)
	return scanCredential(row)
}

// Get retrieves a credential by id.
func (r *CredentialRepository) Get(ctx context.Context, id string) (*domain.Credential, error) {
	return r.queryOne(ctx, `SELECT `+credentialColumns+` FROM integration_credentials WHERE credential_id = $1`, id)
}

// FindByUserProvider retrieves the credential for (user, provider).
func (r *CredentialRepository) FindByUserProvider(ctx context.Context, userID, provider string) (*domain.Credential, error) {
	return r.queryOne(ctx, `SELECT `+credentialColumns+` FROM integration_credentials WHERE user_id = $1 AND provider = $2`, userID, provider)
}

// FindByExternalUser retrieves the credential a webhook event addresses.
func (r *CredentialRepository) FindByExternalUser(ctx context.Context, provider, externalUserID string) (*domain.Credential, error) {
	return r.queryOne(ctx, `SELECT `+credentialColumns+` FROM integration_credentials WHERE provider = $1 AND external_user_id = $2`, provider, externalUserID)
}

// ListByUser returns all of a user's credentials, active or not.
func (r *CredentialRepository) ListByUser(ctx context.Context, userID string) ([]domain.Credential, error) {
	return r.queryMany(ctx, `SELECT `+credentialColumns+` FROM integration_credentials WHERE user_id = $1 ORDER BY provider`, userID)
}

// ListActive returns every active credential; the scheduler reads this fresh
// on each sweep tick.
func (r *CredentialRepository) ListActive(ctx context.Context) ([]domain.Credential, error) {
	return r.queryMany(ctx, `SELECT `+credentialColumns+` FROM integration_credentials WHERE is_active ORDER BY created_at`)
}

// UpdateTokens persists refreshed token material.
func (r *CredentialRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	const stmt = `UPDATE integration_credentials
        SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = NOW()
        WHERE credential_id = $1`
	_, err := r.pool.Exec(ctx, stmt, id, accessToken, refreshToken, expiresAt)
	return err
}

// UpdateSyncState advances the cursor and last-sync watermark.
func (r *CredentialRepository) UpdateSyncState(ctx context.Context, id, cursor string, lastSyncAt time.Time) error {
	const stmt = `UPDATE integration_credentials
        SET sync_cursor = $2, last_sync_at = $3, updated_at = NOW()
        WHERE credential_id = $1`
	_, err := r.pool.Exec(ctx, stmt, id, cursor, lastSyncAt)
	return err
}

// Deactivate soft-deletes the credential; the row remains for audit.
func (r *CredentialRepository) Deactivate(ctx context.Context, id string) error {
	const stmt = `UPDATE integration_credentials SET is_active = FALSE, updated_at = NOW() WHERE credential_id = $1`
	_, err := r.pool.Exec(ctx, stmt, id)
	return err
}

func (r *CredentialRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*domain.Credential, error) {
	cred, err := scanCredential(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return cred, err
}

func (r *CredentialRepository) queryMany(ctx context.Context, query string, args ...interface{}) ([]domain.Credential, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	return creds, rows.Err()
}

func scanCredential(row pgx.Row) (*domain.Credential, error) {
	var cred domain.Credential
	err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Provider,
		&cred.ExternalUserID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.TokenExpiresAt,
		&cred.IsActive,
		&cred.ConnectedAt,
		&cred.LastSyncAt,
		&cred.SyncCursor,
		&cred.Metadata,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}
