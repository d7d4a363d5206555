// Package domain defines the core types and contracts of the integration sync engine.
package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Credential is the stored OAuth connection binding one user to one provider.
// At most one active credential exists per (user, provider) pair; the pair is
// unique at the storage layer.
type Credential struct {
	ID             string
	UserID         string
	Provider       string
	ExternalUserID string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	IsActive       bool
	ConnectedAt    time.Time
	LastSyncAt     *time.Time
	// SyncCursor is an opaque provider-defined incremental-sync token.
	// Empty means full history has been requested.
	SyncCursor string
	Metadata   json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TokenExpiringWithin reports whether the access token expires inside the skew
// window. Credentials without an expiry never report as expiring.
func (c *Credential) TokenExpiringWithin(skew time.Duration) bool {
	if c.TokenExpiresAt == nil {
		return false
	}
	return time.Until(*c.TokenExpiresAt) < skew
}

// CredentialRepository captures persistence operations on credentials.
type CredentialRepository interface {
	// Upsert inserts the credential or, when a row for (user_id, provider)
	// already exists, refreshes its tokens, external user id, metadata and
	// reactivates it. The stored row is returned.
	Upsert(ctx context.Context, cred Credential) (*Credential, error)
	Get(ctx context.Context, id string) (*Credential, error)
	FindByUserProvider(ctx context.Context, userID, provider string) (*Credential, error)
	FindByExternalUser(ctx context.Context, provider, externalUserID string) (*Credential, error)
	ListByUser(ctx context.Context, userID string) ([]Credential, error)
	ListActive(ctx context.Context) ([]Credential, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
	UpdateSyncState(ctx context.Context, id, cursor string, lastSyncAt time.Time) error
	// Deactivate soft-deletes the credential. Rows are retained for audit
	// while sync runs reference them.
	Deactivate(ctx context.Context, id string) error
}
