// Package oauth manages the credential token lifecycle: authorization URLs,
// code exchange, refresh, and revocation against each provider's endpoints.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/provider"
)

// TokenSet is the result of a successful code exchange. RefreshToken and
// ExpiresAt are optional: some providers omit refresh tokens, and an absent
// expiry means the token does not expire or the provider did not say.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

// Manager drives OAuth flows for every registered provider. Endpoint sets are
// resolved through the capability registry, never by provider-specific
// branching.
type Manager struct {
	registry    *provider.Registry
	creds       domain.CredentialRepository
	client      *http.Client
	stateSecret []byte
	stateTTL    time.Duration
	refreshSkew time.Duration
	logger      *log.Logger
}

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithLogger overrides the logger used to report refresh and revoke outcomes.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithStateTTL overrides how long an issued state parameter stays valid.
func WithStateTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.stateTTL = ttl }
}

// NewManager constructs a Manager. refreshSkew is how close to expiry a token
// must be before RefreshIfNeeded acts.
func NewManager(registry *provider.Registry, creds domain.CredentialRepository, client *http.Client, stateSecret string, refreshSkew time.Duration, opts ...Option) *Manager {
	m := &Manager{
		registry:    registry,
		creds:       creds,
		client:      client,
		stateSecret: []byte(stateSecret),
		stateTTL:    10 * time.Minute,
		refreshSkew: refreshSkew,
		logger:      log.New(log.Writer(), "[oauth] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BuildAuthorizationURL constructs the provider's consent URL with a signed
// state parameter binding the initiating user. No side effects.
func (m *Manager) BuildAuthorizationURL(providerName, userID, redirectURL string) (string, error) {
	bundle, err := m.registry.Lookup(providerName)
	if err != nil {
		return "", err
	}
	state, err := signState(m.stateSecret, providerName, userID, m.stateTTL)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}

	cfg := *bundle.OAuth
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// ExchangeCode validates the state, trades the authorization code for tokens,
// and returns the token set plus the user the state was issued for. A
// provider rejection surfaces ErrInvalidGrant and is not retried: the code is
// single-use and already consumed.
func (m *Manager) ExchangeCode(ctx context.Context, providerName, code, state string) (*TokenSet, string, error) {
	bundle, err := m.registry.Lookup(providerName)
	if err != nil {
		return nil, "", err
	}
	userID, err := verifyState(m.stateSecret, providerName, state)
	if err != nil {
		return nil, "", fmt.Errorf("%v: %w", err, domain.ErrInvalidGrant)
	}

	token, err := bundle.OAuth.Exchange(m.httpContext(ctx), code)
	if err != nil {
		return nil, "", classifyOAuthError("exchanging code", err)
	}
	return tokenSet(token), userID, nil
}

// FetchProfile resolves the provider and fetches the connected user's profile
// with a freshly issued access token.
func (m *Manager) FetchProfile(ctx context.Context, providerName, accessToken string) (*provider.Profile, error) {
	bundle, err := m.registry.Lookup(providerName)
	if err != nil {
		return nil, err
	}
	return bundle.Adapter.FetchProfile(ctx, accessToken)
}

// RefreshIfNeeded refreshes the credential's tokens when they expire within
// the configured skew. A permanent rejection deactivates the credential and
// surfaces ErrCredentialRevoked: refresh tokens do not self-heal.
func (m *Manager) RefreshIfNeeded(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	if !cred.TokenExpiringWithin(m.refreshSkew) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		// Expiring token with nothing to refresh it with.
		return nil, m.revokeLocal(ctx, cred)
	}

	bundle, err := m.registry.Lookup(cred.Provider)
	if err != nil {
		return nil, err
	}

	source := bundle.OAuth.TokenSource(m.httpContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := source.Token()
	if err != nil {
		classified := classifyOAuthError("refreshing token", err)
		if errors.Is(classified, domain.ErrInvalidGrant) {
			return nil, m.revokeLocal(ctx, cred)
		}
		return nil, classified
	}

	set := tokenSet(token)
	if set.RefreshToken == "" {
		set.RefreshToken = cred.RefreshToken
	}
	if err := m.creds.UpdateTokens(ctx, cred.ID, set.AccessToken, set.RefreshToken, set.ExpiresAt); err != nil {
		return nil, fmt.Errorf("persisting refreshed tokens: %w", err)
	}

	updated := *cred
	updated.AccessToken = set.AccessToken
	updated.RefreshToken = set.RefreshToken
	updated.TokenExpiresAt = set.ExpiresAt
	m.logger.Printf("refreshed token for credential %s (%s)", cred.ID, cred.Provider)
	return &updated, nil
}

// Revoke deauthorizes the credential at the provider, best effort, and
// deactivates it locally regardless: local state must not depend on a third
// party's liveness.
func (m *Manager) Revoke(ctx context.Context, cred *domain.Credential) error {
	bundle, err := m.registry.Lookup(cred.Provider)
	if err != nil {
		return err
	}

	if bundle.RevokeURL != "" {
		form := url.Values{}
		form.Set("token", cred.AccessToken)
		form.Set("client_id", bundle.OAuth.ClientID)
		form.Set("client_secret", bundle.OAuth.ClientSecret)

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, bundle.RevokeURL, strings.NewReader(form.Encode()))
		if reqErr == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if resp, doErr := m.client.Do(req); doErr != nil {
				m.logger.Printf("remote revoke failed for credential %s: %v", cred.ID, doErr)
			} else {
				resp.Body.Close()
			}
		}
	}

	return m.creds.Deactivate(ctx, cred.ID)
}

func (m *Manager) revokeLocal(ctx context.Context, cred *domain.Credential) error {
	if err := m.creds.Deactivate(ctx, cred.ID); err != nil {
		return fmt.Errorf("deactivating credential: %w", err)
	}
	m.logger.Printf("credential %s (%s) deactivated: refresh permanently rejected", cred.ID, cred.Provider)
	return domain.ErrCredentialRevoked
}

// httpContext pins the oauth2 transport to the manager's bounded client.
func (m *Manager) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

func tokenSet(token *oauth2.Token) *TokenSet {
	set := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		set.ExpiresAt = &expiry
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		set.Scopes = strings.Fields(strings.ReplaceAll(scope, ",", " "))
	}
	return set
}

func classifyOAuthError(op string, err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		switch {
		case retrieve.Response != nil && retrieve.Response.StatusCode == http.StatusTooManyRequests:
			return &domain.RateLimitedError{}
		case retrieve.Response != nil && retrieve.Response.StatusCode >= 500:
			return fmt.Errorf("%s: %v: %w", op, err, domain.ErrProviderUnavailable)
		default:
			return fmt.Errorf("%s: %v: %w", op, err, domain.ErrInvalidGrant)
		}
	}
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrProviderUnavailable)
}
