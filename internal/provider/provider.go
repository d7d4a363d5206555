// Package provider defines the capability contract each external fitness
// service implements, and the registry the core resolves providers through.
package provider

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"example.com/integrations/internal/domain"
)

// Profile is the provider's view of the connected user, fetched once at
// connect time for display purposes.
type Profile struct {
	ExternalUserID string
	DisplayName    string
}

// Page is one batch of activities pulled from a provider. Malformed counts
// page items that failed to parse and were skipped.
type Page struct {
	Activities []domain.CanonicalActivity
	NextCursor string
	HasMore    bool
	Malformed  int
}

// Adapter translates one provider's REST responses into canonical records.
// Implementations are stateless: a pure function of (token, parameters).
type Adapter interface {
	// FetchProfile is used only at connect time; failures are non-fatal to
	// the sync path.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
	// FetchActivitiesSince pulls records newer than the opaque cursor. Safe
	// to call repeatedly with the same cursor. A malformed page item is
	// skipped and counted, never fatal to the page.
	FetchActivitiesSince(ctx context.Context, accessToken, cursor string, pageSize int) (*Page, error)
}

// WebhookVerifier authenticates an inbound webhook request before its body is
// interpreted. CPU-only; never touches the network.
type WebhookVerifier interface {
	Verify(header http.Header, body []byte) error
}

// WebhookParser extracts the canonical event from a verified webhook body and
// answers subscription handshakes.
type WebhookParser interface {
	ParseEvent(body []byte) (*domain.WebhookEvent, error)
	// Handshake answers the provider's one-time subscription verification
	// from the request query. ok is false when the challenge is rejected.
	Handshake(query url.Values) (response []byte, ok bool)
}

// Bundle groups everything the core needs for one provider: the adapter, the
// webhook scheme, and the OAuth endpoint set.
type Bundle struct {
	Name     string
	Adapter  Adapter
	Verifier WebhookVerifier
	Parser   WebhookParser
	OAuth    *oauth2.Config
	// RevokeURL is the provider's token revocation endpoint; empty when the
	// provider has none.
	RevokeURL string
}

// Registry maps provider identifiers to their capability bundles. Resolved
// once at startup; adding a provider never touches the orchestrator,
// scheduler, or webhook ingestor.
type Registry struct {
	bundles map[string]*Bundle
}

// NewRegistry builds a Registry from the given bundles.
func NewRegistry(bundles ...*Bundle) *Registry {
	r := &Registry{bundles: make(map[string]*Bundle, len(bundles))}
	for _, b := range bundles {
		r.bundles[b.Name] = b
	}
	return r
}

// Lookup resolves a provider identifier.
func (r *Registry) Lookup(name string) (*Bundle, error) {
	b, ok := r.bundles[name]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return b, nil
}

// Names lists the registered provider identifiers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.bundles))
	for name := range r.bundles {
		names = append(names, name)
	}
	return names
}

// NewHTTPClient returns the http.Client adapters use for provider calls, with
// the bounded per-call timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
