// Package api exposes HTTP handlers for the integration service.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"example.com/integrations/internal/auth"
	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/oauth"
	"example.com/integrations/internal/webhook"
)

// SyncTrigger enqueues sync work without blocking the request path.
type SyncTrigger interface {
	TriggerSync(credentialID string, kind domain.Trigger) bool
}

// Handler coordinates HTTP requests with the integration core.
type Handler struct {
	creds        domain.CredentialRepository
	runs         domain.SyncRunRepository
	tokens       *oauth.Manager
	trigger      SyncTrigger
	ingestor     *webhook.Ingestor
	redirectBase string
	logger       *log.Logger
}

// NewHandler builds a Handler. redirectBase is the public base URL registered
// with the providers; OAuth redirect URIs are built from it.
func NewHandler(creds domain.CredentialRepository, runs domain.SyncRunRepository, tokens *oauth.Manager, trigger SyncTrigger, ingestor *webhook.Ingestor, redirectBase string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stdout, "api ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Handler{creds: creds, runs: runs, tokens: tokens, trigger: trigger, ingestor: ingestor, redirectBase: redirectBase, logger: logger}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/integrations", h.listIntegrations)
	r.Get("/v1/integrations/{provider}/connect", h.connect)
	r.Get("/v1/integrations/{provider}/oauth/callback", h.oauthCallback)
	r.Post("/v1/integrations/{id}/sync", h.triggerSync)
	r.Delete("/v1/integrations/{id}", h.disconnect)
	r.Get("/v1/integrations/{id}/runs", h.listRuns)

	r.Get("/webhooks/{provider}", h.webhookHandshake)
	r.Post("/webhooks/{provider}", h.webhookEvent)

	r.Get("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeIntegrationsWrite)
	if !ok {
		return
	}

	providerName := chi.URLParam(r, "provider")
	redirectURL := h.callbackURL(providerName)

	authURL, err := h.tokens.BuildAuthorizationURL(providerName, claims.UserID, redirectURL)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownProvider) {
			writeError(w, http.StatusNotFound, "unknown_provider", "no such provider: "+providerName)
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ConnectResponse{AuthorizationURL: authURL})
}

// oauthCallback is reached by browser redirect from the provider, so it
// carries no bearer token; identity is recovered from the signed state.
func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	query := r.URL.Query()

	if denied := query.Get("error"); denied != "" {
		writeError(w, http.StatusBadRequest, "authorization_denied", denied)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing code or state parameter")
		return
	}

	tokens, userID, err := h.tokens.ExchangeCode(r.Context(), providerName, code, state)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownProvider):
			writeError(w, http.StatusNotFound, "unknown_provider", "no such provider: "+providerName)
		case errors.Is(err, domain.ErrInvalidGrant):
			writeError(w, http.StatusBadRequest, "invalid_grant", "authorization code or state rejected")
		case domain.Retryable(err):
			writeError(w, http.StatusBadGateway, "provider_unavailable", "provider token endpoint unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}

	cred := domain.Credential{
		ID:           uuid.NewString(),
		UserID:       userID,
		Provider:     providerName,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ConnectedAt:  time.Now().UTC(),
	}
	if tokens.ExpiresAt != nil {
		expiry := tokens.ExpiresAt.UTC()
		cred.TokenExpiresAt = &expiry
	}

	// Profile lookup is cosmetic; a provider hiccup here must not lose the
	// tokens we just acquired.
	if profile, profileErr := h.tokens.FetchProfile(r.Context(), providerName, tokens.AccessToken); profileErr != nil {
		h.logger.Printf("profile fetch failed for user %s on %s: %v", userID, providerName, profileErr)
	} else {
		cred.ExternalUserID = profile.ExternalUserID
		if profile.DisplayName != "" {
			meta, _ := json.Marshal(map[string]string{"display_name": profile.DisplayName})
			cred.Metadata = meta
		}
	}

	stored, err := h.creds.Upsert(r.Context(), cred)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	queued := h.trigger.TriggerSync(stored.ID, domain.TriggerManual)
	if !queued {
		h.logger.Printf("initial sync for credential %s dropped: queue full", stored.ID)
	}

	writeJSON(w, http.StatusOK, ConnectCallbackResponse{
		Integration: toIntegrationView(*stored),
		SyncQueued:  queued,
	})
}

func (h *Handler) listIntegrations(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeIntegrationsRead, auth.ScopeIntegrationsWrite)
	if !ok {
		return
	}

	creds, err := h.creds.ListByUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]IntegrationView, 0, len(creds))
	for _, cred := range creds {
		items = append(items, toIntegrationView(cred))
	}
	writeJSON(w, http.StatusOK, ListIntegrationsResponse{Items: items})
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeIntegrationsWrite)
	if !ok {
		return
	}

	cred, ok := h.ownedCredential(w, r, claims)
	if !ok {
		return
	}
	if !cred.IsActive {
		writeError(w, http.StatusConflict, "integration_disconnected", "integration is disconnected")
		return
	}

	if !h.trigger.TriggerSync(cred.ID, domain.TriggerManual) {
		writeError(w, http.StatusServiceUnavailable, "queue_full", "sync queue is full, retry later")
		return
	}
	writeJSON(w, http.StatusAccepted, TriggerSyncResponse{CredentialID: cred.ID, Status: "queued"})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeIntegrationsWrite)
	if !ok {
		return
	}

	cred, ok := h.ownedCredential(w, r, claims)
	if !ok {
		return
	}

	if err := h.tokens.Revoke(r.Context(), cred); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeIntegrationsRead, auth.ScopeIntegrationsWrite)
	if !ok {
		return
	}

	cred, ok := h.ownedCredential(w, r, claims)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	runs, err := h.runs.ListByCredential(r.Context(), cred.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]SyncRunView, 0, len(runs))
	for _, run := range runs {
		items = append(items, toSyncRunView(run))
	}
	writeJSON(w, http.StatusOK, ListSyncRunsResponse{Items: items})
}

func (h *Handler) webhookEvent(w http.ResponseWriter, r *http.Request) {
	h.ingestor.HandleEvent(w, r, chi.URLParam(r, "provider"))
}

func (h *Handler) webhookHandshake(w http.ResponseWriter, r *http.Request) {
	h.ingestor.HandleHandshake(w, r, chi.URLParam(r, "provider"))
}

// ownedCredential loads the credential from the {id} route parameter and
// enforces that it belongs to the caller. Foreign credentials answer 404 so
// existence is not leaked.
func (h *Handler) ownedCredential(w http.ResponseWriter, r *http.Request, claims *auth.Claims) (*domain.Credential, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing integration id")
		return nil, false
	}

	cred, err := h.creds.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return nil, false
	}
	if cred == nil || cred.UserID != claims.UserID {
		writeError(w, http.StatusNotFound, "not_found", "integration not found")
		return nil, false
	}
	return cred, true
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+strings.Join(scopes, " or ")+" required")
	return nil, false
}

// callbackURL must byte-match the redirect URI registered on the provider
// bundle, so it comes from configuration, never from the inbound request.
func (h *Handler) callbackURL(providerName string) string {
	return strings.TrimRight(h.redirectBase, "/") + "/v1/integrations/" + providerName + "/oauth/callback"
}

// ConnectResponse carries the provider authorization URL to redirect to.
type ConnectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// ConnectCallbackResponse describes the stored connection after callback.
type ConnectCallbackResponse struct {
	Integration IntegrationView `json:"integration"`
	SyncQueued  bool            `json:"sync_queued"`
}

// IntegrationView exposes a connection without its token material.
type IntegrationView struct {
	ID             string     `json:"id"`
	Provider       string     `json:"provider"`
	ExternalUserID string     `json:"external_user_id,omitempty"`
	IsActive       bool       `json:"is_active"`
	ConnectedAt    time.Time  `json:"connected_at"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ListIntegrationsResponse packages list results.
type ListIntegrationsResponse struct {
	Items []IntegrationView `json:"items"`
}

// TriggerSyncResponse acknowledges an enqueued manual sync.
type TriggerSyncResponse struct {
	CredentialID string `json:"credential_id"`
	Status       string `json:"status"`
}

// SyncRunView exposes one sync run's outcome.
type SyncRunView struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Trigger          string     `json:"trigger"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsImported  int        `json:"records_imported"`
	RecordsSkipped   int        `json:"records_skipped"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// ListSyncRunsResponse packages run history.
type ListSyncRunsResponse struct {
	Items []SyncRunView `json:"items"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toIntegrationView(cred domain.Credential) IntegrationView {
	return IntegrationView{
		ID:             cred.ID,
		Provider:       cred.Provider,
		ExternalUserID: cred.ExternalUserID,
		IsActive:       cred.IsActive,
		ConnectedAt:    cred.ConnectedAt,
		LastSyncAt:     cred.LastSyncAt,
		CreatedAt:      cred.CreatedAt,
		UpdatedAt:      cred.UpdatedAt,
	}
}

func toSyncRunView(run domain.SyncRun) SyncRunView {
	return SyncRunView{
		ID:               run.ID,
		Status:           string(run.Status),
		Trigger:          string(run.Trigger),
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
		RecordsProcessed: run.RecordsProcessed,
		RecordsImported:  run.RecordsImported,
		RecordsSkipped:   run.RecordsSkipped,
		ErrorMessage:     run.ErrorMessage,
	}
}
