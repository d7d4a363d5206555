// Package webhook ingests provider push notifications: it verifies request
// authenticity, extracts the canonical event, and hands it to the scheduler
// as an asynchronous sync trigger. Ingestion always returns before the
// triggered sync runs so a slow provider API can never time the webhook out.
package webhook

import (
	"context"
	"io"
	"log"
	"net/http"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/provider"
)

// maxBodyBytes bounds how much of an inbound webhook body is read before
// verification.
const maxBodyBytes = 1 << 20

// Dispatcher receives verified events for asynchronous execution.
type Dispatcher interface {
	TriggerWebhook(ctx context.Context, event domain.WebhookEvent) error
}

// Ingestor terminates inbound webhook requests for every registered provider.
type Ingestor struct {
	registry   *provider.Registry
	dispatcher Dispatcher
	logger     *log.Logger
}

// NewIngestor constructs an Ingestor.
func NewIngestor(registry *provider.Registry, dispatcher Dispatcher, logger *log.Logger) *Ingestor {
	if logger == nil {
		logger = log.New(log.Writer(), "[webhook] ", log.LstdFlags)
	}
	return &Ingestor{registry: registry, dispatcher: dispatcher, logger: logger}
}

// HandleEvent processes POST /webhooks/{provider}. The request walks
// Received → Verified → Parsed → Dispatched; verification or parse failures
// terminate it as Rejected without touching credential or record state.
func (i *Ingestor) HandleEvent(w http.ResponseWriter, r *http.Request, providerName string) {
	bundle, err := i.registry.Lookup(providerName)
	if err != nil {
		recordRejected(providerName, "unknown_provider")
		http.Error(w, "unknown provider", http.StatusBadRequest)
		return
	}
	recordReceived(providerName)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		recordRejected(providerName, "read_error")
		http.Error(w, "unable to read body", http.StatusBadRequest)
		return
	}

	// Reject before parsing: an unauthenticated body is never interpreted.
	if err := bundle.Verifier.Verify(r.Header, body); err != nil {
		recordRejected(providerName, "verification_failed")
		http.Error(w, "verification failed", http.StatusUnauthorized)
		return
	}

	event, err := bundle.Parser.ParseEvent(body)
	if err != nil {
		i.logger.Printf("%s: rejected unparseable event: %v", providerName, err)
		recordRejected(providerName, "parse_failed")
		http.Error(w, "unable to parse event", http.StatusBadRequest)
		return
	}

	if err := i.dispatcher.TriggerWebhook(r.Context(), *event); err != nil {
		// Dispatch failures are server-side; ask the provider to redeliver.
		i.logger.Printf("%s: dispatch failed for user %s: %v", providerName, event.ExternalUserID, err)
		recordRejected(providerName, "dispatch_failed")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	recordDispatched(providerName, event.EventType)
	w.WriteHeader(http.StatusOK)
}

// HandleHandshake processes GET /webhooks/{provider}: the provider's one-time
// subscription verification. Read-only, no side effects on credential or
// record state.
func (i *Ingestor) HandleHandshake(w http.ResponseWriter, r *http.Request, providerName string) {
	bundle, err := i.registry.Lookup(providerName)
	if err != nil {
		http.Error(w, "unknown provider", http.StatusBadRequest)
		return
	}

	response, ok := bundle.Parser.Handshake(r.URL.Query())
	if !ok {
		recordRejected(providerName, "handshake_failed")
		http.Error(w, "verification failed", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(response)
}
