package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/provider"
	"example.com/integrations/internal/provider/nutrio"
	"example.com/integrations/internal/provider/strive"
)

type captureDispatcher struct {
	events []domain.WebhookEvent
	err    error
}

func (c *captureDispatcher) TriggerWebhook(_ context.Context, event domain.WebhookEvent) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func testIngestor(t *testing.T, dispatcher Dispatcher) *Ingestor {
	t.Helper()
	registry := provider.NewRegistry(
		&provider.Bundle{
			Name:     strive.Name,
			Verifier: &strive.Verifier{Secret: "webhook-secret"},
			Parser:   &strive.Parser{VerifyToken: "verify-me"},
		},
		&provider.Bundle{
			Name:     nutrio.Name,
			Verifier: &nutrio.Verifier{Token: "shared-token"},
			Parser:   &nutrio.Parser{VerifyToken: "shared-token"},
		},
	)
	return NewIngestor(registry, dispatcher, log.New(logWriter{t}, "", 0))
}

type logWriter struct{ t *testing.T }

func (w logWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandleEventDispatchesVerifiedStriveEvent(t *testing.T) {
	dispatcher := &captureDispatcher{}
	ingestor := testIngestor(t, dispatcher)

	body := `{"object_type":"activity","object_id":42,"owner_id":9,"aspect_type":"create","event_time":1767250800}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/strive", strings.NewReader(body))
	req.Header.Set("X-Strive-Signature", sign("webhook-secret", []byte(body)))

	rr := httptest.NewRecorder()
	ingestor.HandleEvent(rr, req, "strive")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, dispatcher.events, 1)
	require.Equal(t, "strive", dispatcher.events[0].Provider)
	require.Equal(t, "9", dispatcher.events[0].ExternalUserID)
	require.Equal(t, "42", dispatcher.events[0].ExternalObjectID)
	require.Equal(t, "activity.create", dispatcher.events[0].EventType)
}

func TestHandleEventRejectsBadSignatureWithoutSideEffects(t *testing.T) {
	dispatcher := &captureDispatcher{}
	ingestor := testIngestor(t, dispatcher)

	body := `{"object_type":"activity","object_id":42,"owner_id":9,"aspect_type":"create","event_time":1767250800}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/strive", strings.NewReader(body))
	req.Header.Set("X-Strive-Signature", sign("wrong-secret", []byte(body)))

	rr := httptest.NewRecorder()
	ingestor.HandleEvent(rr, req, "strive")

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, dispatcher.events)
}

func TestHandleEventRejectsMissingSignature(t *testing.T) {
	dispatcher := &captureDispatcher{}
	ingestor := testIngestor(t, dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/strive", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	ingestor.HandleEvent(rr, req, "strive")

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, dispatcher.events)
}

func TestHandleEventUnknownProvider(t *testing.T) {
	dispatcher := &captureDispatcher{}
	ingestor := testIngestor(t, dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/polarsync", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	ingestor.HandleEvent(rr, req, "polarsync")

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, dispatcher.events)
}

func TestHandleEventRejectsVerifiedButUnparseableBody(t *testing.T) {
	dispatcher := &captureDispatcher{}
	ingestor := testIngestor(t, dispatcher)

	body := `{"object_type":"activity"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/strive", strings.NewReader(body))
	req.Header.Set("X-Strive-Signature", sign("webhook-secret", []byte(body)))

	rr := httptest.NewRecorder()
	ingestor.HandleEvent(rr, req, "strive")

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, dispatcher.events)
}

func TestHandleEventAsksForRedeliveryOnDispatchFailure(t *testing.T) {
	dispatcher := &captureDispatcher{err: errors.New("store down")}
	ingestor := testIngestor(t, dispatcher)

	body := `{"object_type":"activity","object_id":42,"owner_id":9,"aspect_type":"create","event_time":1767250800}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/strive", strings.NewReader(body))
	req.Header.Set("X-Strive-Signature", sign("webhook-secret", []byte(body)))

	rr := httptest.NewRecorder()
	ingestor.HandleEvent(rr, req, "strive")

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleEventDispatchesNutrioBatch(t *testing.T) {
	dispatcher := &captureDispatcher{}
	ingestor := testIngestor(t, dispatcher)

	body := `[{"collectionType":"activities","date":"2026-03-01","ownerId":"NU123","logId":7}]`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/nutrio", strings.NewReader(body))
	req.Header.Set("X-Nutrio-Verify", "shared-token")

	rr := httptest.NewRecorder()
	ingestor.HandleEvent(rr, req, "nutrio")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, dispatcher.events, 1)
	require.Equal(t, "NU123", dispatcher.events[0].ExternalUserID)
	require.Equal(t, "activities.updated", dispatcher.events[0].EventType)
}

func TestHandleHandshakeEchoesStriveChallenge(t *testing.T) {
	ingestor := testIngestor(t, &captureDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/strive?hub.verify_token=verify-me&hub.challenge=ch-123", nil)
	rr := httptest.NewRecorder()
	ingestor.HandleHandshake(rr, req, "strive")

	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"hub.challenge":"ch-123"}`, rr.Body.String())
}

func TestHandleHandshakeRejectsWrongToken(t *testing.T) {
	ingestor := testIngestor(t, &captureDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/strive?hub.verify_token=nope&hub.challenge=ch-123", nil)
	rr := httptest.NewRecorder()
	ingestor.HandleHandshake(rr, req, "strive")

	require.Equal(t, http.StatusNotFound, rr.Code)
}
