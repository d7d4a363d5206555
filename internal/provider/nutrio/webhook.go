package nutrio

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"example.com/integrations/internal/domain"
)

// Verifier matches the X-Nutrio-Verify header against the shared token in
// constant time.
type Verifier struct {
	Token string
}

// Verify authenticates the request before the body is interpreted.
func (v *Verifier) Verify(header http.Header, _ []byte) error {
	got := header.Get("X-Nutrio-Verify")
	if subtle.ConstantTimeCompare([]byte(got), []byte(v.Token)) != 1 {
		return fmt.Errorf("nutrio: verify token mismatch: %w", domain.ErrVerificationFailed)
	}
	return nil
}

// Parser extracts canonical events and answers subscription handshakes.
type Parser struct {
	VerifyToken string
}

type notification struct {
	CollectionType string `json:"collectionType"`
	Date           string `json:"date"`
	OwnerID        string `json:"ownerId"`
	LogID          int64  `json:"logId"`
}

// ParseEvent decodes a verified webhook body. Nutrio batches notifications;
// the first entry drives the sync trigger since one pull pass covers all of
// them anyway.
func (p *Parser) ParseEvent(body []byte) (*domain.WebhookEvent, error) {
	var batch []notification
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("nutrio: parsing notifications: %w", err)
	}
	if len(batch) == 0 || batch[0].OwnerID == "" {
		return nil, fmt.Errorf("nutrio: empty or unowned notification batch")
	}

	first := batch[0]
	eventTime := time.Now().UTC()
	if at, err := time.Parse("2006-01-02", first.Date); err == nil {
		eventTime = at
	}
	return &domain.WebhookEvent{
		Provider:         Name,
		ExternalUserID:   first.OwnerID,
		ExternalObjectID: fmt.Sprintf("%d", first.LogID),
		EventType:        first.CollectionType + ".updated",
		EventTime:        eventTime,
	}, nil
}

// Handshake answers Nutrio's subscriber verification: the verify query
// parameter must equal the shared token.
func (p *Parser) Handshake(query url.Values) ([]byte, bool) {
	if query.Get("verify") != p.VerifyToken {
		return nil, false
	}
	return []byte("ok"), true
}
