package strive

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"example.com/integrations/internal/domain"
)

// Verifier checks the X-Strive-Signature header: "sha256=" followed by the
// hex HMAC-SHA256 of the raw request body under the shared webhook secret.
type Verifier struct {
	Secret string
}

// Verify authenticates the request before the body is interpreted.
func (v *Verifier) Verify(header http.Header, body []byte) error {
	sig := header.Get("X-Strive-Signature")
	if !strings.HasPrefix(sig, "sha256=") {
		return fmt.Errorf("strive: missing signature header: %w", domain.ErrVerificationFailed)
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	if err != nil {
		return fmt.Errorf("strive: malformed signature: %w", domain.ErrVerificationFailed)
	}

	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return fmt.Errorf("strive: signature mismatch: %w", domain.ErrVerificationFailed)
	}
	return nil
}

// Parser extracts canonical events and answers subscription handshakes.
type Parser struct {
	VerifyToken string
}

type eventPayload struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	OwnerID    int64  `json:"owner_id"`
	AspectType string `json:"aspect_type"`
	EventTime  int64  `json:"event_time"`
}

// ParseEvent decodes a verified webhook body.
func (p *Parser) ParseEvent(body []byte) (*domain.WebhookEvent, error) {
	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("strive: parsing event: %w", err)
	}
	if payload.OwnerID == 0 || payload.ObjectID == 0 {
		return nil, fmt.Errorf("strive: event missing owner_id or object_id")
	}
	return &domain.WebhookEvent{
		Provider:         Name,
		ExternalUserID:   strconv.FormatInt(payload.OwnerID, 10),
		ExternalObjectID: strconv.FormatInt(payload.ObjectID, 10),
		EventType:        payload.ObjectType + "." + payload.AspectType,
		EventTime:        time.Unix(payload.EventTime, 0).UTC(),
	}, nil
}

// Handshake answers Strive's subscription verification: when hub.verify_token
// matches, the hub.challenge is echoed back as JSON.
func (p *Parser) Handshake(query url.Values) ([]byte, bool) {
	if query.Get("hub.verify_token") != p.VerifyToken {
		return nil, false
	}
	resp, _ := json.Marshal(map[string]string{"hub.challenge": query.Get("hub.challenge")})
	return resp, true
}
