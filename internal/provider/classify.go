package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"example.com/integrations/internal/domain"
)

// ClassifyResponse maps non-2xx provider responses onto the engine's error
// taxonomy. 429 honors a Retry-After hint when the provider sends one.
func ClassifyResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitedError{RetryAfter: retryAfter(resp.Header)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrInvalidGrant)
	default:
		return fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrProviderUnavailable)
	}
}

func retryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
