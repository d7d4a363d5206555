package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidGrant indicates the provider rejected an authorization code
	// or refresh token. Not retryable: codes are single-use and refresh
	// tokens do not self-heal.
	ErrInvalidGrant = errors.New("provider rejected grant")

	// ErrProviderUnavailable indicates a transport error or 5xx from the
	// provider. Retryable on the next scheduler tick.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrCredentialRevoked indicates a refresh failed permanently and the
	// credential was deactivated. The user must reconnect.
	ErrCredentialRevoked = errors.New("credential revoked, reconnect required")

	// ErrCredentialNotFound is returned when a credential cannot be located.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrVerificationFailed indicates a webhook signature or token mismatch.
	ErrVerificationFailed = errors.New("webhook verification failed")

	// ErrUnknownProvider is returned for provider identifiers absent from
	// the capability registry.
	ErrUnknownProvider = errors.New("unknown provider")
)

// RateLimitedError signals provider throttling. Retried on the next scheduler
// tick, honoring the provider-supplied hint when present.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
	}
	return "provider rate limited"
}

// Retryable reports whether err can be retried by the scheduler on a later
// tick. Grant rejections and revocations are terminal.
func Retryable(err error) bool {
	var rl *RateLimitedError
	return errors.Is(err, ErrProviderUnavailable) || errors.As(err, &rl)
}
