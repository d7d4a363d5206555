package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Skipper reports whether a request bypasses bearer-token checks. Webhook
// deliveries and the OAuth browser callback carry no Authorization header;
// they authenticate by provider signature and signed state instead.
type Skipper func(r *http.Request) bool

// Middleware validates bearer tokens and injects the resulting Claims into
// the request context.
type Middleware struct {
	cfg     Config
	skipper Skipper
}

// NewMiddleware constructs a Middleware with an optional skipper.
func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{cfg: cfg, skipper: skipper}
}

// Wrap enforces authentication on every request the skipper does not excuse.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper != nil && m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := bearerToken(r)
		if err == nil {
			var claims *Claims
			if claims, err = Parse(token, m.cfg); err == nil {
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Bearer realm="integrations"`)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "detail": err.Error()})
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}
