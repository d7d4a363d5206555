// Package httptransport assembles the HTTP surface of the integration
// service: router, auth middleware, and server tunables.
package httptransport

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/integrations/internal/api"
	"example.com/integrations/internal/auth"
)

// ServerConfig contains tunables for the HTTP server.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates *http.Server with provided handler.
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// NewRouter wires the API handler behind bearer-token auth. Webhook
// endpoints, the OAuth callback, health and metrics bypass auth: providers
// and probes hold no platform tokens.
func NewRouter(handler *api.Handler, authCfg auth.Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	authMw := auth.NewMiddleware(authCfg, publicEndpoint)
	r.Use(func(next http.Handler) http.Handler { return authMw.Wrap(next) })

	handler.RegisterRoutes(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func publicEndpoint(r *http.Request) bool {
	path := r.URL.Path
	switch {
	case path == "/healthz", path == "/metrics":
		return true
	case strings.HasPrefix(path, "/webhooks/"):
		return true
	case strings.HasPrefix(path, "/v1/integrations/") && strings.HasSuffix(path, "/oauth/callback"):
		return true
	}
	return false
}
