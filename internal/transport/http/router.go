// Package httptransport assembles the HTTP surface: the certificate
// endpoints, health and metrics, and the shared middleware chain.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certfsm/internal/certificate/handler"
	"certfsm/internal/platform/middleware"
	"certfsm/pkg/platform/httputil"
)

// Config carries the router's dependencies.
type Config struct {
	Handler *handler.Handler
	Logger  *slog.Logger
	// Validator guards mutating routes; nil disables authentication.
	Validator middleware.JWTValidator
	// RequestTimeout bounds each request; zero means 30s.
	RequestTimeout time.Duration
}

// NewRouter wires all endpoints behind the shared middleware chain. The
// certificate API requires a valid bearer token when a validator is
// configured; health and metrics stay open for probes and scrapers.
func NewRouter(cfg Config) http.Handler {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Timeout(timeout))

	r.Get("/", handleRoot)
	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.Validator, cfg.Logger))
		cfg.Handler.Register(r)
	})

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"service": "certfsm",
		"status":  "ok",
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
