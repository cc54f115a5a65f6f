package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/buildwatch/internal/api/middleware"
	"github.com/kiranshivaraju/buildwatch/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.TokenAuth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	WebhookHandler http.HandlerFunc
	HistoryHandler http.HandlerFunc
	MetricsHandler http.HandlerFunc
	ResetHandler   http.HandlerFunc

	// PrometheusHandler serves /metrics. Nil leaves the route unregistered.
	PrometheusHandler http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public routes
	r.Get("/", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/history", orNotImplemented(deps.HistoryHandler))
	r.Get("/api/v1/metrics", orNotImplemented(deps.MetricsHandler))
	if deps.PrometheusHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.PrometheusHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit)

			r.Post("/api/v1/webhooks/build", orNotImplemented(deps.WebhookHandler))
			r.Post("/analyze", orNotImplemented(deps.WebhookHandler))
		})

		r.Delete("/api/v1/admin/history", orNotImplemented(deps.ResetHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
