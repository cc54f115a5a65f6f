package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/buildwatch/internal/api/response"
)

// Pinger is anything whose connectivity can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports store connectivity and the completed count.
type HealthChecker interface {
	Pinger
	CountCompleted(ctx context.Context) (int, error)
}

// HealthInfo describes the running service in the health payload.
type HealthInfo struct {
	Service string
	Model   string
}

// NewHealthHandler checks database and cache connectivity. A nil cache is
// reported as disabled and never degrades the result.
func NewHealthHandler(s HealthChecker, c Pinger, info HealthInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "disabled",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if c != nil {
			checks["cache"] = "ok"
			if err := c.Ping(r.Context()); err != nil {
				checks["cache"] = "degraded"
			}
		}

		if checks["database"] != "ok" || checks["cache"] == "degraded" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		processed, err := s.CountCompleted(r.Context())
		if err != nil {
			processed = -1
		}

		response.JSON(w, map[string]any{
			"status":           "alive",
			"service":          info.Service,
			"model":            info.Model,
			"builds_processed": processed,
			"services":         checks,
		})
	}
}
