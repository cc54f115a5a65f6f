package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/buildwatch/internal/api/response"
	"github.com/kiranshivaraju/buildwatch/internal/cache"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// MetricsCacheTTL bounds how stale a cached metrics snapshot may be. Only a
// reset invalidates the cache early.
const MetricsCacheTTL = 2 * time.Second

// HistoryReader is the read side of the state store.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]*models.HistoryRecord, error)
	CountCompleted(ctx context.Context) (int, error)
	Metrics(ctx context.Context) (*models.Metrics, error)
}

// Resetter clears persisted state.
type Resetter interface {
	Reset(ctx context.Context) error
}

type historyResponse struct {
	Total  int                     `json:"total"`
	Recent []*models.HistoryRecord `json:"recent"`
}

// NewHistoryHandler returns an http.HandlerFunc for GET /api/v1/history.
func NewHistoryHandler(s HistoryReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		total, err := s.CountCompleted(r.Context())
		if err != nil {
			internalError(w, "count history", err)
			return
		}
		recent, err := s.Recent(r.Context(), limit)
		if err != nil {
			internalError(w, "read history", err)
			return
		}
		if recent == nil {
			recent = []*models.HistoryRecord{}
		}

		response.JSON(w, historyResponse{Total: total, Recent: recent})
	}
}

// NewMetricsHandler returns an http.HandlerFunc for GET /api/v1/metrics. When
// c is non-nil the summary is cached briefly; cache errors fall back to the store.
func NewMetricsHandler(s HistoryReader, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if c != nil {
			if raw, ok, err := c.Get(ctx, cache.MetricsKey()); err == nil && ok {
				var cached models.Metrics
				if json.Unmarshal(raw, &cached) == nil {
					response.JSON(w, cached)
					return
				}
			}
		}

		m, err := s.Metrics(ctx)
		if err != nil {
			internalError(w, "read metrics", err)
			return
		}

		if c != nil {
			if raw, err := json.Marshal(m); err == nil {
				if err := c.Set(ctx, cache.MetricsKey(), raw, MetricsCacheTTL); err != nil {
					slog.Warn("metrics cache write failed", "error", err)
				}
			}
		}

		response.JSON(w, m)
	}
}

// NewResetHandler returns an http.HandlerFunc for DELETE /api/v1/admin/history.
func NewResetHandler(s Resetter, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Reset(r.Context()); err != nil {
			internalError(w, "reset history", err)
			return
		}
		if c != nil {
			if err := c.Delete(r.Context(), cache.MetricsKey()); err != nil {
				slog.Warn("metrics cache invalidation failed", "error", err)
			}
		}
		slog.Info("history reset")
		response.JSON(w, map[string]string{"status": "reset"})
	}
}

func internalError(w http.ResponseWriter, op string, err error) {
	slog.Error(op+" failed", "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"An unexpected error occurred", nil)
}
