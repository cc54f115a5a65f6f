package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/buildwatch/internal/api/response"
	"github.com/kiranshivaraju/buildwatch/internal/pipeline"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

// maxWebhookBytes bounds the service hook payload read from the request.
const maxWebhookBytes = 1 << 20

// Ingester defines the interface the webhook handler depends on.
type Ingester interface {
	Ingest(ctx context.Context, event models.BuildEvent) (pipeline.Decision, error)
}

type ingestResponse struct {
	Status  string `json:"status"`
	BuildID string `json:"build_id"`
	Reason  string `json:"reason,omitempty"`
}

// NewWebhookHandler returns an http.HandlerFunc for POST /api/v1/webhooks/build.
// It answers before any analysis runs.
func NewWebhookHandler(ing Ingester, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unable to read request body", nil)
			return
		}

		event, err := pipeline.ParseWebhook(body, now())
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		decision, err := ing.Ingest(r.Context(), event)
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrQueueFull):
				w.Header().Set("Retry-After", "5")
				response.Error(w, http.StatusServiceUnavailable, "QUEUE_FULL",
					"Analysis queue is full, retry later", nil)
			case errors.Is(err, pipeline.ErrShuttingDown):
				response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN",
					"Server is shutting down", nil)
			default:
				slog.Error("ingest failed", "build_id", event.BuildID, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		switch decision {
		case pipeline.DecisionAccepted:
			response.Accepted(w, ingestResponse{Status: string(decision), BuildID: event.BuildID})
		case pipeline.DecisionDuplicate:
			response.JSON(w, ingestResponse{
				Status:  "skipped",
				BuildID: event.BuildID,
				Reason:  "duplicate",
			})
		default:
			response.JSON(w, ingestResponse{
				Status:  "skipped",
				BuildID: event.BuildID,
				Reason:  "status " + string(event.Status) + " needs no analysis",
			})
		}
	}
}
