package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kiranshivaraju/buildwatch/internal/observability"
	"github.com/kiranshivaraju/buildwatch/internal/store"
	"github.com/kiranshivaraju/buildwatch/internal/worker"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

var (
	// ErrQueueFull is returned by Ingest when no worker slot is free.
	ErrQueueFull = errors.New("ingestion queue full")
	// ErrShuttingDown is returned by Ingest once the worker pool is closed.
	ErrShuttingDown = errors.New("ingestion is shutting down")
)

// Decision is the synchronous answer given to the event sender.
type Decision string

const (
	DecisionAccepted  Decision = "accepted"
	DecisionIgnored   Decision = "ignored"
	DecisionDuplicate Decision = "duplicate"
)

// Submitter schedules background work without blocking.
type Submitter interface {
	Submit(task worker.Task) error
}

// Processor runs the analysis of one event.
type Processor interface {
	Process(ctx context.Context, event models.BuildEvent) Outcome
}

// Ingestor is the non-blocking front of the pipeline. It performs a fast
// duplicate check and schedules the analysis on the worker pool.
type Ingestor struct {
	store     store.Store
	processor Processor
	pool      Submitter
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewIngestor(s store.Store, processor Processor, pool Submitter, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{
		store:     s,
		processor: processor,
		pool:      pool,
		metrics:   metrics,
		logger:    slog.Default().With("component", "ingestor"),
	}
}

// Ingest decides whether event needs analysis and, if so, schedules it. The
// duplicate check here is advisory; the analyzer's lease is authoritative.
func (i *Ingestor) Ingest(ctx context.Context, event models.BuildEvent) (Decision, error) {
	log := i.logger.With("build_id", event.BuildID, "status", event.Status)

	if !event.Status.IsFailure() {
		i.metrics.IncEvent(string(DecisionIgnored))
		log.Info("event ignored")
		return DecisionIgnored, nil
	}

	if dup := i.seen(ctx, event.BuildID); dup {
		i.metrics.IncEvent(string(DecisionDuplicate))
		log.Info("duplicate event")
		return DecisionDuplicate, nil
	}

	err := i.pool.Submit(func(taskCtx context.Context) {
		out := i.processor.Process(taskCtx, event)
		i.logger.Info("analysis finished",
			"build_id", event.BuildID,
			"state", out.State,
			"severity", out.Result.Severity,
		)
	})
	switch {
	case errors.Is(err, worker.ErrQueueFull):
		i.metrics.IncEvent("rejected")
		return "", ErrQueueFull
	case errors.Is(err, worker.ErrPoolClosed):
		i.metrics.IncEvent("rejected")
		return "", ErrShuttingDown
	case err != nil:
		return "", err
	}

	i.metrics.IncEvent(string(DecisionAccepted))
	log.Info("event accepted")
	return DecisionAccepted, nil
}

// seen reports whether the build is already recorded or leased. Store errors
// count as not seen; the analyzer repeats both checks.
func (i *Ingestor) seen(ctx context.Context, buildID string) bool {
	done, err := i.store.HasCompleted(ctx, buildID)
	if err != nil {
		i.logger.Warn("history check failed", "build_id", buildID, "error", err)
		return false
	}
	if done {
		return true
	}
	active, err := i.store.LeaseActive(ctx, buildID)
	if err != nil {
		i.logger.Warn("lease check failed", "build_id", buildID, "error", err)
		return false
	}
	return active
}
