// Package pipeline runs the per-build analysis state machine and the
// non-blocking ingestion path in front of it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kiranshivaraju/buildwatch/internal/diagnosis"
	"github.com/kiranshivaraju/buildwatch/internal/observability"
	"github.com/kiranshivaraju/buildwatch/internal/store"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

// State is a state of one analysis unit. Every state but StateProcessing is terminal.
type State string

const (
	StateIgnored    State = "ignored"
	StateDuplicate  State = "duplicate"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Outcome is what Process returns: the terminal state and the result built
// for it. Result is never nil.
type Outcome struct {
	State  State
	Result *models.AnalysisResult
}

// LogFetcher returns the log text for a build. It never fails; retrieval
// problems degrade to a snapshot of resource.
type LogFetcher interface {
	Fetch(ctx context.Context, buildID string, resource map[string]any) string
}

// Diagnoser turns a build's logs into freeform analysis text.
type Diagnoser interface {
	Diagnose(ctx context.Context, event models.BuildEvent, logs string) (string, error)
}

// Archiver keeps a copy of the full log text.
type Archiver interface {
	ArchiveLog(ctx context.Context, buildID, logs string) (string, error)
}

// Notifier delivers a finished result. It must swallow its own errors.
type Notifier interface {
	Dispatch(ctx context.Context, result *models.AnalysisResult)
}

// DefaultArchiveTimeout bounds one ArchiveLog call when Deps leaves it unset.
const DefaultArchiveTimeout = 30 * time.Second

// Deps are the collaborators of an Analyzer. Archiver, Notifier and Metrics
// are optional.
type Deps struct {
	Store          store.Store
	Fetcher        LogFetcher
	Diagnoser      Diagnoser
	Archiver       Archiver
	ArchiveTimeout time.Duration
	Notifier       Notifier
	Metrics        *observability.Metrics
	Now            func() time.Time
}

// Analyzer processes one build event at a time per call; calls for distinct
// builds may run concurrently.
type Analyzer struct {
	store          store.Store
	fetcher        LogFetcher
	diagnoser      Diagnoser
	archiver       Archiver
	archiveTimeout time.Duration
	notifier       Notifier
	metrics        *observability.Metrics
	now            func() time.Time
	logger         *slog.Logger
}

func NewAnalyzer(d Deps) *Analyzer {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	archiveTimeout := d.ArchiveTimeout
	if archiveTimeout <= 0 {
		archiveTimeout = DefaultArchiveTimeout
	}
	return &Analyzer{
		store:          d.Store,
		fetcher:        d.Fetcher,
		diagnoser:      d.Diagnoser,
		archiver:       d.Archiver,
		archiveTimeout: archiveTimeout,
		notifier:       d.Notifier,
		metrics:        d.Metrics,
		now:            now,
		logger:         slog.Default().With("component", "analyzer"),
	}
}

// Process runs event through the state machine:
//
//	not a failure          -> Ignored (no lease, no fetch)
//	completed or leased    -> Duplicate
//	lease acquired         -> fetch, diagnose, parse, persist, notify -> Done
//	store error or panic   -> Failed
//
// Once the lease is acquired it is released exactly once on every path.
func (a *Analyzer) Process(ctx context.Context, event models.BuildEvent) (out Outcome) {
	log := a.logger.With("build_id", event.BuildID)

	if !event.Status.IsFailure() {
		sev := models.SeverityIgnored
		explanation := fmt.Sprintf("Build %s, no analysis needed", event.Status)
		if event.Status == models.BuildStatusSucceeded {
			sev = models.SeveritySuccess
			explanation = "Build succeeded. No action required."
		}
		log.Info("build skipped", "status", event.Status)
		return a.finish(StateIgnored, a.controlResult(event, sev, explanation))
	}

	done, err := a.store.HasCompleted(ctx, event.BuildID)
	if err != nil {
		return a.fail(ctx, event, models.FailureKindDedup, fmt.Errorf("checking history: %w", err))
	}
	if done {
		log.Info("build already analyzed")
		return a.finish(StateDuplicate, a.controlResult(event, models.SeverityDuplicate, "Duplicate - already processed"))
	}

	lease, ok, err := a.store.TryAcquireLease(ctx, event.BuildID)
	if err != nil {
		return a.fail(ctx, event, models.FailureKindLease, fmt.Errorf("acquiring lease: %w", err))
	}
	if !ok {
		a.metrics.IncLease("conflict")
		log.Info("build is being analyzed elsewhere")
		return a.finish(StateDuplicate, a.controlResult(event, models.SeverityDuplicate, "Duplicate - analysis in progress"))
	}
	a.metrics.IncLease("acquired")
	log.Info("lease acquired", "state", StateProcessing)

	defer a.release(ctx, lease)
	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis panicked", "panic", r, "stack", string(debug.Stack()))
			out = a.fail(ctx, event, models.FailureKindPanic, fmt.Errorf("panic: %v", r))
		}
	}()

	return a.analyze(ctx, event, lease)
}

// archive stores the log copy under its own deadline. Failures are logged only.
func (a *Analyzer) archive(ctx context.Context, log *slog.Logger, buildID, logs string) {
	ctx, cancel := context.WithTimeout(ctx, a.archiveTimeout)
	defer cancel()

	uri, err := a.archiver.ArchiveLog(ctx, buildID, logs)
	if err != nil {
		log.Warn("log archive failed", "error", err)
		return
	}
	log.Info("log archived", "uri", uri)
}

func (a *Analyzer) analyze(ctx context.Context, event models.BuildEvent, lease models.ProcessingLease) Outcome {
	log := a.logger.With("build_id", event.BuildID)

	logs := a.fetcher.Fetch(ctx, event.BuildID, event.RawResource)

	if a.archiver != nil {
		a.archive(ctx, log, event.BuildID, logs)
	}

	var result *models.AnalysisResult
	text, err := a.diagnoser.Diagnose(ctx, event, logs)
	if err != nil {
		log.Warn("diagnosis failed", "error", err)
		a.recordFailure(ctx, event.BuildID, fmt.Sprintf("diagnosis: %v", err), models.FailureKindDiagnosis)
		result = a.newResult(event, diagnosis.Parse("", logs))
		result.Severity = models.SeverityUnknown
		result.Explanation = fmt.Sprintf("Error: no usable response from the diagnosis model (%v)", err)
	} else {
		result = a.newResult(event, diagnosis.Parse(text, logs))
	}

	held, err := a.store.HoldsLease(ctx, lease)
	if err != nil {
		return a.fail(ctx, event, models.FailureKindPersist, fmt.Errorf("checking lease: %w", err))
	}
	if !held {
		log.Warn("lease superseded before persisting, dropping result")
		return a.finish(StateDuplicate, a.controlResult(event, models.SeverityDuplicate, "Duplicate - lease expired and was taken over"))
	}

	if _, err := a.store.Record(ctx, result, store.Preview(logs)); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			log.Info("build recorded concurrently")
			return a.finish(StateDuplicate, a.controlResult(event, models.SeverityDuplicate, "Duplicate - already processed"))
		}
		return a.fail(ctx, event, models.FailureKindPersist, fmt.Errorf("recording result: %w", err))
	}

	log.Info("analysis recorded", "severity", result.Severity, "fix_steps", len(result.FixSteps))
	a.notify(ctx, result)
	return a.finish(StateDone, result)
}

// fail records err and returns a minimal result with unknown severity. The
// result is still handed to the notifier so the event is not lost silently.
func (a *Analyzer) fail(ctx context.Context, event models.BuildEvent, kind string, err error) Outcome {
	a.logger.Error("analysis failed", "build_id", event.BuildID, "kind", kind, "error", err)
	a.recordFailure(ctx, event.BuildID, err.Error(), kind)

	result := a.controlResult(event, models.SeverityUnknown, "Analysis failed: "+err.Error())
	result.ErrorQuote = diagnosis.ErrorQuoteNotFound
	a.notify(ctx, result)
	return a.finish(StateFailed, result)
}

func (a *Analyzer) finish(state State, result *models.AnalysisResult) Outcome {
	a.metrics.IncAnalysis(string(result.Severity))
	return Outcome{State: state, Result: result}
}

func (a *Analyzer) release(ctx context.Context, lease models.ProcessingLease) {
	if err := a.store.ReleaseLease(context.WithoutCancel(ctx), lease); err != nil {
		a.logger.Error("lease release failed", "build_id", lease.BuildID, "error", err)
		return
	}
	a.metrics.IncLease("released")
	a.logger.Info("lease released", "build_id", lease.BuildID)
}

func (a *Analyzer) recordFailure(ctx context.Context, buildID, message, kind string) {
	a.metrics.IncFailure(kind)
	a.store.RecordFailure(context.WithoutCancel(ctx), buildID, message, kind)
}

func (a *Analyzer) notify(ctx context.Context, result *models.AnalysisResult) {
	if a.notifier != nil {
		a.notifier.Dispatch(ctx, result)
	}
}

func (a *Analyzer) newResult(event models.BuildEvent, d diagnosis.Diagnosis) *models.AnalysisResult {
	return &models.AnalysisResult{
		BuildID:     event.BuildID,
		BuildName:   event.BuildName,
		Status:      event.Status,
		ErrorQuote:  d.ErrorQuote,
		Explanation: d.Explanation,
		FixSteps:    d.FixSteps,
		Severity:    d.Severity,
		Timestamp:   a.timestamp(event),
	}
}

func (a *Analyzer) controlResult(event models.BuildEvent, sev models.Severity, explanation string) *models.AnalysisResult {
	return &models.AnalysisResult{
		BuildID:     event.BuildID,
		BuildName:   event.BuildName,
		Status:      event.Status,
		Explanation: explanation,
		FixSteps:    []string{},
		Severity:    sev,
		Timestamp:   a.timestamp(event),
	}
}

func (a *Analyzer) timestamp(event models.BuildEvent) time.Time {
	if event.ReceivedAt.IsZero() {
		return a.now()
	}
	return event.ReceivedAt
}
