package azdo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kiranshivaraju/buildwatch/internal/observability"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
	"golang.org/x/sync/errgroup"
)

// PrimaryLogType tags the job-container log segments that carry build output.
const PrimaryLogType = "Container"

const defaultMaxSegments = 3

// FailureRecorder receives best-effort failure notes for the failure log.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, buildID, message, kind string)
}

// Fetcher retrieves a build's log text. Retrieval problems never fail the
// caller: the text degrades to a JSON snapshot of the webhook resource.
type Fetcher struct {
	client      Client
	recorder    FailureRecorder
	maxSegments int
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewFetcher creates a Fetcher. A nil client disables retrieval and every
// Fetch returns the fallback snapshot.
func NewFetcher(client Client, recorder FailureRecorder, maxSegments int) *Fetcher {
	if maxSegments < 1 {
		maxSegments = defaultMaxSegments
	}
	return &Fetcher{
		client:      client,
		recorder:    recorder,
		maxSegments: maxSegments,
		logger:      slog.Default().With("component", "log-fetcher"),
	}
}

// WithMetrics attaches retrieval counters.
func (f *Fetcher) WithMetrics(m *observability.Metrics) *Fetcher {
	f.metrics = m
	return f
}

// Fetch returns the concatenated content of the build's primary log segments,
// or a snapshot of resource when nothing could be retrieved.
func (f *Fetcher) Fetch(ctx context.Context, buildID string, resource map[string]any) string {
	if f.client == nil {
		f.metrics.IncLogFetch("disabled")
		return Snapshot(resource)
	}

	entries, err := f.client.ListLogs(ctx, buildID, HintURL(resource))
	if err != nil {
		f.logger.Warn("log list fetch failed", "build_id", buildID, "error", err)
		f.recordFailure(ctx, buildID, fmt.Sprintf("listing logs: %v", err))
		f.metrics.IncLogFetch("snapshot")
		return Snapshot(resource)
	}

	selected := SelectEntries(entries, f.maxSegments)
	contents := make([]string, len(selected))

	// Segment failures are absorbed per entry, so the group never cancels.
	var g errgroup.Group
	for i, entry := range selected {
		g.Go(func() error {
			text, err := f.client.LogContent(ctx, buildID, entry)
			if err != nil {
				f.logger.Warn("log segment fetch failed", "build_id", buildID, "log_id", entry.ID, "error", err)
				return nil
			}
			contents[i] = text
			return nil
		})
	}
	_ = g.Wait()

	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		if c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		f.recordFailure(ctx, buildID, fmt.Sprintf("no log content retrieved from %d segment(s)", len(selected)))
		f.metrics.IncLogFetch("snapshot")
		return Snapshot(resource)
	}

	f.metrics.IncLogFetch("retrieved")
	f.logger.Info("logs retrieved", "build_id", buildID, "segments", len(parts), "chars", len(strings.Join(parts, "")))
	return strings.Join(parts, "\n\n")
}

func (f *Fetcher) recordFailure(ctx context.Context, buildID, message string) {
	if f.recorder != nil {
		f.recorder.RecordFailure(ctx, buildID, message, models.FailureKindFetch)
	}
}

// SelectEntries prefers primary container segments, falling back to every
// entry when none is tagged, and keeps at most limit in list order.
func SelectEntries(entries []LogEntry, limit int) []LogEntry {
	var primary []LogEntry
	for _, e := range entries {
		if e.Type == PrimaryLogType {
			primary = append(primary, e)
		}
	}
	if len(primary) == 0 {
		primary = entries
	}
	if len(primary) > limit {
		primary = primary[:limit]
	}
	return primary
}

// HintURL extracts resource.logs.url from a build webhook resource.
func HintURL(resource map[string]any) string {
	logs, ok := resource["logs"].(map[string]any)
	if !ok {
		return ""
	}
	u, _ := logs["url"].(string)
	return u
}

// Snapshot serializes resource as indented JSON for use in place of logs.
func Snapshot(resource map[string]any) string {
	if resource == nil {
		resource = map[string]any{}
	}
	data, err := json.MarshalIndent(resource, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", resource)
	}
	return string(data)
}
