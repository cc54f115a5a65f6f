package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// ErrDuplicateKey is returned by Record when the build already has a history record.
var ErrDuplicateKey = errors.New("duplicate key violation")

// LogPreviewLength bounds the log excerpt kept alongside each history record.
const LogPreviewLength = 200

// Store is the data access interface. All database operations go through here.
//
// Every mutating call is atomic on its own; no caller holds a store-level lock
// across a network call.
type Store interface {
	Ping(ctx context.Context) error

	// HasCompleted reports whether a history record exists for buildID.
	HasCompleted(ctx context.Context, buildID string) (bool, error)

	// TryAcquireLease is the admission primitive for in-flight work. It returns
	// ok=false without side effect when a live lease exists. An expired lease is
	// replaced by a fresh generation.
	TryAcquireLease(ctx context.Context, buildID string) (lease models.ProcessingLease, ok bool, err error)
	// LeaseActive reports whether a non-expired lease exists for buildID.
	LeaseActive(ctx context.Context, buildID string) (bool, error)
	// HoldsLease reports whether lease is still the current generation.
	HoldsLease(ctx context.Context, lease models.ProcessingLease) (bool, error)
	// ReleaseLease deletes lease if it is still the current generation.
	// Releasing an absent or superseded lease is a no-op.
	ReleaseLease(ctx context.Context, lease models.ProcessingLease) error

	// Record appends a history record. It never overwrites; a second record for
	// the same build returns ErrDuplicateKey.
	Record(ctx context.Context, result *models.AnalysisResult, logPreview string) (*models.HistoryRecord, error)
	// Recent returns at most limit records, most recent first.
	Recent(ctx context.Context, limit int) ([]*models.HistoryRecord, error)
	CountCompleted(ctx context.Context) (int, error)

	// RecordFailure appends to the failure log. It never fails the caller.
	RecordFailure(ctx context.Context, buildID, message, kind string)
	Metrics(ctx context.Context) (*models.Metrics, error)

	// Reset clears history, leases and the failure log.
	Reset(ctx context.Context) error
}

// Clock returns the current time. Stores take one so tests can move time past a lease TTL.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// Option configures a store implementation.
type Option func(*options)

type options struct {
	leaseTTL time.Duration
	now      Clock
}

// WithLeaseTTL sets how long a lease stays live without being released.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.leaseTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now Clock) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{leaseTTL: 10 * time.Minute, now: systemClock}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Preview truncates a log to the length stored with each history record.
func Preview(log string) string {
	r := []rune(log)
	if len(r) <= LogPreviewLength {
		return log
	}
	return string(r[:LogPreviewLength])
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}
