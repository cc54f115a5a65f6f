package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

const (
	defaultCircuitFailures = 3
	defaultCircuitCooldown = 2 * time.Minute
)

// Diagnoser wraps a DiagnosisProvider with the prompt, a per-call timeout and a
// circuit breaker that stops calling a provider after repeated failures.
type Diagnoser struct {
	provider    models.DiagnosisProvider
	timeout     time.Duration
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// NewDiagnoser creates a Diagnoser. A zero timeout disables the per-call deadline.
func NewDiagnoser(provider models.DiagnosisProvider, timeout time.Duration) *Diagnoser {
	return &Diagnoser{
		provider:    provider,
		timeout:     timeout,
		maxFailures: defaultCircuitFailures,
		cooldown:    defaultCircuitCooldown,
		now:         time.Now,
	}
}

// Provider returns the name of the underlying provider.
func (d *Diagnoser) Provider() string {
	return d.provider.Name()
}

// Diagnose asks the provider for a freeform analysis of a failed build's logs.
func (d *Diagnoser) Diagnose(ctx context.Context, event models.BuildEvent, logs string) (string, error) {
	if d.circuitOpen() {
		return "", ErrCircuitOpen
	}

	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := d.now()
	text, err := d.provider.Diagnose(callCtx, BuildPrompt(event, logs))
	if err != nil {
		d.recordFailure()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrInferenceTimeout) {
			err = fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		d.recordFailure()
		return "", fmt.Errorf("%w: empty analysis", ErrInvalidResponse)
	}
	d.resetFailures()

	slog.Debug("diagnosis generated",
		"build_id", event.BuildID,
		"provider", d.provider.Name(),
		"chars", len(text),
		"latency_ms", d.now().Sub(start).Milliseconds(),
	)
	return text, nil
}

func (d *Diagnoser) circuitOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openUntil.IsZero() {
		return false
	}
	if d.now().After(d.openUntil) {
		d.openUntil = time.Time{}
		d.failures = 0
		return false
	}
	return true
}

func (d *Diagnoser) recordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures++
	if d.failures >= d.maxFailures {
		d.openUntil = d.now().Add(d.cooldown)
	}
}

func (d *Diagnoser) resetFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = 0
	d.openUntil = time.Time{}
}
