// Package notify delivers finished build analyses to outbound channels.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

const defaultTimeout = 10 * time.Second

// Notifier delivers one analysis result to a single channel.
type Notifier interface {
	Notify(ctx context.Context, result *models.AnalysisResult) error
	Name() string
}

// Dispatcher fans a result out to every configured notifier. Delivery errors
// are logged and never returned.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. Nil notifiers are skipped so callers can
// pass optional channels unconditionally.
func NewDispatcher(timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	d := &Dispatcher{
		timeout: timeout,
		logger:  slog.Default().With("component", "notify"),
	}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

// Len returns the number of active notifiers.
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

// Dispatch sends result to each notifier in turn. Results whose severity is
// success, ignored or duplicate are never sent.
func (d *Dispatcher) Dispatch(ctx context.Context, result *models.AnalysisResult) {
	if d == nil || result == nil || !result.Severity.Notifiable() {
		return
	}
	for _, n := range d.notifiers {
		nctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Notify(nctx, result)
		cancel()
		if err != nil {
			d.logger.Warn("notification failed",
				"notifier", n.Name(),
				"build_id", result.BuildID,
				"error", err,
			)
			continue
		}
		d.logger.Info("notification sent", "notifier", n.Name(), "build_id", result.BuildID)
	}
}
