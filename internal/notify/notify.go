// Package notify delivers operational notifications: day-rollover issue
// summaries and unexpected errors.
package notify

import (
	"context"

	"github.com/cleverdata/ferry-agent/internal/models"
)

// Notifier receives the agent's out-of-band notifications. Delivery is
// always best-effort from the pipeline's point of view.
type Notifier interface {
	// NotifyRollover delivers the issue summary for a completed day.
	NotifyRollover(ctx context.Context, summary models.RolloverSummary) error
	// NotifyError reports an unexpected per-file or watcher failure.
	NotifyError(ctx context.Context, source string, err error) error
}

// Nop discards all notifications. Used when no email settings are
// configured.
type Nop struct{}

func (Nop) NotifyRollover(context.Context, models.RolloverSummary) error { return nil }
func (Nop) NotifyError(context.Context, string, error) error             { return nil }
