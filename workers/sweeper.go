package workers

import (
	"context"
	"time"

	"golang.org/x/exp/slog"
)

// Sweeper is told when the verification queue is due to be swept.
type Sweeper interface {
	OnQueueSweepDue(ctx context.Context) error
}

// NewQueueSweeper sweeps the verification queue immediately, then every
// interval until ctx is cancelled. A failed sweep is logged and retried on
// the next interval.
func NewQueueSweeper(sweeper Sweeper, logger *slog.Logger, interval time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		logger.Info("QueueSweeper started", "interval", interval)
		defer logger.Info("QueueSweeper stopped")

		for {
			if err := sweeper.OnQueueSweepDue(ctx); err != nil && ctx.Err() == nil {
				logger.Error("QueueSweeper: sweep failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
				// continue
			}
		}
	}
}
