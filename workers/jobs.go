// Package workers drives the background work of the webmention service:
// the one-shot job table and the interval sweep of the verification queue.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/davecheney/mention/models"
	"github.com/davecheney/mention/webmention"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// retryDelay is how long a failed job waits before it is due again.
const retryDelay = 5 * time.Minute

// Sender delivers the webmentions of an item or annotation.
type Sender interface {
	Send(ctx context.Context, owner models.Owner) error
}

// NewJobRunner runs due jobs every poll interval until ctx is cancelled.
func NewJobRunner(db *gorm.DB, sender Sender, logger *slog.Logger, poll time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		logger.Info("JobRunner started", "poll", poll)
		defer logger.Info("JobRunner stopped")

		for {
			if _, err := RunDueJobs(ctx, db, sender, logger, time.Now()); err != nil && ctx.Err() == nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(poll):
				// continue
			}
		}
	}
}

// RunDueJobs makes one pass through the jobs due at now and returns the
// number run.
func RunDueJobs(ctx context.Context, db *gorm.DB, sender Sender, logger *slog.Logger, now time.Time) (int, error) {
	return process(ctx, db, now, now.Add(retryDelay), func(ctx context.Context, job *models.Job) error {
		logger.Debug("JobRunner: running", "job", job.Name, "owner", job.Owner().String(), "attempts", job.Attempts)
		var err error
		switch job.Name {
		case webmention.JobSend:
			err = sender.Send(ctx, job.Owner())
		default:
			err = fmt.Errorf("unknown job %q", job.Name)
		}
		if err != nil {
			logger.Warn("JobRunner: job failed", "job", job.Name, "owner", job.Owner().String(), "error", err)
		}
		return err
	})
}
