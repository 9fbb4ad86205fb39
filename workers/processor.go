package workers

import (
	"context"
	"time"

	"github.com/davecheney/mention/models"
	"gorm.io/gorm"
)

// batchSize is the maximum number of jobs claimed in one pass.
const batchSize = 100

// process makes one pass through the jobs due at now, claiming each one and calling fn.
// If fn returns an error, the job is put back with the error to run again at retryAt.
// If fn returns nil, the job stays deleted.
// Jobs claimed by another runner are skipped.
func process(ctx context.Context, db *gorm.DB, now, retryAt time.Time, fn func(context.Context, *models.Job) error) (int, error) {
	jobs := models.NewJobs(db.WithContext(ctx))
	due, err := jobs.Due(now, batchSize)
	if err != nil {
		return 0, err
	}
	ran := 0
	err = forEach(due, func(job *models.Job) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		claimed, err := jobs.Claim(job)
		if err != nil || !claimed {
			return err
		}
		ran++
		if err := fn(ctx, job); err != nil {
			return jobs.Fail(job, err, retryAt)
		}
		return nil
	})
	return ran, err
}

func forEach[T any](a []T, fn func(T) error) error {
	for _, v := range a {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}
