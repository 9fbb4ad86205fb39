package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("ScheduleOnce coalesces", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		owner := Owner{Type: OwnerItem, ID: 1}
		jobs := NewJobs(tx)
		now := time.Now()

		require.NoError(jobs.ScheduleOnce(ctx, "webmention.send", owner, now.Add(time.Hour)))
		require.NoError(jobs.ScheduleOnce(ctx, "webmention.send", owner, now.Add(2*time.Hour)))
		job, err := jobs.Find("webmention.send", owner)
		require.NoError(err)
		require.WithinDuration(now.Add(time.Hour), job.RunAt, time.Second)

		require.NoError(jobs.ScheduleOnce(ctx, "webmention.send", owner, now.Add(time.Minute)))
		job, err = jobs.Find("webmention.send", owner)
		require.NoError(err)
		require.WithinDuration(now.Add(time.Minute), job.RunAt, time.Second)

		due, err := jobs.Due(now, 10)
		require.NoError(err)
		require.Empty(due)
		due, err = jobs.Due(now.Add(time.Minute), 10)
		require.NoError(err)
		require.Len(due, 1)
	})

	t.Run("Claim and Fail", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		owner := Owner{Type: OwnerAnnotation, ID: 2}
		jobs := NewJobs(tx)
		now := time.Now()
		require.NoError(jobs.ScheduleOnce(ctx, "webmention.send", owner, now))

		due, err := jobs.Due(now, 10)
		require.NoError(err)
		require.Len(due, 1)
		job := due[0]
		require.Equal(owner, job.Owner())

		ok, err := jobs.Claim(job)
		require.NoError(err)
		require.True(ok)
		ok, err = jobs.Claim(job)
		require.NoError(err)
		require.False(ok)

		for i := 0; i < MaxJobAttempts; i++ {
			require.NoError(jobs.Fail(job, errors.New("boom"), now))
			if i < MaxJobAttempts-1 {
				ok, err = jobs.Claim(job)
				require.NoError(err)
				require.True(ok)
			}
		}
		// exhausted jobs are not due.
		due, err = jobs.Due(now, 10)
		require.NoError(err)
		require.Empty(due)

		// but are revived by a new schedule.
		require.NoError(jobs.ScheduleOnce(ctx, "webmention.send", owner, now))
		due, err = jobs.Due(now, 10)
		require.NoError(err)
		require.Len(due, 1)
		require.Zero(due[0].Attempts)
		require.Equal("boom", due[0].LastResult)
	})

	t.Run("Fail loses to a newer schedule", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		owner := Owner{Type: OwnerItem, ID: 3}
		jobs := NewJobs(tx)
		now := time.Now()
		require.NoError(jobs.ScheduleOnce(ctx, "webmention.send", owner, now))
		job, err := jobs.Find("webmention.send", owner)
		require.NoError(err)
		ok, err := jobs.Claim(job)
		require.NoError(err)
		require.True(ok)

		require.NoError(jobs.ScheduleOnce(ctx, "webmention.send", owner, now.Add(5*time.Minute)))
		require.NoError(jobs.Fail(job, errors.New("boom"), now))

		found, err := jobs.Find("webmention.send", owner)
		require.NoError(err)
		require.Zero(found.Attempts)
		require.WithinDuration(now.Add(5*time.Minute), found.RunAt, time.Second)
	})
}
