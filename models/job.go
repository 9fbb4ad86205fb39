package models

import (
	"context"
	"errors"
	"time"

	"github.com/davecheney/mention/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxJobAttempts is the number of failed runs after which a job is no
// longer due.
const MaxJobAttempts = 3

// A Job is a named task to run once at or after RunAt on behalf of an
// Owner.
type Job struct {
	Request
	Name      string       `gorm:"size:64;not null;uniqueIndex:uidx_jobs_name_owner"`
	OwnerType OwnerType    `gorm:"size:16;not null;uniqueIndex:uidx_jobs_name_owner"`
	OwnerID   snowflake.ID `gorm:"not null;uniqueIndex:uidx_jobs_name_owner"`
	RunAt     time.Time    `gorm:"not null;index"`
}

func (j *Job) Owner() Owner {
	return Owner{Type: j.OwnerType, ID: j.OwnerID}
}

type Jobs struct {
	db *gorm.DB
}

func NewJobs(db *gorm.DB) *Jobs {
	return &Jobs{db: db}
}

// ScheduleOnce arranges for the named job to run for owner at or after at.
// A pending job for the same name and owner is brought forward rather than
// duplicated; an exhausted one is revived.
func (j *Jobs) ScheduleOnce(ctx context.Context, name string, owner Owner, at time.Time) error {
	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		err := tx.Where("name = ? AND owner_type = ? AND owner_id = ?", name, owner.Type, owner.ID).Take(&job).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&Job{
				Name:      name,
				OwnerType: owner.Type,
				OwnerID:   owner.ID,
				RunAt:     at,
			}).Error
		case err != nil:
			return err
		case job.Attempts >= MaxJobAttempts:
			return tx.Model(&job).Updates(map[string]interface{}{
				"run_at":   at,
				"attempts": 0,
			}).Error
		case at.Before(job.RunAt):
			return tx.Model(&job).Update("run_at", at).Error
		default:
			return nil
		}
	})
}

// Due returns up to limit jobs whose time has come, earliest first.
func (j *Jobs) Due(now time.Time, limit int) ([]*Job, error) {
	var due []*Job
	err := j.db.Where("run_at <= ? AND attempts < ?", now, MaxJobAttempts).
		Order("run_at asc, id asc").
		Limit(limit).
		Find(&due).Error
	return due, err
}

// Find returns the pending job for name and owner, or gorm.ErrRecordNotFound.
func (j *Jobs) Find(name string, owner Owner) (*Job, error) {
	var job Job
	if err := j.db.Where("name = ? AND owner_type = ? AND owner_id = ?", name, owner.Type, owner.ID).Take(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Claim removes job from the table. It reports false if another runner
// claimed it first.
func (j *Jobs) Claim(job *Job) (bool, error) {
	res := j.db.Where("id = ?", job.ID).Delete(&Job{})
	return res.RowsAffected == 1, res.Error
}

// Fail puts a claimed job back with its attempts incremented, to run again
// at retryAt. If the job was rescheduled while it ran the newer job wins.
func (j *Jobs) Fail(job *Job, err error, retryAt time.Time) error {
	job.Attempts++
	job.LastAttempt = time.Now()
	job.LastResult = err.Error()
	job.RunAt = retryAt
	return j.db.Clauses(clause.OnConflict{DoNothing: true}).Create(job).Error
}
