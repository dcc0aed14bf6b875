package repository

import (
	"context"

	"video-restore/constant"
	"video-restore/entities"
)

// JobFilter narrows List; the zero value matches every job.
type JobFilter struct {
	State constant.JobState
}

func (f JobFilter) matches(job *entities.Job) bool {
	return f.State == "" || job.State == f.State
}

// JobRepository is the job record store. Returned jobs are copies; callers
// change stored state only through Update.
type JobRepository interface {
	Create(ctx context.Context, job *entities.Job) error
	Get(ctx context.Context, id string) (*entities.Job, error)
	// Update applies mutate atomically. If mutate returns an error nothing is
	// written and the error is returned unchanged.
	Update(ctx context.Context, id string, mutate func(job *entities.Job) error) (*entities.Job, error)
	// List orders by CreatedAt descending. limit <= 0 means no limit.
	List(ctx context.Context, filter JobFilter, limit int) ([]*entities.Job, error)
	Delete(ctx context.Context, id string) error
}
