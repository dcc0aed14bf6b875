package repository

import (
	"context"
	"sort"
	"sync"

	"video-restore/apperrors"
	"video-restore/entities"
)

type memoryRepo struct {
	mu   sync.RWMutex
	jobs map[string]*entities.Job
}

func NewMemoryRepo() JobRepository {
	return &memoryRepo{
		jobs: make(map[string]*entities.Job),
	}
}

func (r *memoryRepo) Create(ctx context.Context, job *entities.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return apperrors.DuplicateID("job", job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (*entities.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}
	return job.Clone(), nil
}

func (r *memoryRepo) Update(ctx context.Context, id string, mutate func(job *entities.Job) error) (*entities.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}

	job := stored.Clone()
	if err := mutate(job); err != nil {
		return nil, err
	}
	job.ID = id
	r.jobs[id] = job
	return job.Clone(), nil
}

func (r *memoryRepo) List(ctx context.Context, filter JobFilter, limit int) ([]*entities.Job, error) {
	r.mu.RLock()
	jobs := make([]*entities.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if filter.matches(job) {
			jobs = append(jobs, job.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *memoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return apperrors.NotFound("job", id)
	}
	delete(r.jobs, id)
	return nil
}
