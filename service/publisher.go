package service

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"video-restore/apperrors"
	"video-restore/constant"
	"video-restore/entities"
	"video-restore/repository"
)

const DefaultPublishInterval = 2 * time.Second

var terminalStates = []constant.JobState{
	constant.JobStateCompleted,
	constant.JobStateFailed,
	constant.JobStateCancelled,
}

// Publisher serves job state to callers: point reads, history, live
// subscriptions and age-based cleanup of finished jobs.
type Publisher interface {
	GetOne(ctx context.Context, jobID string) (*entities.Job, error)
	GetHistory(ctx context.Context, filter repository.JobFilter, limit int) ([]*entities.Job, error)
	// Subscribe yields a fresh snapshot every interval until the job is
	// terminal, the job disappears, the consumer stops or ctx is done.
	// Transient poll errors are yielded and polling continues.
	Subscribe(ctx context.Context, jobID string) iter.Seq2[*entities.Job, error]
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

type PublisherConfig struct {
	Interval time.Duration
	Now      func() time.Time
}

type publisher struct {
	repo     repository.JobRepository
	orch     Orchestrator
	interval time.Duration
	now      func() time.Time
}

func NewPublisher(repo repository.JobRepository, orch Orchestrator, cfg PublisherConfig) Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPublishInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &publisher{
		repo:     repo,
		orch:     orch,
		interval: cfg.Interval,
		now:      cfg.Now,
	}
}

func (p *publisher) GetOne(ctx context.Context, jobID string) (*entities.Job, error) {
	return p.orch.RefreshStatus(ctx, jobID)
}

func (p *publisher) GetHistory(ctx context.Context, filter repository.JobFilter, limit int) ([]*entities.Job, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, apperrors.Validation("status", "unknown status "+filter.State.String())
	}
	return p.repo.List(ctx, filter, limit)
}

func (p *publisher) Subscribe(ctx context.Context, jobID string) iter.Seq2[*entities.Job, error] {
	return func(yield func(*entities.Job, error) bool) {
		timer := time.NewTimer(p.interval)
		defer timer.Stop()

		for {
			job, err := p.orch.RefreshStatus(ctx, jobID)
			if err != nil {
				if !yield(nil, err) || errors.Is(err, apperrors.ErrNotFound) {
					return
				}
			} else if !yield(job, nil) || job.State.IsTerminal() {
				return
			}

			timer.Reset(p.interval)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
	}
}

func (p *publisher) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := p.now().Add(-olderThan)
	deleted := 0

	for _, state := range terminalStates {
		jobs, err := p.repo.List(ctx, repository.JobFilter{State: state}, 0)
		if err != nil {
			return deleted, err
		}
		for _, job := range jobs {
			if job.UpdatedAt.After(cutoff) {
				continue
			}
			err := p.repo.Delete(ctx, job.ID)
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			if err != nil {
				return deleted, err
			}
			deleted++
		}
	}

	zerolog.Ctx(ctx).Info().Int("deleted_jobs", deleted).Dur("older_than", olderThan).Msg("cleaned up finished jobs")
	return deleted, nil
}
