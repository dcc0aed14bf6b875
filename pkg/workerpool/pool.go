// Package workerpool runs submission tasks in-process: a bounded queue of job
// ids drained by a fixed number of workers.
package workerpool

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var ErrBufferFull = errors.New("submission queue is full")

type Handler func(ctx context.Context, jobID string) error

type Pool struct {
	queue      chan string
	numWorkers int
}

func New(numWorkers, bufferSize int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if bufferSize < 1 {
		bufferSize = 100
	}
	return &Pool{
		queue:      make(chan string, bufferSize),
		numWorkers: numWorkers,
	}
}

// Dispatch queues jobID without blocking. Ids queued before Run starts are
// picked up once it does.
func (p *Pool) Dispatch(ctx context.Context, jobID string) error {
	select {
	case p.queue <- jobID:
		return nil
	default:
		zerolog.Ctx(ctx).Warn().Str("job_id", jobID).Msg("submission queue full")
		return ErrBufferFull
	}
}

// Run blocks until ctx is done, handing queued ids to the workers.
func (p *Pool) Run(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 1; i <= p.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID := <-p.queue:
					if err := handler(ctx, jobID); err != nil {
						zerolog.Ctx(ctx).Error().Err(err).Int("worker", workerId).Str("job_id", jobID).Msg("failed to handle submission")
					}
				}
			}
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}
