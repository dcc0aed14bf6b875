package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"video-restore/service"
)

// newJanitor schedules age-based cleanup of finished jobs. The caller starts
// and stops the returned scheduler.
func newJanitor(ctx context.Context, pub service.Publisher, schedule string, retention time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		sweep(ctx, pub, retention)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func sweep(ctx context.Context, pub service.Publisher, retention time.Duration) {
	deleted, err := pub.Cleanup(ctx, retention)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("deleted", deleted).Msg("cleanup failed")
		return
	}
	zerolog.Ctx(ctx).Info().Int("deleted", deleted).Dur("retention", retention).Msg("cleanup finished")
}
