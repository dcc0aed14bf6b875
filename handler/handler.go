package handler

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"video-restore/apperrors"
	"video-restore/dto"
	"video-restore/service"
)

type ServiceDependencies struct {
	Orchestrator service.Orchestrator
}

// SubmissionHandler runs the submission task for one queued job. A job that
// no longer exists is acknowledged and dropped.
func SubmissionHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var submission dto.SubmissionMessage
	if err := json.Unmarshal(msg.Body, &submission); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal submission message")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", submission.JobId).
		Bool("redelivered", msg.Redelivered).
		Msg("received submission message")

	err := deps.Orchestrator.RunSubmission(ctx, submission.JobId)
	if errors.Is(err, apperrors.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("job_id", submission.JobId).Msg("job removed before submission")
		return nil
	}
	return err
}
