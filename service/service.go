package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"video-restore/apperrors"
	"video-restore/constant"
	"video-restore/entities"
	"video-restore/gateway"
	"video-restore/progress"
	"video-restore/repository"
)

// errSkip aborts a store update whose precondition no longer holds.
var errSkip = errors.New("update no longer applicable")

var errHandleAssigned = errors.New("remote handle assigned")

// Dispatcher schedules the out-of-band submission task for a job.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// MetricsRecorder is an optional interface for recording job lifecycle metrics.
type MetricsRecorder interface {
	RecordJobSubmitted(ctx context.Context, resolution string)
	RecordJobTransition(ctx context.Context, state constant.JobState)
	RecordGatewayError(ctx context.Context, op string)
}

// Orchestrator drives a job from intake to a terminal state. It is the only
// writer of job records apart from age-based cleanup.
type Orchestrator interface {
	Intake(ctx context.Context, sourceReference, resolution string, seed int64) (*entities.Job, error)
	RunSubmission(ctx context.Context, jobID string) error
	RefreshStatus(ctx context.Context, jobID string) (*entities.Job, error)
	Cancel(ctx context.Context, jobID string) (*entities.Job, error)
}

type orchestrator struct {
	repo       repository.JobRepository
	gateway    gateway.Gateway
	tiers      *TierCatalog
	dispatcher Dispatcher
	estimator  progress.Estimator
	metrics    MetricsRecorder
	now        func() time.Time
}

type Option func(*orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) { o.now = now }
}

func WithEstimator(e progress.Estimator) Option {
	return func(o *orchestrator) { o.estimator = e }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(o *orchestrator) { o.metrics = m }
}

func NewOrchestrator(repo repository.JobRepository, gw gateway.Gateway, tiers *TierCatalog, dispatcher Dispatcher, opts ...Option) Orchestrator {
	o := &orchestrator{
		repo:       repo,
		gateway:    gw,
		tiers:      tiers,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.estimator == nil {
		o.estimator = progress.NewTieredExponential(tiers.AvgDurations(), progress.DefaultCap)
	}
	return o
}

func (o *orchestrator) Intake(ctx context.Context, sourceReference, resolution string, seed int64) (*entities.Job, error) {
	sourceReference = strings.TrimSpace(sourceReference)
	if sourceReference == "" {
		return nil, apperrors.Validation("video_url", "video_url is required")
	}
	tier, ok := o.tiers.Lookup(resolution)
	if !ok {
		return nil, apperrors.Validation("resolution",
			fmt.Sprintf("unknown resolution %q, expected one of %s", resolution, strings.Join(o.tiers.Names(), ", ")))
	}

	now := o.now()
	job := &entities.Job{
		ID:              uuid.NewString(),
		State:           constant.JobStateQueued,
		SourceReference: sourceReference,
		Parameters: entities.Parameters{
			Resolution:  tier.Name,
			Seed:        seed,
			Height:      tier.Height,
			Width:       tier.Width,
			Parallelism: tier.Parallelism,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.repo.Create(ctx, job); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordJobSubmitted(ctx, tier.Name)
	}
	zerolog.Ctx(ctx).Info().Str("job_id", job.ID).Str("resolution", tier.Name).Int64("seed", seed).Msg("job queued")

	if err := o.dispatcher.Dispatch(ctx, job.ID); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("job_id", job.ID).Msg("failed to schedule submission")
		failed, updateErr := o.repo.Update(ctx, job.ID, func(cur *entities.Job) error {
			if cur.State != constant.JobStateQueued || cur.SubmissionClaimed {
				return errSkip
			}
			o.fail(cur, "could not schedule submission: "+err.Error())
			return nil
		})
		if updateErr == nil {
			o.recordTransition(ctx, failed)
			return failed, nil
		}
		if !errors.Is(updateErr, errSkip) {
			return nil, updateErr
		}
	}
	return job, nil
}

// RunSubmission is the background task started once per job. Submission
// failures are written to the record, never retried.
func (o *orchestrator) RunSubmission(ctx context.Context, jobID string) error {
	logger := zerolog.Ctx(ctx).With().Str("job_id", jobID).Logger()

	job, err := o.repo.Update(ctx, jobID, func(cur *entities.Job) error {
		if cur.State != constant.JobStateQueued || cur.SubmissionClaimed {
			return errSkip
		}
		cur.SubmissionClaimed = true
		return nil
	})
	if errors.Is(err, errSkip) {
		logger.Info().Msg("submission skipped, job already claimed or no longer queued")
		return nil
	}
	if err != nil {
		return err
	}

	handle, submitErr := o.gateway.Submit(ctx, gateway.SubmitRequest{
		SourceURL:   job.SourceReference,
		Resolution:  job.Parameters.Resolution,
		Height:      job.Parameters.Height,
		Width:       job.Parameters.Width,
		Parallelism: job.Parameters.Parallelism,
		Seed:        job.Parameters.Seed,
	})
	if submitErr != nil {
		logger.Error().Err(submitErr).Msg("submission failed")
		o.recordGatewayError(ctx, "submit")
		failed, err := o.repo.Update(ctx, jobID, func(cur *entities.Job) error {
			if cur.State.IsTerminal() {
				return errSkip
			}
			o.fail(cur, "submission failed: "+submitErr.Error())
			return nil
		})
		if errors.Is(err, errSkip) || errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		o.recordTransition(ctx, failed)
		return nil
	}

	processing, err := o.repo.Update(ctx, jobID, func(cur *entities.Job) error {
		if cur.State != constant.JobStateQueued || cur.RemoteHandle != "" {
			return errSkip
		}
		zero := 0.0
		cur.RemoteHandle = handle
		cur.State = constant.JobStateProcessing
		cur.ProgressFraction = &zero
		cur.UpdatedAt = o.now()
		return nil
	})
	if errors.Is(err, errSkip) || errors.Is(err, apperrors.ErrNotFound) {
		logger.Warn().Str("remote_handle", handle).Msg("job cancelled during submission, discarding remote job")
		o.abandonRemote(ctx, handle)
		return nil
	}
	if err != nil {
		return err
	}

	o.recordTransition(ctx, processing)
	logger.Info().Str("remote_handle", handle).Msg("job processing")
	return nil
}

// abandonRemote cancels a remote job nobody tracks any more so it stops
// burning GPU time. Failure is only logged.
func (o *orchestrator) abandonRemote(ctx context.Context, handle string) {
	ok, err := o.gateway.Cancel(ctx, handle)
	if err != nil || !ok {
		zerolog.Ctx(ctx).Warn().Err(err).Str("remote_handle", handle).Bool("accepted", ok).Msg("could not cancel orphaned remote job")
	}
}

func (o *orchestrator) RefreshStatus(ctx context.Context, jobID string) (*entities.Job, error) {
	job, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() || job.RemoteHandle == "" {
		return job, nil
	}

	remote, err := o.gateway.Poll(ctx, job.RemoteHandle)
	if errors.Is(err, apperrors.ErrRemoteNotFound) {
		return o.settleLostRemote(ctx, job)
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("job_id", jobID).Str("remote_handle", job.RemoteHandle).Msg("failed to poll remote job")
		o.recordGatewayError(ctx, "poll")
		return nil, err
	}

	mapped, known := gateway.MapStatus(remote.Kind)
	if !known {
		zerolog.Ctx(ctx).Warn().Str("job_id", jobID).Str("remote_status", string(remote.Kind)).Msg("unrecognised remote status, will poll again")
		return job, nil
	}

	before := job.State
	updated, err := o.repo.Update(ctx, jobID, func(cur *entities.Job) error {
		if cur.State.IsTerminal() {
			return errSkip
		}
		o.reconcile(cur, remote, mapped)
		return nil
	})
	if errors.Is(err, errSkip) {
		return o.repo.Get(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}

	if updated.State != before {
		o.recordTransition(ctx, updated)
		zerolog.Ctx(ctx).Info().Str("job_id", jobID).Str("state", updated.State.String()).Msg("job state changed")
	}
	return updated, nil
}

// settleLostRemote fails a job whose remote handle the runner no longer knows.
func (o *orchestrator) settleLostRemote(ctx context.Context, job *entities.Job) (*entities.Job, error) {
	zerolog.Ctx(ctx).Warn().Str("job_id", job.ID).Str("remote_handle", job.RemoteHandle).Msg("remote job no longer exists, failing job")
	failed, err := o.repo.Update(ctx, job.ID, func(cur *entities.Job) error {
		if cur.State.IsTerminal() || cur.RemoteHandle != job.RemoteHandle {
			return errSkip
		}
		o.fail(cur, fmt.Sprintf("remote job %s no longer exists on the runner", cur.RemoteHandle))
		return nil
	})
	if errors.Is(err, errSkip) {
		return o.repo.Get(ctx, job.ID)
	}
	if err != nil {
		return nil, err
	}
	o.recordTransition(ctx, failed)
	return failed, nil
}

// reconcile folds one remote observation into a non-terminal record.
func (o *orchestrator) reconcile(job *entities.Job, remote *gateway.RemoteStatus, mapped constant.JobState) {
	now := o.now()
	switch mapped {
	case constant.JobStateQueued, constant.JobStateProcessing:
		// A handle exists, so the job stays Processing even while the runner queues it.
		job.State = constant.JobStateProcessing
		if f, ok := o.estimator.Estimate(job.Parameters.Resolution, now.Sub(job.CreatedAt), mapped, remote.RawProgressHint); ok {
			merged := progress.Merge(job.ProgressFraction, f)
			job.ProgressFraction = &merged
		}
	case constant.JobStateCompleted:
		if remote.OutputReference == "" {
			o.fail(job, "runner reported success without an output")
			return
		}
		done := 1.0
		job.State = constant.JobStateCompleted
		job.ResultReference = remote.OutputReference
		job.ProgressFraction = &done
	case constant.JobStateFailed:
		detail := remote.ErrorText
		if remote.Kind == constant.RemoteStatusTimedOut {
			detail = strings.TrimSuffix("remote job timed out: "+detail, ": ")
		} else if detail == "" {
			detail = "remote job failed"
		}
		o.fail(job, detail)
		return
	case constant.JobStateCancelled:
		job.State = constant.JobStateCancelled
		job.ProgressFraction = nil
	}
	job.UpdatedAt = now
}

func (o *orchestrator) Cancel(ctx context.Context, jobID string) (*entities.Job, error) {
	job, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() {
		return nil, notCancellable(job)
	}

	if job.RemoteHandle == "" {
		cancelled, err := o.repo.Update(ctx, jobID, func(cur *entities.Job) error {
			if cur.State.IsTerminal() {
				return notCancellable(cur)
			}
			if cur.RemoteHandle != "" {
				return errHandleAssigned
			}
			o.markCancelled(cur)
			return nil
		})
		if !errors.Is(err, errHandleAssigned) {
			if err == nil {
				o.recordTransition(ctx, cancelled)
				zerolog.Ctx(ctx).Info().Str("job_id", jobID).Msg("job cancelled before submission")
			}
			return cancelled, err
		}
		if job, err = o.repo.Get(ctx, jobID); err != nil {
			return nil, err
		}
	}

	accepted, err := o.gateway.Cancel(ctx, job.RemoteHandle)
	if err != nil {
		o.recordGatewayError(ctx, "cancel")
		return nil, err
	}
	if !accepted {
		return nil, apperrors.Newf(apperrors.ErrCancellationRejected, "runner refused to cancel job %s", jobID)
	}

	cancelled, err := o.repo.Update(ctx, jobID, func(cur *entities.Job) error {
		if cur.State.IsTerminal() {
			return notCancellable(cur)
		}
		o.markCancelled(cur)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.recordTransition(ctx, cancelled)
	zerolog.Ctx(ctx).Info().Str("job_id", jobID).Str("remote_handle", job.RemoteHandle).Msg("job cancelled")
	return cancelled, nil
}

func (o *orchestrator) fail(job *entities.Job, detail string) {
	job.State = constant.JobStateFailed
	job.ErrorDetail = detail
	job.ResultReference = ""
	job.ProgressFraction = nil
	job.UpdatedAt = o.now()
}

func (o *orchestrator) markCancelled(job *entities.Job) {
	job.State = constant.JobStateCancelled
	job.ProgressFraction = nil
	job.UpdatedAt = o.now()
}

func (o *orchestrator) recordTransition(ctx context.Context, job *entities.Job) {
	if o.metrics != nil {
		o.metrics.RecordJobTransition(ctx, job.State)
	}
}

func (o *orchestrator) recordGatewayError(ctx context.Context, op string) {
	if o.metrics != nil {
		o.metrics.RecordGatewayError(ctx, op)
	}
}

func notCancellable(job *entities.Job) error {
	return apperrors.Newf(apperrors.ErrNotCancellable, "job %s is already %s", job.ID, job.State)
}
