package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"video-restore/apperrors"
	"video-restore/constant"
	"video-restore/entities"
	"video-restore/gateway"
	"video-restore/progress"
	"video-restore/repository"
)

func TestIntake_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Intake(ctx, "  ", "720p", 42)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.orch.Intake(ctx, "http://x/in.mp4", "4k", 42)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	assert.Empty(t, f.dispatcher.dispatched())
	jobs, err := f.repo.List(ctx, repository.JobFilter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestIntake_CreatesQueuedJobAndDispatchesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		job, err := f.orch.Intake(ctx, "http://x/in.mp4", "1080p", int64(i))
		require.NoError(t, err)
		assert.False(t, seen[job.ID], "job ids must be unique")
		seen[job.ID] = true

		got, err := f.orch.RefreshStatus(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, constant.JobStateQueued, got.State)
		assert.Equal(t, 1080, got.Parameters.Height)
		assert.Equal(t, 1920, got.Parameters.Width)
		assert.Equal(t, 4, got.Parameters.Parallelism)
	}
	assert.Len(t, f.dispatcher.dispatched(), 5)
}

func TestIntake_DispatchFailureSettlesFailed(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("buffer full")

	job, err := f.orch.Intake(context.Background(), "http://x/in.mp4", "720p", 42)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStateFailed, job.State)
	assert.Contains(t, job.ErrorDetail, "buffer full")
}

// Remote Queued -> Running -> Succeeded shows as Queued -> Processing -> Completed.
func TestLifecycle_QueuedRunningSucceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Intake(ctx, "http://x/in.mp4", "720p", 42)
	require.NoError(t, err)

	f.gw.On("Submit", mock.Anything, gateway.SubmitRequest{
		SourceURL: "http://x/in.mp4", Resolution: "720p", Height: 720, Width: 1280, Parallelism: 1, Seed: 42,
	}).Return("rp-1", nil).Once()
	f.gw.On("Poll", mock.Anything, "rp-1").Return(&gateway.RemoteStatus{Kind: constant.RemoteStatusQueued}, nil).Once()
	f.gw.On("Poll", mock.Anything, "rp-1").Return(running(), nil).Once()
	f.gw.On("Poll", mock.Anything, "rp-1").Return(&gateway.RemoteStatus{
		Kind: constant.RemoteStatusSucceeded, OutputReference: "http://x/out.mp4",
	}, nil).Once()

	var states []constant.JobState
	got, err := f.orch.RefreshStatus(ctx, job.ID)
	require.NoError(t, err)
	states = append(states, got.State)

	require.NoError(t, f.orch.RunSubmission(ctx, job.ID))

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		got, err = f.orch.RefreshStatus(ctx, job.ID)
		require.NoError(t, err)
		if states[len(states)-1] != got.State {
			states = append(states, got.State)
		}
	}

	assert.Equal(t, []constant.JobState{constant.JobStateQueued, constant.JobStateProcessing, constant.JobStateCompleted}, states)
	assert.Equal(t, "rp-1", got.RemoteHandle)
	assert.Equal(t, "http://x/out.mp4", got.ResultReference)
	require.NotNil(t, got.ProgressFraction)
	assert.Equal(t, 1.0, *got.ProgressFraction)
	assert.Empty(t, got.ErrorDetail)
}

func TestTerminalJobIsNeverPolledAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Intake(ctx, "http://x/in.mp4", "720p", 42)
	require.NoError(t, err)
	f.gw.On("Submit", mock.Anything, mock.Anything).Return("rp-1", nil).Once()
	f.gw.On("Poll", mock.Anything, "rp-1").Return(&gateway.RemoteStatus{
		Kind: constant.RemoteStatusSucceeded, OutputReference: "http://x/out.mp4",
	}, nil).Once()
	require.NoError(t, f.orch.RunSubmission(ctx, job.ID))

	first, err := f.orch.RefreshStatus(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, constant.JobStateCompleted, first.State)

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Hour)
		again, err := f.orch.RefreshStatus(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	f.gw.AssertNumberOfCalls(t, "Poll", 1)
}

func TestSubmissionFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Intake(ctx, "http://x/in.mp4", "720p", 42)
	require.NoError(t, err)
	f.gw.On("Submit", mock.Anything, mock.Anything).
		Return("", apperrors.Newf(apperrors.ErrGatewayUnavailable, "runpod api key or endpoint id is not configured")).Once()

	require.NoError(t, f.orch.RunSubmission(ctx, job.ID))

	got, err := f.orch.RefreshStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStateFailed, got.State)
	assert.NotEmpty(t, got.ErrorDetail)
	assert.Empty(t, got.RemoteHandle)

	_, err = f.orch.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotCancellable)

	// never retried
	require.NoError(t, f.orch.RunSubmission(ctx, job.ID))
	f.gw.AssertNumberOfCalls(t, "Submit", 1)
}

func TestRunSubmission_StartsOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Intake(ctx, "http://x/in.mp4", "720p", 42)
	require.NoError(t, err)
	f.gw.On("Submit", mock.Anything, mock.Anything).Return("rp-1", nil).Once()

	require.NoError(t, f.orch.RunSubmission(ctx, job.ID))
	require.NoError(t, f.orch.RunSubmission(ctx, job.ID))

	got, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStateProcessing, got.State)
	assert.Equal(t, "rp-1", got.RemoteHandle)
	f.gw.AssertNumberOfCalls(t, "Submit", 1)
}

func TestCancelBeforeSubmissionRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Intake(ctx, "http://x/in.mp4", "720p", 42)
	require.NoError(t, err)

	cancelled, err := f.orch.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStateCancelled, cancelled.State)

	// The task was already scheduled and now runs late.
	require.Equal(t, []string{job.ID}, f.dispatcher.dispatched())
	require.NoError(t, f.orch.RunSubmission(ctx, job.ID))

	got, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStateCancelled, got.State)
	assert.Empty(t, got.RemoteHandle)
	f.gw.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestCancelWhileSubmissionInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Intake(ctx, "http://x/in.mp4", "720p", 42)
	require.NoError(t, err)

	f.gw.On("Submit", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		cancelled, err := f.orch.Cancel(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, constant.JobStateCancelled, cancelled.State)
	}).Return("rp-1", nil).Once()
	f.gw.On("Cancel", mock.Anything, "rp-1").Return(true, nil).Once()

	require.NoError(t, f.orch.RunSubmission(ctx, job.ID))

	got, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStateCancelled, got.State)
	assert.Empty(t, got.RemoteHandle, "discarded submission must not set the handle")
}

func TestCancel_Remote(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t)
		id := processingJob(t, f)
		f.gw.On("Cancel", mock.Anything, "rp-1").Return(true, nil).Once()

		got, err := f.orch.Cancel(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, constant.JobStateCancelled, got.State)
		assert.Nil(t, got.ProgressFraction)
	})

	t.Run("rejected leaves state", func(t *testing.T) {
		f := newFixture(t)
		id := processingJob(t, f)
		f.gw.On("Cancel", mock.Anything, "rp-1").Return(false, nil).Once()

		_, err := f.orch.Cancel(context.Background(), id)
		assert.ErrorIs(t, err, apperrors.ErrCancellationRejected)

		got, err := f.repo.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, constant.JobStateProcessing, got.State)
	})

	t.Run("gateway down", func(t *testing.T) {
		f := newFixture(t)
		id := processingJob(t, f)
		f.gw.On("Cancel", mock.Anything, "rp-1").Return(false, apperrors.Wrap(apperrors.ErrGatewayUnavailable, "runpod.cancel", nil)).Once()

		_, err := f.orch.Cancel(context.Background(), id)
		assert.ErrorIs(t, err, apperrors.ErrGatewayUnavailable)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.Cancel(context.Background(), "nope")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestCancel_TerminalNeverMutates(t *testing.T) {
	for _, state := range []constant.JobState{constant.JobStateCompleted, constant.JobStateFailed, constant.JobStateCancelled} {
		t.Run(state.String(), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			stored := &entities.Job{
				ID: "job-1", State: state, SourceReference: "http://x/in.mp4",
				CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
			}
			if state == constant.JobStateCompleted {
				stored.ResultReference = "http://x/out.mp4"
			}
			if state == constant.JobStateFailed {
				stored.ErrorDetail = "boom"
			}
			require.NoError(t, f.repo.Create(ctx, stored))

			f.clock.Advance(time.Minute)
			_, err := f.orch.Cancel(ctx, "job-1")
			assert.ErrorIs(t, err, apperrors.ErrNotCancellable)

			got, err := f.repo.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, stored, got)
		})
	}
}

func TestRefresh_PollFailureDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := processingJob(t, f)
	before, err := f.repo.Get(ctx, id)
	require.NoError(t, err)

	f.gw.On("Poll", mock.Anything, "rp-1").Return(nil, apperrors.Wrap(apperrors.ErrGatewayUnavailable, "runpod.poll", nil)).Once()
	f.gw.On("Poll", mock.Anything, "rp-1").Return(running(), nil).Once()

	f.clock.Advance(time.Minute)
	_, err = f.orch.RefreshStatus(ctx, id)
	assert.ErrorIs(t, err, apperrors.ErrGatewayUnavailable)

	after, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	got, err := f.orch.RefreshStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStateProcessing, got.State)
}

func TestRefresh_UnknownStatusLeavesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := processingJob(t, f)
	before, err := f.repo.Get(ctx, id)
	require.NoError(t, err)

	f.gw.On("Poll", mock.Anything, "rp-1").Return(&gateway.RemoteStatus{Kind: constant.RemoteStatusUnknown}, nil).Once()
	f.clock.Advance(time.Minute)

	got, err := f.orch.RefreshStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, got)
}

func TestRefresh_ProgressNeverDecreases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := processingJob(t, f)

	high, low := 0.8, 0.1
	f.gw.On("Poll", mock.Anything, "rp-1").Return(running(), nil).Times(3)
	f.gw.On("Poll", mock.Anything, "rp-1").Return(&gateway.RemoteStatus{Kind: constant.RemoteStatusRunning, RawProgressHint: &high}, nil).Once()
	f.gw.On("Poll", mock.Anything, "rp-1").Return(&gateway.RemoteStatus{Kind: constant.RemoteStatusRunning, RawProgressHint: &low}, nil).Once()
	f.gw.On("Poll", mock.Anything, "rp-1").Return(&gateway.RemoteStatus{Kind: constant.RemoteStatusQueued}, nil).Once()

	prev := 0.0
	for i := 0; i < 6; i++ {
		f.clock.Advance(30 * time.Second)
		got, err := f.orch.RefreshStatus(ctx, id)
		require.NoError(t, err)
		require.Equal(t, constant.JobStateProcessing, got.State)
		require.NotNil(t, got.ProgressFraction)
		assert.GreaterOrEqual(t, *got.ProgressFraction, prev)
		assert.Less(t, *got.ProgressFraction, 1.0)
		prev = *got.ProgressFraction
	}
	assert.Equal(t, 0.8, prev)
}

func TestRefresh_FullHintStaysBelowCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := processingJob(t, f)

	for _, hint := range []float64{1, 40} {
		h := hint
		f.gw.On("Poll", mock.Anything, "rp-1").Return(&gateway.RemoteStatus{Kind: constant.RemoteStatusRunning, RawProgressHint: &h}, nil).Once()
	}

	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Minute)
		got, err := f.orch.RefreshStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, constant.JobStateProcessing, got.State)
		require.NotNil(t, got.ProgressFraction)
		assert.Equal(t, progress.DefaultCap, *got.ProgressFraction)

		view := NewJobView(got, f.clock.Now())
		require.NotNil(t, view.EstimatedSecondsRemaining)
		assert.Positive(t, *view.EstimatedSecondsRemaining)
	}
}

func TestRefresh_FailureDetails(t *testing.T) {
	tests := []struct {
		name   string
		remote *gateway.RemoteStatus
		want   string
	}{
		{"failed with text", &gateway.RemoteStatus{Kind: constant.RemoteStatusFailed, ErrorText: "cuda oom"}, "cuda oom"},
		{"failed without text", &gateway.RemoteStatus{Kind: constant.RemoteStatusFailed}, "remote job failed"},
		{"timed out", &gateway.RemoteStatus{Kind: constant.RemoteStatusTimedOut}, "remote job timed out"},
		{"timed out with text", &gateway.RemoteStatus{Kind: constant.RemoteStatusTimedOut, ErrorText: "600s"}, "remote job timed out: 600s"},
		{"success without output", &gateway.RemoteStatus{Kind: constant.RemoteStatusSucceeded}, "runner reported success without an output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := processingJob(t, f)
			f.gw.On("Poll", mock.Anything, "rp-1").Return(tt.remote, nil).Once()

			got, err := f.orch.RefreshStatus(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, constant.JobStateFailed, got.State)
			assert.Equal(t, tt.want, got.ErrorDetail)
			assert.Empty(t, got.ResultReference)
		})
	}
}

func TestRefresh_RemoteHandleGoneFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := processingJob(t, f)
	f.gw.On("Poll", mock.Anything, "rp-1").Return(nil, apperrors.Newf(apperrors.ErrRemoteNotFound, "runpod.poll: remote job rp-1 not found")).Once()

	got, err := f.orch.RefreshStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStateFailed, got.State)
	assert.Equal(t, "remote job rp-1 no longer exists on the runner", got.ErrorDetail)
	assert.Nil(t, got.ProgressFraction)

	// terminal now: no further polls, not cancellable, eligible for cleanup
	again, err := f.orch.RefreshStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	_, err = f.orch.Cancel(ctx, id)
	assert.ErrorIs(t, err, apperrors.ErrNotCancellable)

	pub := NewPublisher(f.repo, f.orch, PublisherConfig{Now: f.clock.Now})
	deleted, err := pub.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestRefresh_RemoteCancelled(t *testing.T) {
	f := newFixture(t)
	id := processingJob(t, f)
	f.gw.On("Poll", mock.Anything, "rp-1").Return(&gateway.RemoteStatus{Kind: constant.RemoteStatusCancelled}, nil).Once()

	got, err := f.orch.RefreshStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStateCancelled, got.State)
}

func TestRefresh_UnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.RefreshStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMetricsRecorded(t *testing.T) {
	f := newFixture(t)
	rec := &recordingMetrics{}
	f.orch = NewOrchestrator(f.repo, f.gw, NewTierCatalog(nil), f.dispatcher, WithClock(f.clock.Now), WithMetrics(rec))
	ctx := context.Background()

	job, err := f.orch.Intake(ctx, "http://x/in.mp4", "2k", 1)
	require.NoError(t, err)
	f.gw.On("Submit", mock.Anything, mock.Anything).Return("rp-1", nil).Once()
	f.gw.On("Poll", mock.Anything, "rp-1").Return(nil, apperrors.Wrap(apperrors.ErrGatewayUnavailable, "runpod.poll", nil)).Once()
	require.NoError(t, f.orch.RunSubmission(ctx, job.ID))
	_, _ = f.orch.RefreshStatus(ctx, job.ID)

	assert.Equal(t, []string{"2k"}, rec.submitted)
	assert.Equal(t, []constant.JobState{constant.JobStateProcessing}, rec.transitions)
	assert.Equal(t, []string{"poll"}, rec.gatewayErrors)
}

type recordingMetrics struct {
	submitted     []string
	transitions   []constant.JobState
	gatewayErrors []string
}

func (r *recordingMetrics) RecordJobSubmitted(ctx context.Context, resolution string) {
	r.submitted = append(r.submitted, resolution)
}

func (r *recordingMetrics) RecordJobTransition(ctx context.Context, state constant.JobState) {
	r.transitions = append(r.transitions, state)
}

func (r *recordingMetrics) RecordGatewayError(ctx context.Context, op string) {
	r.gatewayErrors = append(r.gatewayErrors, op)
}

// processingJob intakes a 720p job and submits it as remote handle rp-1.
func processingJob(t *testing.T, f *fixture) string {
	t.Helper()
	ctx := context.Background()
	job, err := f.orch.Intake(ctx, "http://x/in.mp4", "720p", 42)
	require.NoError(t, err)
	f.gw.On("Submit", mock.Anything, mock.Anything).Return("rp-1", nil).Once()
	require.NoError(t, f.orch.RunSubmission(ctx, job.ID))
	return job.ID
}
