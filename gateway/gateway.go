// Package gateway adapts the external serverless job runner to the local job lifecycle.
package gateway

import (
	"context"

	"video-restore/constant"
)

// SubmitRequest carries everything the runner needs to start one restoration.
type SubmitRequest struct {
	SourceURL   string
	Resolution  string
	Height      int
	Width       int
	Parallelism int
	Seed        int64
}

// RemoteStatus is one observation of a remote job.
type RemoteStatus struct {
	Kind            constant.RemoteStatus
	RawProgressHint *float64
	OutputReference string
	ErrorText       string
}

// Gateway submits, polls and cancels remote jobs.
//
// Submit fails with apperrors.ErrGatewayUnavailable or apperrors.ErrSubmissionRejected.
// Poll fails with apperrors.ErrGatewayUnavailable, or apperrors.ErrRemoteNotFound
// once the runner has no record of the handle.
// Cancel reports false for jobs the runner will not cancel, including ones
// already finished; it only errors when the runner cannot be reached.
type Gateway interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, remoteHandle string) (*RemoteStatus, error)
	Cancel(ctx context.Context, remoteHandle string) (bool, error)
}

// MapStatus translates a remote status into a local job state. known is false
// for statuses the runner may add later; callers keep polling and leave the
// record alone.
func MapStatus(kind constant.RemoteStatus) (state constant.JobState, known bool) {
	switch kind {
	case constant.RemoteStatusQueued:
		return constant.JobStateQueued, true
	case constant.RemoteStatusRunning:
		return constant.JobStateProcessing, true
	case constant.RemoteStatusSucceeded:
		return constant.JobStateCompleted, true
	case constant.RemoteStatusFailed, constant.RemoteStatusTimedOut:
		return constant.JobStateFailed, true
	case constant.RemoteStatusCancelled:
		return constant.JobStateCancelled, true
	}
	return "", false
}
