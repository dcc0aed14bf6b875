package service

import (
	"time"

	"video-restore/constant"
	"video-restore/dto"
	"video-restore/entities"
	"video-restore/progress"
)

// NewJobView renders the caller-facing shape of a job. The remaining-time
// estimate only exists while the job is processing.
func NewJobView(job *entities.Job, now time.Time) dto.JobView {
	view := dto.JobView{
		ID:          job.ID,
		State:       job.State,
		ResultURL:   job.ResultReference,
		ErrorDetail: job.ErrorDetail,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if job.ProgressFraction != nil {
		p := *job.ProgressFraction
		view.ProgressFraction = &p
		if job.State == constant.JobStateProcessing {
			view.EstimatedSecondsRemaining = progress.Remaining(now.Sub(job.CreatedAt), p)
		}
	}
	return view
}

func NewJobViews(jobs []*entities.Job, now time.Time) []dto.JobView {
	views := make([]dto.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, NewJobView(job, now))
	}
	return views
}
