package dto

import (
	"time"

	"video-restore/constant"
)

// SubmissionMessage is published to the submission queue, one per job.
type SubmissionMessage struct {
	JobId string `json:"jobId"`
}

type ProcessRequest struct {
	VideoURL   string `json:"video_url" binding:"required"`
	Resolution string `json:"resolution"`
	Seed       *int64 `json:"seed"`
}

type JobView struct {
	ID                        string            `json:"id"`
	State                     constant.JobState `json:"status"`
	ProgressFraction          *float64          `json:"progress,omitempty"`
	EstimatedSecondsRemaining *int64            `json:"estimatedTimeRemaining,omitempty"`
	ResultURL                 string            `json:"resultUrl,omitempty"`
	ErrorDetail               string            `json:"error,omitempty"`
	CreatedAt                 time.Time         `json:"createdAt"`
	UpdatedAt                 time.Time         `json:"updatedAt"`
}

type UploadResponse struct {
	VideoURL string `json:"video_url"`
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type CostEstimate struct {
	Resolution       string  `json:"resolution"`
	GPUsRequired     int     `json:"gpus_required"`
	EstimatedMinutes float64 `json:"estimated_minutes"`
	EstimatedCost    float64 `json:"estimated_cost"`
	Currency         string  `json:"currency"`
}

type CleanupResponse struct {
	DeletedJobs int    `json:"deleted_jobs"`
	Message     string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
