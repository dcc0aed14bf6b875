package entities

import (
	"time"

	"video-restore/constant"
)

// Parameters is fixed at intake; Height, Width and Parallelism are derived from the tier.
type Parameters struct {
	Resolution  string `json:"resolution" gorm:"type:varchar(16);not null"`
	Seed        int64  `json:"seed" gorm:"not null"`
	Height      int    `json:"height"`
	Width       int    `json:"width"`
	Parallelism int    `json:"parallelism"`
}

type Job struct {
	ID                string            `json:"id" gorm:"type:varchar(64);primaryKey"`
	State             constant.JobState `json:"state" gorm:"type:varchar(20);not null;index:idx_jobs_state"`
	SourceReference   string            `json:"source_reference" gorm:"type:text;not null"`
	Parameters        Parameters        `json:"parameters" gorm:"embedded;embeddedPrefix:param_"`
	RemoteHandle      string            `json:"remote_handle,omitempty" gorm:"type:varchar(128)"`
	SubmissionClaimed bool              `json:"-" gorm:"not null;default:false"`
	ProgressFraction  *float64          `json:"progress_fraction,omitempty"`
	ResultReference   string            `json:"result_reference,omitempty" gorm:"type:text"`
	ErrorDetail       string            `json:"error_detail,omitempty" gorm:"type:text"`
	CreatedAt         time.Time         `json:"created_at" gorm:"not null;autoCreateTime:false;index:idx_jobs_created_at"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"not null;autoUpdateTime:false"`
}

func (Job) TableName() string {
	return "jobs"
}

// Clone returns a copy that shares no pointers with j.
func (j *Job) Clone() *Job {
	c := *j
	if j.ProgressFraction != nil {
		p := *j.ProgressFraction
		c.ProgressFraction = &p
	}
	return &c
}
