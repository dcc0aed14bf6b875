package constant

type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

func (s JobState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition can leave s.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateProcessing, JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// RemoteStatus is the runner's status vocabulary after normalisation by the gateway.
type RemoteStatus string

const (
	RemoteStatusQueued    RemoteStatus = "QUEUED"
	RemoteStatusRunning   RemoteStatus = "RUNNING"
	RemoteStatusSucceeded RemoteStatus = "SUCCEEDED"
	RemoteStatusFailed    RemoteStatus = "FAILED"
	RemoteStatusCancelled RemoteStatus = "CANCELLED"
	RemoteStatusTimedOut  RemoteStatus = "TIMED_OUT"
	RemoteStatusUnknown   RemoteStatus = "UNKNOWN"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRabbitMQ = "rabbitmq"
	DriverMinIO    = "minio"
	DriverGCS      = "gcs"
)
