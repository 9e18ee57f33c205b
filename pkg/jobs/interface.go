package jobs

import "context"

// Job represents a schedulable job that can be executed by the job manager
type Job interface {
	// Execute runs the job with the given context. The context is cancelled
	// on shutdown; jobs decide for themselves how much in-flight work to
	// finish.
	Execute(ctx context.Context) error

	// Name returns a human-readable name for the job
	Name() string

	// Schedule returns the cron schedule expression for this job. The next
	// run is computed from the completion of the previous one.
	// Examples: "@every 65s", "*/5 * * * *"
	Schedule() string
}

// JobManager manages and schedules multiple jobs
type JobManager interface {
	// RegisterJob adds a job to the manager
	RegisterJob(job Job) error

	// Start begins executing all registered jobs until ctx is cancelled or
	// Stop is called
	Start(ctx context.Context)

	// Stop stops scheduling and waits for running jobs to finish
	Stop()

	// GetJobs returns all registered jobs
	GetJobs() []Job
}

// State is a job's position in its scheduling cycle.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateRunning
	StateReleasing
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRunning:
		return "running"
	case StateReleasing:
		return "releasing"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// StateObserver is told about every state change of a job.
type StateObserver func(jobName string, state State)
