package jobs

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/survarium-stats/importer/pkg/logger"
)

type scheduledJob struct {
	job      Job
	schedule cron.Schedule
}

// Scheduler runs each registered job in its own loop. The next run is
// scheduled from the completion of the previous one, so runs of one job
// never overlap inside a process.
type Scheduler struct {
	jobs   []scheduledJob
	jitter time.Duration
	logger *logger.Logger

	mu     sync.RWMutex
	states map[string]State

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobManager creates a scheduler that delays each job's first run by up
// to jitter so processes deployed together do not start in lockstep
func NewJobManager(jitter time.Duration) *Scheduler {
	return &Scheduler{
		jitter: jitter,
		logger: logger.New("job-manager"),
		states: make(map[string]State),
	}
}

func (m *Scheduler) RegisterJob(job Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}

	schedule, err := cron.ParseStandard(job.Schedule())
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
	}

	if pj, ok := job.(*ProductionJob); ok {
		pj.Observe(m.setState)
	}

	m.logger.Info().
		Str("action", "register_job").
		Str("job_name", job.Name()).
		Str("schedule", job.Schedule()).
		Msg("Registering job")

	m.jobs = append(m.jobs, scheduledJob{job: job, schedule: schedule})
	m.setState(job.Name(), StateIdle)
	return nil
}

// Start launches the job loops. Cancelling ctx has the same effect as Stop
// without the wait.
func (m *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.logger.Info().
		Str("action", "manager_start").
		Int("jobs", len(m.jobs)).
		Dur("jitter", m.jitter).
		Msg("Starting job manager")

	for _, sj := range m.jobs {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.loop(ctx, sj)
		}()
	}
}

// Stop stops scheduling further runs and waits for running ones to reach
// their end.
func (m *Scheduler) Stop() {
	m.logger.Info().Str("action", "manager_stop").Msg("Stopping job manager...")
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info().Str("action", "manager_stopped").Msg("Job manager stopped")
}

// Wait blocks until every job loop has exited.
func (m *Scheduler) Wait() {
	m.wg.Wait()
}

// RunOnce executes every registered job a single time, in registration
// order, and returns the first error.
func (m *Scheduler) RunOnce(ctx context.Context) error {
	var firstErr error
	for _, sj := range m.jobs {
		if err := m.run(ctx, sj.job); err != nil && firstErr == nil {
			firstErr = err
		}
		m.setState(sj.job.Name(), StateIdle)
	}
	return firstErr
}

func (m *Scheduler) GetJobs() []Job {
	jobs := make([]Job, len(m.jobs))
	for i, sj := range m.jobs {
		jobs[i] = sj.job
	}
	return jobs
}

// GetJobStatus returns the current cycle state of the named job
func (m *Scheduler) GetJobStatus(name string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[name]
	return state, ok
}

func (m *Scheduler) setState(name string, state State) {
	m.mu.Lock()
	m.states[name] = state
	m.mu.Unlock()
}

func (m *Scheduler) loop(ctx context.Context, sj scheduledJob) {
	name := sj.job.Name()
	delay := m.initialDelay()

	for {
		m.setState(name, StateIdle)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.terminate(name)
			return
		case <-timer.C:
		}

		_ = m.run(ctx, sj.job)

		if ctx.Err() != nil {
			m.terminate(name)
			return
		}

		completed := time.Now()
		delay = sj.schedule.Next(completed).Sub(completed)
	}
}

func (m *Scheduler) terminate(name string) {
	m.setState(name, StateTerminating)
	m.logger.Info().
		Str("action", "job_terminated").
		Str("job_name", name).
		Msg("Job loop exited after shutdown request")
}

func (m *Scheduler) initialDelay() time.Duration {
	if m.jitter <= 0 {
		return 0
	}
	return rand.N(m.jitter)
}

// run executes job once with a request-scoped logger and turns a panic into
// an error.
func (m *Scheduler) run(ctx context.Context, job Job) (err error) {
	requestID := uuid.New().String()
	jobLogger := m.logger.WithRequestID(requestID).WithJob(job.Name())
	ctx = jobLogger.ToContext(ctx)

	jobLogger.LogJobStart(job.Name(), job.Schedule())
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
		if err != nil {
			jobLogger.Error().
				Err(err).
				Str("action", "job_failed").
				Dur("duration", time.Since(start)).
				Msg("Job execution failed")
		}
	}()

	return job.Execute(ctx)
}
