package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/survarium-stats/importer/pkg/logger"
)

// ProductionJob wraps a job with a distributed run lock so only one process
// in the fleet executes it at a time
type ProductionJob struct {
	job         Job
	lockManager JobLockManager
	observer    StateObserver

	lockKey      string
	lockTTL      time.Duration
	lockTimeout  time.Duration
	skipIfLocked bool
}

// ProductionJobConfig holds configuration for production job wrapper
type ProductionJobConfig struct {
	LockKey      string        // Cache key of the run lock; defaults to the job name
	LockTTL      time.Duration // Expiry of the run lock; must exceed a typical run
	LockTimeout  time.Duration // How long to wait for lock acquisition; 0 tries once
	SkipIfLocked bool          // Skip execution if lock can't be acquired
}

// DefaultProductionJobConfig returns sensible defaults for production jobs
func DefaultProductionJobConfig() *ProductionJobConfig {
	return &ProductionJobConfig{
		LockTTL:      60 * time.Second,
		LockTimeout:  0,    // A held lock means another instance is importing
		SkipIfLocked: true, // The next tick will try again
	}
}

// NewProductionJob creates a production-ready job wrapper
func NewProductionJob(job Job, lockManager JobLockManager, config *ProductionJobConfig) *ProductionJob {
	if config == nil {
		config = DefaultProductionJobConfig()
	}

	key := config.LockKey
	if key == "" {
		key = job.Name()
	}
	ttl := config.LockTTL
	if ttl <= 0 {
		ttl = DefaultProductionJobConfig().LockTTL
	}

	return &ProductionJob{
		job:          job,
		lockManager:  lockManager,
		observer:     func(string, State) {},
		lockKey:      key,
		lockTTL:      ttl,
		lockTimeout:  config.LockTimeout,
		skipIfLocked: config.SkipIfLocked,
	}
}

// Name returns the underlying job name
func (p *ProductionJob) Name() string {
	return p.job.Name()
}

// Schedule returns the underlying job schedule
func (p *ProductionJob) Schedule() string {
	return p.job.Schedule()
}

// Observe registers fn to receive lock cycle state changes
func (p *ProductionJob) Observe(fn StateObserver) {
	if fn != nil {
		p.observer = fn
	}
}

// Execute runs the job under the distributed lock. The lock is released
// even when the job fails, panics or ctx is cancelled.
func (p *ProductionJob) Execute(ctx context.Context) error {
	jobName := p.job.Name()
	startTime := time.Now()
	log := logger.WithContext(ctx, "production-job")

	lockGuard := NewLockGuard(p.lockManager, p.lockKey, p.lockTTL)

	p.observer(jobName, StateAcquiring)

	var acquired bool
	var err error
	if p.lockTimeout > 0 {
		acquired, err = lockGuard.AcquireWithTimeout(ctx, p.lockTimeout)
		// Waiting out the timeout means the lock is still held
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			acquired, err = false, nil
		}
	} else {
		acquired, err = lockGuard.Acquire(ctx)
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("job_name", jobName).
			Str("action", "lock_acquisition_error").
			Msg("Failed to acquire distributed lock")
		return fmt.Errorf("failed to acquire lock for job %s: %w", jobName, err)
	}

	if !acquired {
		if p.skipIfLocked {
			log.Info().
				Str("job_name", jobName).
				Str("lock_key", p.lockKey).
				Str("action", "lock_skipped").
				Msg("Job skipped - another instance is running")
			return nil
		}
		return fmt.Errorf("could not acquire lock for job %s", jobName)
	}

	defer func() {
		p.observer(jobName, StateReleasing)
		// Release must happen even after shutdown was requested
		if releaseErr := lockGuard.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			log.Error().
				Err(releaseErr).
				Str("job_name", jobName).
				Str("action", "lock_release_error").
				Msg("Failed to release distributed lock")
		}
	}()

	log.Info().
		Str("job_name", jobName).
		Str("token", lockGuard.Token()).
		Str("action", "lock_acquired").
		Msg("Acquired distributed lock, executing job")

	p.observer(jobName, StateRunning)
	err = p.job.Execute(ctx)

	duration := time.Since(startTime)
	if err != nil {
		log.Error().
			Err(err).
			Str("job_name", jobName).
			Str("action", "job_failed").
			Dur("duration", duration).
			Msg("Production job execution failed")
		return err
	}

	log.Info().
		Str("job_name", jobName).
		Str("action", "job_completed").
		Dur("duration", duration).
		Msg("Production job execution completed successfully")
	return nil
}

// Unlock force-deletes the run lock of job regardless of its holder
func Unlock(ctx context.Context, lockManager JobLockManager, key string) (bool, error) {
	held, err := lockManager.IsLocked(ctx, key)
	if err != nil {
		return false, err
	}
	if err := lockManager.ReleaseLock(ctx, key); err != nil {
		return held, err
	}
	return held, nil
}
