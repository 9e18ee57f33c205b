package jobs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/survarium-stats/importer/pkg/cache"
	"github.com/survarium-stats/importer/pkg/logger"
)

// JobLockManager provides distributed locking for job execution
type JobLockManager interface {
	// AcquireLock attempts to take key for ttl. It returns the holder token
	// and true when acquired, false if another holder has it.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)

	// ReleaseLock deletes key unconditionally. Releasing an expired or
	// missing lock is not an error.
	ReleaseLock(ctx context.Context, key string) error

	// IsLocked checks if key is currently held
	IsLocked(ctx context.Context, key string) (bool, error)

	// AcquireLockWithTimeout polls AcquireLock until timeout elapses
	AcquireLockWithTimeout(ctx context.Context, key string, ttl, timeout time.Duration) (string, bool, error)
}

// CacheLockManager implements distributed locking as a set-if-absent key
// with expiry in the shared cache. The stored token is informational:
// ownership is implied by the key existing, and a process that dies simply
// lets the key expire.
type CacheLockManager struct {
	store    cache.Store
	identity string
	logger   *logger.Logger
}

// NewCacheLockManager creates a lock manager whose tokens start with this
// process' identity (hostname:pid)
func NewCacheLockManager(store cache.Store, hostname string) JobLockManager {
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return &CacheLockManager{
		store:    store,
		identity: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
		logger:   logger.New("job-lock-manager"),
	}
}

func (c *CacheLockManager) newToken() string {
	return c.identity + ":" + uuid.New().String()
}

// AcquireLock attempts to acquire the lock for key
func (c *CacheLockManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := c.newToken()

	c.logger.Debug().
		Str("lock_key", key).
		Dur("ttl", ttl).
		Str("action", "acquire_lock_attempt").
		Msg("Attempting to acquire distributed lock")

	acquired, err := c.store.SetIfAbsent(ctx, key, token, ttl)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("lock_key", key).
			Str("action", "acquire_lock_failed").
			Msg("Failed to acquire distributed lock")
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	if !acquired {
		holder, _, _ := c.store.Get(ctx, key)
		c.logger.Debug().
			Str("lock_key", key).
			Str("holder", holder).
			Str("action", "lock_already_held").
			Msg("Lock already held by another instance")
		return "", false, nil
	}

	c.logger.Info().
		Str("lock_key", key).
		Str("token", token).
		Str("action", "lock_acquired").
		Msg("Successfully acquired distributed lock")
	return token, true, nil
}

// ReleaseLock releases the lock for key
func (c *CacheLockManager) ReleaseLock(ctx context.Context, key string) error {
	if err := c.store.Del(ctx, key); err != nil {
		c.logger.Error().
			Err(err).
			Str("lock_key", key).
			Str("action", "release_lock_failed").
			Msg("Failed to release distributed lock")
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}

	c.logger.Info().
		Str("lock_key", key).
		Str("action", "lock_released").
		Msg("Released distributed lock")
	return nil
}

// IsLocked checks if key is currently held
func (c *CacheLockManager) IsLocked(ctx context.Context, key string) (bool, error) {
	_, found, err := c.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check lock status %s: %w", key, err)
	}
	return found, nil
}

// AcquireLockWithTimeout attempts to acquire a lock with polling and timeout
func (c *CacheLockManager) AcquireLockWithTimeout(ctx context.Context, key string, ttl, timeout time.Duration) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	token, acquired, err := c.AcquireLock(ctx, key, ttl)
	if err != nil || acquired {
		return token, acquired, err
	}

	c.logger.Debug().
		Str("lock_key", key).
		Dur("timeout", timeout).
		Str("action", "lock_wait_start").
		Msg("Lock not available, waiting with timeout")

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().
				Str("lock_key", key).
				Dur("timeout", timeout).
				Str("action", "lock_wait_timeout").
				Msg("Lock acquisition timed out")
			return "", false, ctx.Err()
		case <-ticker.C:
			token, acquired, err := c.AcquireLock(ctx, key, ttl)
			if err != nil {
				return "", false, err
			}
			if acquired {
				return token, true, nil
			}
		}
	}
}

// LockGuard provides RAII-style lock management
type LockGuard struct {
	lockManager JobLockManager
	key         string
	ttl         time.Duration
	token       string
	acquired    bool
	logger      *logger.Logger
}

// NewLockGuard creates a new lock guard that automatically releases on defer
func NewLockGuard(lockManager JobLockManager, key string, ttl time.Duration) *LockGuard {
	return &LockGuard{
		lockManager: lockManager,
		key:         key,
		ttl:         ttl,
		logger:      logger.New("lock-guard"),
	}
}

// Acquire attempts to acquire the lock
func (lg *LockGuard) Acquire(ctx context.Context) (bool, error) {
	token, acquired, err := lg.lockManager.AcquireLock(ctx, lg.key, lg.ttl)
	if err != nil {
		return false, err
	}
	lg.token, lg.acquired = token, acquired
	return acquired, nil
}

// AcquireWithTimeout attempts to acquire the lock with timeout
func (lg *LockGuard) AcquireWithTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	token, acquired, err := lg.lockManager.AcquireLockWithTimeout(ctx, lg.key, lg.ttl, timeout)
	if err != nil {
		return false, err
	}
	lg.token, lg.acquired = token, acquired
	return acquired, nil
}

// Release releases the lock if it was acquired
func (lg *LockGuard) Release(ctx context.Context) error {
	if !lg.acquired {
		return nil
	}

	if err := lg.lockManager.ReleaseLock(ctx, lg.key); err != nil {
		lg.logger.Error().
			Err(err).
			Str("lock_key", lg.key).
			Msg("Failed to release lock in guard")
		return err
	}

	lg.acquired = false
	lg.token = ""
	return nil
}

// IsAcquired returns whether the lock is currently held by this guard
func (lg *LockGuard) IsAcquired() bool {
	return lg.acquired
}

// Token returns the holder token of the acquired lock
func (lg *LockGuard) Token() string {
	return lg.token
}
