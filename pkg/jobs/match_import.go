package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/survarium-stats/importer/pkg/logger"
	"github.com/survarium-stats/importer/pkg/notify"
)

// MatchImportJob runs one import cycle: resolve the cursor, then let the
// configured strategy plan batches from it.
type MatchImportJob struct {
	strategy Strategy
	cursor   CursorStore
	notifier notify.Notifier
	schedule string
	host     string

	mu   sync.Mutex
	last CycleState
}

func NewMatchImportJob(strategy Strategy, cursor CursorStore, notifier notify.Notifier, schedule, host string) *MatchImportJob {
	if notifier == nil {
		notifier = notify.Nop()
	}
	return &MatchImportJob{
		strategy: strategy,
		cursor:   cursor,
		notifier: notifier,
		schedule: schedule,
		host:     host,
	}
}

func (j *MatchImportJob) Name() string {
	return "match_import"
}

func (j *MatchImportJob) Schedule() string {
	return j.schedule
}

// Execute never lets a failure escape as a panic. Planner failures are
// classified fatal, notified, and returned; the cursor stays at whatever was
// last persisted.
func (j *MatchImportJob) Execute(ctx context.Context) (err error) {
	log := logger.WithContext(ctx, "match-import-job")
	state := &CycleState{}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during import cycle: %v", r)
		}
		if err != nil {
			j.fatal(ctx, log, state, err)
		}

		j.mu.Lock()
		j.last = *state
		j.mu.Unlock()

		log.LogJobComplete(j.Name(), time.Since(start), state.Processed, state.Errors)
	}()

	// Another process may have moved the cursor since this one last held the lock
	j.cursor.Forget()
	cursor, err := j.cursor.Get(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("failed to resolve cursor: %w", err)
	}
	state.Cursor = cursor

	log.Info().
		Str("action", "cycle_start").
		Str("strategy", j.strategy.Name()).
		Int64("match_id", int64(cursor.MatchID)).
		Int64("ts", cursor.Timestamp).
		Int("offset", cursor.Offset).
		Msg("Starting import cycle")

	return j.strategy.Run(ctx, state)
}

func (j *MatchImportJob) fatal(ctx context.Context, log *logger.Logger, state *CycleState, err error) {
	log.Error().
		Err(err).
		Str("action", "cycle_fatal").
		Int64("match_id", int64(state.Cursor.MatchID)).
		Int64("ts", state.Cursor.Timestamp).
		Msg("Import cycle failed")

	j.notifier.Notify(context.WithoutCancel(ctx), notify.Event{
		Type:      notify.EventFatal,
		Host:      j.host,
		Timestamp: state.Cursor.Timestamp,
		Match:     int64(state.Cursor.MatchID),
		Error:     err.Error(),
	})
}

// LastCycle returns the state the most recent cycle finished with.
func (j *MatchImportJob) LastCycle() CycleState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}
