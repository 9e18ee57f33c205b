package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/survarium-stats/importer/pkg/cache"
	"github.com/survarium-stats/importer/pkg/models"
	"github.com/survarium-stats/importer/pkg/notify"
	"github.com/survarium-stats/importer/pkg/services"
)

func TestMatchImportJob_RunsStrategyFromCursor(t *testing.T) {
	cursor := &fakeCursor{current: models.Cursor{MatchID: 1000, Timestamp: 1463346483}}
	notifier := &recordingNotifier{}

	var seen models.Cursor
	strategy := strategyFunc(func(_ context.Context, state *CycleState) error {
		seen = state.Cursor
		state.Rounds = 2
		state.Processed = 100
		state.Errors = 3
		return nil
	})

	job := NewMatchImportJob(strategy, cursor, notifier, "@every 65s", "worker-1")
	require.NoError(t, job.Execute(context.Background()))

	assert.Equal(t, cursor.current, seen)
	assert.Equal(t, []string{"forget", "get"}, cursor.calls)
	assert.Empty(t, notifier.events)
	assert.Equal(t, 100, job.LastCycle().Processed)
	assert.Equal(t, 3, job.LastCycle().Errors)
	assert.Equal(t, "match_import", job.Name())
	assert.Equal(t, "@every 65s", job.Schedule())
}

func TestMatchImportJob_FatalFailures(t *testing.T) {
	tests := []struct {
		name     string
		cursor   *fakeCursor
		strategy strategyFunc
	}{
		{
			name:   "strategy error",
			cursor: &fakeCursor{current: models.Cursor{MatchID: 1000}},
			strategy: func(context.Context, *CycleState) error {
				return errBoom
			},
		},
		{
			name:   "strategy panic",
			cursor: &fakeCursor{current: models.Cursor{MatchID: 1000}},
			strategy: func(context.Context, *CycleState) error {
				panic("index out of range")
			},
		},
		{
			name:   "cursor unavailable",
			cursor: &fakeCursor{getErr: errBoom},
			strategy: func(context.Context, *CycleState) error {
				t.Fatal("strategy must not run without a cursor")
				return nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			job := NewMatchImportJob(tt.strategy, tt.cursor, notifier, "@every 65s", "worker-1")

			err := job.Execute(context.Background())
			require.Error(t, err)

			require.Len(t, notifier.events, 1)
			event := notifier.events[0]
			assert.Equal(t, notify.EventFatal, event.Type)
			assert.Equal(t, "worker-1", event.Host)
			assert.Equal(t, err.Error(), event.Error)
			assert.Empty(t, tt.cursor.sets)
		})
	}
}

func TestMatchImportJob_FatalNotifiedAfterShutdown(t *testing.T) {
	notifier := &recordingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())

	job := NewMatchImportJob(strategyFunc(func(context.Context, *CycleState) error {
		cancel()
		return errBoom
	}), &fakeCursor{}, notifier, "@every 65s", "worker-1")

	assert.ErrorIs(t, job.Execute(ctx), errBoom)
	assert.Equal(t, []notify.EventType{notify.EventFatal}, notifier.types())
}

func TestMatchImportJob_CyclesAcrossProcessesNeverRegress(t *testing.T) {
	store := cache.NewMemoryStore()
	defaults := models.Cursor{MatchID: 1000}

	newWorker := func(host string) *MatchImportJob {
		cursor := services.NewProgressCursor(store, "matches:load:last", host, defaults)
		step := strategyFunc(func(ctx context.Context, state *CycleState) error {
			next := state.Cursor
			next.MatchID += 50
			return cursor.Set(ctx, next)
		})
		return NewMatchImportJob(step, cursor, nil, "@every 65s", host)
	}
	a, b := newWorker("worker-1"), newWorker("worker-2")

	for _, job := range []*MatchImportJob{a, b, a, b} {
		require.NoError(t, job.Execute(context.Background()))
	}

	final := services.NewProgressCursor(store, "matches:load:last", "reader", defaults)
	got, err := final.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.MatchID(1200), got.MatchID)
	assert.Equal(t, "worker-2", got.Host)
}
