package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/survarium-stats/importer/pkg/models"
	"github.com/survarium-stats/importer/pkg/notify"
)

type fakeImporter struct {
	mu      sync.Mutex
	calls   []models.MatchID
	knownTS map[models.MatchID]int64
	fail    map[models.MatchID]bool
	dates   map[models.MatchID]time.Time
}

func newFakeImporter() *fakeImporter {
	return &fakeImporter{
		knownTS: make(map[models.MatchID]int64),
		fail:    make(map[models.MatchID]bool),
		dates:   make(map[models.MatchID]time.Time),
	}
}

func (f *fakeImporter) ImportOne(_ context.Context, id models.MatchID, knownTS int64) models.ImportResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	f.knownTS[id] = knownTS

	if f.fail[id] {
		return models.ImportResult{ID: id, Status: models.StatusError, Err: fmt.Errorf("import of %d failed", id)}
	}
	match := &models.Match{ID: id, Date: f.dates[id]}
	return models.ImportResult{ID: id, Status: models.StatusAdded, Match: match}
}

func (f *fakeImporter) called() []models.MatchID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MatchID(nil), f.calls...)
}

type pageKey struct {
	ts     int64
	offset int
}

type fakeFeed struct {
	maxID    int64
	maxErr   error
	pages    map[pageKey]map[models.MatchID]int64
	requests []pageKey
}

func (f *fakeFeed) GetMaxMatchID(context.Context) (int64, error) {
	return f.maxID, f.maxErr
}

func (f *fakeFeed) GetNewMatches(_ context.Context, ts int64, limit, offset int) (map[models.MatchID]int64, error) {
	key := pageKey{ts: ts, offset: offset}
	f.requests = append(f.requests, key)
	if page, ok := f.pages[key]; ok {
		return page, nil
	}
	return map[models.MatchID]int64{}, nil
}

type fakeCursor struct {
	current models.Cursor
	sets    []models.Cursor
	getErr  error
	calls   []string
}

func (f *fakeCursor) Get(context.Context) (models.Cursor, error) {
	f.calls = append(f.calls, "get")
	return f.current, f.getErr
}

func (f *fakeCursor) Forget() {
	f.calls = append(f.calls, "forget")
}

func (f *fakeCursor) Set(_ context.Context, cursor models.Cursor) error {
	f.sets = append(f.sets, cursor)
	f.current = cursor
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type strategyFunc func(ctx context.Context, state *CycleState) error

func (f strategyFunc) Name() string { return "test" }

func (f strategyFunc) Run(ctx context.Context, state *CycleState) error { return f(ctx, state) }

var errBoom = errors.New("boom")

func idRange(from, to models.MatchID) []models.MatchID {
	ids := make([]models.MatchID, 0, to-from+1)
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}
