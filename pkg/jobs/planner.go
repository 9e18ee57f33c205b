package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/survarium-stats/importer/pkg/logger"
	"github.com/survarium-stats/importer/pkg/models"
	"github.com/survarium-stats/importer/pkg/notify"
)

// MatchImporter imports a single match; failures are carried in the result.
type MatchImporter interface {
	ImportOne(ctx context.Context, id models.MatchID, knownTS int64) models.ImportResult
}

// MatchFeed lists matches available for import.
type MatchFeed interface {
	GetMaxMatchID(ctx context.Context) (int64, error)
	// GetNewMatches returns an empty map when nothing newer than ts exists.
	GetNewMatches(ctx context.Context, ts int64, limit, offset int) (map[models.MatchID]int64, error)
}

// CursorStore reads and persists the import position. Writes are memoized
// for the rest of a cycle; Forget ends that.
type CursorStore interface {
	Get(ctx context.Context) (models.Cursor, error)
	Set(ctx context.Context, cursor models.Cursor) error
	Forget()
}

// Strategy plans and imports batches until caught up, rolled back or asked
// to stop.
type Strategy interface {
	Name() string
	Run(ctx context.Context, state *CycleState) error
}

// PlannerConfig tunes batch planning.
type PlannerConfig struct {
	BatchSize int
	// MatchTill caps the by-id upper bound when positive.
	MatchTill int64
	// Concurrency is the number of matches imported at once; 1 keeps order.
	Concurrency int
	// ErrorRatio rolls the cursor back when errors >= batch length * ratio.
	ErrorRatio float64
	Host       string
}

// Failure is one failed import of a batch.
type Failure struct {
	ID  models.MatchID
	Err error
}

// CycleState is the explicit state of one scheduler cycle, threaded through
// every batch round.
type CycleState struct {
	Cursor     models.Cursor
	Rounds     int
	Processed  int
	Errors     int
	RolledBack bool
	Stopped    bool
}

type batchItem struct {
	id models.MatchID
	ts int64
}

type batchOutcome struct {
	results  []models.ImportResult
	failures []Failure
}

func (o batchOutcome) tooManyErrors(ratio float64) bool {
	n := len(o.results)
	return n > 0 && len(o.failures) > 0 && float64(len(o.failures)) >= float64(n)*ratio
}

func (o batchOutcome) lastFailure() Failure {
	if len(o.failures) == 0 {
		return Failure{}
	}
	return o.failures[len(o.failures)-1]
}

// planner holds what both strategies share.
type planner struct {
	importer MatchImporter
	feed     MatchFeed
	cursor   CursorStore
	notifier notify.Notifier
	config   PlannerConfig
	logger   *logger.Logger
}

func newPlanner(importer MatchImporter, feed MatchFeed, cursor CursorStore, notifier notify.Notifier, config PlannerConfig) planner {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.ErrorRatio <= 0 {
		config.ErrorRatio = 0.1
	}
	if notifier == nil {
		notifier = notify.Nop()
	}
	return planner{
		importer: importer,
		feed:     feed,
		cursor:   cursor,
		notifier: notifier,
		config:   config,
		logger:   logger.New("batch-planner"),
	}
}

// importBatch imports items with bounded fan-out. Results keep item order.
func (p *planner) importBatch(ctx context.Context, items []batchItem) batchOutcome {
	results := make([]models.ImportResult, len(items))

	var g errgroup.Group
	g.SetLimit(p.config.Concurrency)
	for i, item := range items {
		g.Go(func() error {
			results[i] = p.importer.ImportOne(ctx, item.id, item.ts)
			return nil
		})
	}
	_ = g.Wait()

	out := batchOutcome{results: results}
	for _, r := range results {
		if r.Failed() {
			out.failures = append(out.failures, Failure{ID: r.ID, Err: r.Err})
		}
	}
	return out
}

// rollback persists the cursor the batch started from and reports the
// failure rate.
func (p *planner) rollback(ctx context.Context, state *CycleState, start models.Cursor, out batchOutcome) error {
	last := out.lastFailure()

	p.logger.Warn().
		Str("action", "cursor_rollback").
		Int("errors", len(out.failures)).
		Int("total", len(out.results)).
		Int64("match_id", int64(start.MatchID)).
		Int64("ts", start.Timestamp).
		Int64("last_error_match", int64(last.ID)).
		Msg("Too many import errors, keeping cursor at batch start")

	if err := p.cursor.Set(ctx, start); err != nil {
		return fmt.Errorf("failed to roll back cursor: %w", err)
	}
	state.Cursor = start
	state.RolledBack = true

	event := notify.Event{
		Type:           notify.EventTooMuchErrors,
		Host:           p.config.Host,
		Timestamp:      start.Timestamp,
		Match:          int64(start.MatchID),
		Errors:         len(out.failures),
		Total:          len(out.results),
		LastErrorMatch: int64(last.ID),
	}
	if last.Err != nil {
		event.LastError = last.Err.Error()
	}
	p.notifier.Notify(ctx, event)
	return nil
}

func (p *planner) advance(ctx context.Context, state *CycleState, next models.Cursor) error {
	if err := p.cursor.Set(ctx, next); err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	state.Cursor = next

	p.logger.Info().
		Str("action", "cursor_advanced").
		Int64("match_id", int64(next.MatchID)).
		Int64("ts", next.Timestamp).
		Int("offset", next.Offset).
		Msg("Cursor advanced")
	return nil
}

func (p *planner) record(state *CycleState, out batchOutcome, took time.Duration) {
	state.Rounds++
	state.Processed += len(out.results)
	state.Errors += len(out.failures)

	counts := make(map[models.ImportStatus]int)
	for _, r := range out.results {
		counts[r.Status]++
	}

	evt := p.logger.Info().
		Str("action", "batch_imported").
		Int("round", state.Rounds).
		Int("total", len(out.results)).
		Dur("duration", took)
	for status, n := range counts {
		evt = evt.Int(string(status), n)
	}
	evt.Msg("Batch imported")
}

// stopping reports a shutdown request between rounds.
func (p *planner) stopping(ctx context.Context, state *CycleState) bool {
	if ctx.Err() == nil {
		return false
	}
	state.Stopped = true
	p.logger.Info().
		Str("action", "planner_stopped").
		Int("rounds", state.Rounds).
		Msg("Shutdown requested, not starting another batch")
	return true
}

// ByIDStrategy imports consecutive match ids after the cursor, staying one
// batch behind the API's newest match.
type ByIDStrategy struct {
	planner
}

func NewByIDStrategy(importer MatchImporter, feed MatchFeed, cursor CursorStore, notifier notify.Notifier, config PlannerConfig) *ByIDStrategy {
	return &ByIDStrategy{planner: newPlanner(importer, feed, cursor, notifier, config)}
}

func (s *ByIDStrategy) Name() string {
	return "by_id"
}

func (s *ByIDStrategy) Run(ctx context.Context, state *CycleState) error {
	// In-flight batches run to completion after shutdown is requested
	runCtx := context.WithoutCancel(ctx)
	batch := s.config.BatchSize

	for !s.stopping(ctx, state) {
		start := state.Cursor

		maxID, err := s.feed.GetMaxMatchID(runCtx)
		if err != nil {
			return fmt.Errorf("failed to get max match id: %w", err)
		}

		upper := maxID - int64(batch)
		if s.config.MatchTill > 0 && upper > s.config.MatchTill {
			upper = s.config.MatchTill
		}

		length := int64(batch)
		if available := upper - int64(start.MatchID); available < length {
			length = available
		}
		if length <= 0 {
			s.logger.Info().
				Str("action", "caught_up").
				Int64("match_id", int64(start.MatchID)).
				Int64("max_match_id", maxID).
				Msg("No new matches to import")
			return nil
		}

		items := make([]batchItem, length)
		for i := range items {
			items[i] = batchItem{id: start.MatchID + models.MatchID(i+1)}
		}

		began := time.Now()
		out := s.importBatch(runCtx, items)
		s.record(state, out, time.Since(began))

		if out.tooManyErrors(s.config.ErrorRatio) {
			return s.rollback(runCtx, state, start, out)
		}

		next := start
		next.MatchID = items[len(items)-1].id
		for _, r := range out.results {
			if r.Match != nil && r.Match.Date.Unix() > next.Timestamp {
				next.Timestamp = r.Match.Date.Unix()
			}
		}
		if err := s.advance(runCtx, state, next); err != nil {
			return err
		}

		if length < int64(batch) {
			return nil
		}
	}
	return nil
}

// ByTimestampStrategy pages through matches finished after the cursor's
// timestamp.
type ByTimestampStrategy struct {
	planner
}

func NewByTimestampStrategy(importer MatchImporter, feed MatchFeed, cursor CursorStore, notifier notify.Notifier, config PlannerConfig) *ByTimestampStrategy {
	return &ByTimestampStrategy{planner: newPlanner(importer, feed, cursor, notifier, config)}
}

func (s *ByTimestampStrategy) Name() string {
	return "by_timestamp"
}

func (s *ByTimestampStrategy) Run(ctx context.Context, state *CycleState) error {
	runCtx := context.WithoutCancel(ctx)
	batch := s.config.BatchSize

	for !s.stopping(ctx, state) {
		start := state.Cursor

		page, err := s.feed.GetNewMatches(runCtx, start.Timestamp, batch, start.Offset)
		if err != nil {
			return fmt.Errorf("failed to get new matches from %d: %w", start.Timestamp, err)
		}
		if len(page) == 0 {
			s.logger.Info().
				Str("action", "no_updates").
				Int64("ts", start.Timestamp).
				Int("offset", start.Offset).
				Msg("No new matches available")
			s.notifier.Notify(runCtx, notify.Event{
				Type:      notify.EventNoUpdates,
				Host:      s.config.Host,
				Timestamp: start.Timestamp,
			})
			return nil
		}

		items := sortPage(page)

		began := time.Now()
		out := s.importBatch(runCtx, items)
		s.record(state, out, time.Since(began))

		if out.tooManyErrors(s.config.ErrorRatio) {
			return s.rollback(runCtx, state, start, out)
		}

		last := items[len(items)-1]
		full := len(items) >= batch

		next := start
		next.MatchID = last.id
		switch {
		case full && len(items) > 1 && items[len(items)-2].ts == last.ts:
			// A burst shares the last timestamp: page past it from the same origin
			next.Offset = start.Offset + batch
		case full:
			next.Timestamp = last.ts
			next.Offset = 0
		default:
			next.Timestamp = last.ts
			next.Offset = 0
			// The API's lower bound is exclusive
			if last.ts-1 != start.Timestamp {
				next.Timestamp = last.ts - 1
			}
		}

		if err := s.advance(runCtx, state, next); err != nil {
			return err
		}

		if !full {
			return nil
		}
	}
	return nil
}

// sortPage orders a page by finish time, then id. The API does not sort.
func sortPage(page map[models.MatchID]int64) []batchItem {
	items := make([]batchItem, 0, len(page))
	for id, ts := range page {
		items = append(items, batchItem{id: id, ts: ts})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ts != items[j].ts {
			return items[i].ts < items[j].ts
		}
		return items[i].id < items[j].id
	})
	return items
}
