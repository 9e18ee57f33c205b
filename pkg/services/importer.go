package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/survarium-stats/importer/pkg/logger"
	"github.com/survarium-stats/importer/pkg/models"
	"github.com/survarium-stats/importer/pkg/notify"
	"github.com/survarium-stats/importer/pkg/statsapi"
)

// ErrNoMap is returned when a payload's map reference resolves to nothing.
var ErrNoMap = errors.New("no map found")

const timeStartLayout = "2006-01-02 15:04:05"

// ImporterConfig tunes a MatchImporter.
type ImporterConfig struct {
	// Language resolves legacy place/mode/weather titles.
	Language string
	// ParallelPlayers creates a match's stats concurrently instead of one
	// player at a time.
	ParallelPlayers bool
	Host            string
}

// MatchImporter imports single matches from the stats API into the store.
type MatchImporter struct {
	store    Store
	source   MatchSource
	clanwar  ClanWarDetector
	notifier notify.Notifier
	config   ImporterConfig
	logger   *logger.Logger
}

func NewMatchImporter(store Store, source MatchSource, clanwar ClanWarDetector, notifier notify.Notifier, config ImporterConfig) *MatchImporter {
	if clanwar == nil {
		clanwar = TeamClanDetector{}
	}
	if notifier == nil {
		notifier = notify.Nop()
	}
	if config.Language == "" {
		config.Language = "english"
	}
	return &MatchImporter{
		store:    store,
		source:   source,
		clanwar:  clanwar,
		notifier: notifier,
		config:   config,
		logger:   logger.New("match-importer"),
	}
}

// ImportOne imports match id. knownTS is the match's finish time when the
// caller knows it, 0 otherwise. Failures are reported in the result, never
// returned or panicked.
func (m *MatchImporter) ImportOne(ctx context.Context, id models.MatchID, knownTS int64) (result models.ImportResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = models.ImportResult{
				ID:     id,
				Status: models.StatusError,
				Err:    fmt.Errorf("panic importing match %d: %v", id, r),
			}
		}
		m.logger.LogImportResult(int64(id), string(result.Status), time.Since(start), result.Err)
	}()

	existing, err := m.store.FindMatch(ctx, id)
	if err != nil {
		return failed(id, fmt.Errorf("failed to look up match %d: %w", id, err))
	}
	if existing != nil {
		return models.ImportResult{ID: id, Status: models.StatusExists, Match: existing}
	}

	payload, err := m.source.GetMatchStatistic(ctx, id)
	if errors.Is(err, statsapi.ErrNoData) {
		if err := m.saveUnloaded(ctx, id, knownTS); err != nil {
			return failed(id, err)
		}
		return models.ImportResult{ID: id, Status: models.StatusNoSource, Err: err}
	}
	if err != nil {
		return failed(id, fmt.Errorf("failed to fetch match %d: %w", id, err))
	}
	if payload == nil {
		if err := m.saveUnloaded(ctx, id, knownTS); err != nil {
			return failed(id, err)
		}
		return models.ImportResult{ID: id, Status: models.StatusNoData}
	}

	match, err := m.saveMatch(ctx, id, payload)
	if err != nil {
		return failed(id, err)
	}
	if match == nil {
		return models.ImportResult{ID: id, Status: models.StatusSkipped}
	}
	return models.ImportResult{ID: id, Status: models.StatusAdded, Match: match}
}

func failed(id models.MatchID, err error) models.ImportResult {
	return models.ImportResult{ID: id, Status: models.StatusError, Err: err}
}

func (m *MatchImporter) saveUnloaded(ctx context.Context, id models.MatchID, knownTS int64) error {
	unloaded := models.UnloadedMatch{ID: id, Date: time.Unix(knownTS, 0).UTC()}
	if err := m.store.SaveUnloaded(ctx, unloaded); err != nil {
		return fmt.Errorf("failed to save unloaded match %d: %w", id, err)
	}
	return nil
}

// saveMatch returns a nil match when the payload is skipped.
func (m *MatchImporter) saveMatch(ctx context.Context, id models.MatchID, payload *models.MatchPayload) (*models.Match, error) {
	filtered, realPlayers := FilterMatch(payload)
	if filtered == nil {
		m.logger.Debug().
			Str("action", "match_malformed").
			Int64("match_id", int64(id)).
			Msg("Match payload has no rosters")
		return nil, nil
	}
	if realPlayers < 2 {
		m.logger.Debug().
			Str("action", "match_too_few_players").
			Int64("match_id", int64(id)).
			Int("real_players", realPlayers).
			Msg("Match has fewer than two real players")
		return nil, nil
	}

	stats := filtered.Stats
	match, err := m.newMatch(ctx, id, stats)
	if err != nil {
		return nil, err
	}

	var (
		statIDs []int64
		clans   []int64
	)
	err = m.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.CreateMatch(ctx, match); err != nil {
			return fmt.Errorf("failed to create match %d: %w", id, err)
		}

		created, err := m.saveStats(ctx, tx, match, placeTeams(stats.Accounts))
		if err != nil {
			return err
		}

		clans, err = m.clanwar.Detect(ctx, match, created)
		if err != nil {
			return fmt.Errorf("clan war detection failed for match %d: %w", id, err)
		}

		statIDs = make([]int64, len(created))
		for i, stat := range created {
			statIDs[i] = stat.ID
		}
		if err := tx.FinalizeMatch(ctx, id, statIDs, clans); err != nil {
			return fmt.Errorf("failed to save stat refs for match %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(clans) > 0 {
		m.notifier.Notify(ctx, notify.Event{
			Type:  notify.EventClanWar,
			Host:  m.config.Host,
			Match: int64(id),
		})
	}

	match.StatIDs = statIDs
	match.ClanWar = len(clans) > 0
	match.Clans = clans
	return match, nil
}

func (m *MatchImporter) newMatch(ctx context.Context, id models.MatchID, stats *models.MatchStats) (*models.Match, error) {
	date, err := time.ParseInLocation(timeStartLayout, strings.TrimSpace(stats.TimeStart), time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid time_start %q for match %d: %w", stats.TimeStart, id, err)
	}

	match := &models.Match{
		ID:          id,
		Date:        date,
		Duration:    int(stats.GameDuration),
		Server:      int(stats.ServerID),
		Replay:      stats.ReplayPath,
		Level:       int(stats.MatchLevel),
		RatingMatch: bool(stats.RatingMatch),
		Score:       stats.Scores(),
	}

	if err := m.resolveContext(ctx, match, stats.Context()); err != nil {
		return nil, fmt.Errorf("match %d: %w", id, err)
	}
	return match, nil
}

func (m *MatchImporter) resolveContext(ctx context.Context, match *models.Match, mc models.MatchContext) error {
	if mc.Kind == models.ContextMap {
		mapID, err := m.store.FindMap(ctx, mc.MapID)
		if err != nil {
			return fmt.Errorf("failed to load map %d: %w", mc.MapID, err)
		}
		if mapID == nil {
			return fmt.Errorf("%w: map %d", ErrNoMap, mc.MapID)
		}
		match.MapID = mapID
		return nil
	}

	lookups := []struct {
		kind  models.DictionaryKind
		title string
		dest  **int64
	}{
		{models.DictionaryPlace, mc.Place, &match.PlaceID},
		{models.DictionaryMode, mc.Mode, &match.ModeID},
		{models.DictionaryWeather, mc.Weather, &match.WeatherID},
	}
	for _, l := range lookups {
		ref, err := m.store.FindDictionaryEntry(ctx, l.kind, l.title, m.config.Language)
		if err != nil {
			return fmt.Errorf("failed to load %s %q: %w", l.kind, l.title, err)
		}
		*l.dest = ref
	}

	if match.PlaceID == nil && match.ModeID == nil && match.WeatherID == nil {
		return fmt.Errorf("%w: %s/%s/%s", ErrNoMap, mc.Place, mc.Mode, mc.Weather)
	}
	match.MapVersion = mc.MapVersion
	return nil
}

// saveStats creates one stat per placed entry and returns them in placement
// order. Any failure fails the match.
func (m *MatchImporter) saveStats(ctx context.Context, store Store, match *models.Match, placed []placedEntry) ([]*models.Stat, error) {
	created := make([]*models.Stat, len(placed))

	if !m.config.ParallelPlayers {
		for i, p := range placed {
			stat, err := m.saveStat(ctx, store, match, p)
			if err != nil {
				return nil, err
			}
			created[i] = stat
		}
		return created, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range placed {
		g.Go(func() error {
			stat, err := m.saveStat(gctx, store, match, p)
			if err != nil {
				return err
			}
			created[i] = stat
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return created, nil
}

func (m *MatchImporter) saveStat(ctx context.Context, store Store, match *models.Match, p placedEntry) (*models.Stat, error) {
	pid := string(p.entry.PID)

	player, err := store.LoadPlayer(ctx, pid, p.entry.Nickname)
	if err != nil {
		return nil, fmt.Errorf("failed to load player %s: %w", pid, err)
	}

	stat := buildStat(match, player, p)
	statID, err := store.CreateStat(ctx, stat)
	if err != nil {
		return nil, fmt.Errorf("failed to create stat for player %s in match %d: %w", pid, match.ID, err)
	}
	stat.ID = statID

	if err := store.AddPlayerStat(ctx, player.ID, stat); err != nil {
		return nil, fmt.Errorf("failed to update totals of player %s: %w", pid, err)
	}
	if stat.ClanID != nil {
		if err := store.AddClanStat(ctx, *stat.ClanID, stat); err != nil {
			return nil, fmt.Errorf("failed to update totals of clan %d: %w", *stat.ClanID, err)
		}
	}
	return stat, nil
}
