package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/survarium-stats/importer/pkg/logger"
	"github.com/survarium-stats/importer/pkg/models"
	"github.com/survarium-stats/importer/pkg/services"
	"github.com/survarium-stats/importer/pkg/utils"
)

// ErrDuplicate is returned when a unique document already exists.
var ErrDuplicate = errors.New("document already exists")

const uniqueViolation = "23505"

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store is the PostgreSQL document store of matches, stats, players and
// clans.
type Store struct {
	db     DBTX
	logger *logger.Logger
}

func NewStore(db DBTX) *Store {
	return &Store{
		db:     db,
		logger: logger.New("document-store"),
	}
}

// txBeginner is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx (savepoint)
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithinTx runs fn in one transaction. A DBTX that cannot begin one runs fn
// directly.
func (s *Store) WithinTx(ctx context.Context, fn func(tx services.Store) error) error {
	beginner, ok := s.db.(txBeginner)
	if !ok {
		return fn(s)
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// No-op after a successful commit; also covers panics inside fn
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&Store{db: &serialTx{tx: tx}, logger: s.logger}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// serialTx lets the parallel stat writers of one match share a transaction.
// A pgx.Tx owns a single connection, so statements take turns.
type serialTx struct {
	mu sync.Mutex
	tx pgx.Tx
}

func (t *serialTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx.Exec(ctx, sql, args...)
}

func (t *serialTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	t.mu.Lock()
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	return &serialRows{Rows: rows, unlock: sync.OnceFunc(t.mu.Unlock)}, nil
}

// QueryRow holds the connection until the row is scanned.
func (t *serialTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	t.mu.Lock()
	return &serialRow{row: t.tx.QueryRow(ctx, sql, args...), unlock: sync.OnceFunc(t.mu.Unlock)}
}

type serialRows struct {
	pgx.Rows
	unlock func()
}

func (r *serialRows) Close() {
	r.Rows.Close()
	r.unlock()
}

type serialRow struct {
	row    pgx.Row
	unlock func()
}

func (r *serialRow) Scan(dest ...interface{}) error {
	defer r.unlock()
	return r.row.Scan(dest...)
}

const findMatchQuery = `SELECT id, date, duration, server, COALESCE(replay, ''), level, rating_match, score,
	map_id, place_id, mode_id, weather_id, map_version, stat_ids, clanwar, clans
	FROM matches WHERE id = $1`

func (s *Store) FindMatch(ctx context.Context, id models.MatchID) (*models.Match, error) {
	var (
		match   models.Match
		matchID int64
		score   []int32
	)

	err := s.db.QueryRow(ctx, findMatchQuery, int64(id)).Scan(
		&matchID, &match.Date, &match.Duration, &match.Server, &match.Replay, &match.Level,
		&match.RatingMatch, &score, &match.MapID, &match.PlaceID, &match.ModeID, &match.WeatherID,
		&match.MapVersion, &match.StatIDs, &match.ClanWar, &match.Clans,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find match %d: %w", id, err)
	}

	match.ID = models.MatchID(matchID)
	match.Score = make([]int, len(score))
	for i, v := range score {
		match.Score[i] = int(v)
	}
	return &match, nil
}

const createMatchQuery = `INSERT INTO matches (id, date, duration, server, replay, level, rating_match, score,
	map_id, place_id, mode_id, weather_id, map_version)
	VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13)`

func (s *Store) CreateMatch(ctx context.Context, match *models.Match) error {
	score := make([]int32, len(match.Score))
	for i, v := range match.Score {
		score[i] = int32(v)
	}

	start := time.Now()
	tag, err := s.db.Exec(ctx, createMatchQuery,
		int64(match.ID), match.Date, match.Duration, match.Server, match.Replay, match.Level,
		match.RatingMatch, score, match.MapID, match.PlaceID, match.ModeID, match.WeatherID, match.MapVersion,
	)
	s.logger.LogDatabaseOperation("insert", "matches", int(tag.RowsAffected()), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to create match %d: %w", match.ID, classify(err))
	}
	return nil
}

const finalizeMatchQuery = `UPDATE matches SET stat_ids = $2, clanwar = $3, clans = $4 WHERE id = $1`

func (s *Store) FinalizeMatch(ctx context.Context, id models.MatchID, statIDs []int64, clans []int64) error {
	if statIDs == nil {
		statIDs = []int64{}
	}
	if clans == nil {
		clans = []int64{}
	}

	start := time.Now()
	tag, err := s.db.Exec(ctx, finalizeMatchQuery, int64(id), statIDs, len(clans) > 0, clans)
	s.logger.LogDatabaseOperation("update", "matches", int(tag.RowsAffected()), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to finalize match %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to finalize match %d: match not found", id)
	}
	return nil
}

const createStatQuery = `INSERT INTO stats (date, match_id, map_id, place_id, mode_id, weather_id, player_id,
	clan_id, team, level, rating_match, elo, kills, dies, kd, victory, score, place, headshots,
	grenade_kills, melee_kills, artefact_kills, point_captures, boxes_bringed, artefact_uses)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
	$20, $21, $22, $23, $24, $25)
	RETURNING id`

func (s *Store) CreateStat(ctx context.Context, stat *models.Stat) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, createStatQuery,
		stat.Date, int64(stat.MatchID), stat.MapID, stat.PlaceID, stat.ModeID, stat.WeatherID, stat.PlayerID,
		stat.ClanID, stat.Team, stat.Level, stat.RatingMatch, stat.Elo, stat.Kills, stat.Dies, stat.KD,
		stat.Victory, stat.Score, stat.Place, stat.Headshots, stat.GrenadeKills, stat.MeleeKills,
		stat.ArtefactKills, stat.PointCaptures, stat.BoxesBringed, stat.ArtefactUses,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create stat for match %d player %d: %w", stat.MatchID, stat.PlayerID, classify(err))
	}
	return id, nil
}

const saveUnloadedQuery = `INSERT INTO unloaded_matches (id, date) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`

func (s *Store) SaveUnloaded(ctx context.Context, unloaded models.UnloadedMatch) error {
	start := time.Now()
	tag, err := s.db.Exec(ctx, saveUnloadedQuery, int64(unloaded.ID), unloaded.Date)
	s.logger.LogDatabaseOperation("insert", "unloaded_matches", int(tag.RowsAffected()), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save unloaded match %d: %w", unloaded.ID, err)
	}
	return nil
}

func (s *Store) FindMap(ctx context.Context, externalID int64) (*int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `SELECT id FROM maps WHERE external_id = $1`, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find map %d: %w", externalID, err)
	}
	return &id, nil
}

// FindDictionaryEntry matches titles by slug so case and punctuation
// differences between API payloads do not matter.
func (s *Store) FindDictionaryEntry(ctx context.Context, kind models.DictionaryKind, title, language string) (*int64, error) {
	key := utils.NormalizeSlug(title)
	if key == "" {
		return nil, nil
	}

	var id int64
	err := s.db.QueryRow(ctx,
		`SELECT id FROM dictionary_entries WHERE kind = $1 AND language = $2 AND slug = $3`,
		string(kind), language, key,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s %q: %w", kind, title, err)
	}
	return &id, nil
}

const loadPlayerQuery = `INSERT INTO players (external_id, nickname) VALUES ($1, $2)
	ON CONFLICT (external_id) DO UPDATE
	SET nickname = COALESCE(NULLIF(EXCLUDED.nickname, ''), players.nickname)
	RETURNING id, external_id, nickname, clan_id, elo_rating, elo_random`

func (s *Store) LoadPlayer(ctx context.Context, externalID, nickname string) (*models.Player, error) {
	var p models.Player
	err := s.db.QueryRow(ctx, loadPlayerQuery, externalID, nickname).Scan(
		&p.ID, &p.ExternalID, &p.Nickname, &p.ClanID, &p.EloRating, &p.EloRandom,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load player %s: %w", externalID, err)
	}
	return &p, nil
}

const totalsSet = `total_matches = total_matches + 1,
	total_victories = total_victories + $2,
	total_kills = total_kills + $3,
	total_dies = total_dies + $4,
	total_headshots = total_headshots + $5,
	total_grenade_kills = total_grenade_kills + $6,
	total_melee_kills = total_melee_kills + $7,
	total_artefact_kills = total_artefact_kills + $8,
	total_point_captures = total_point_captures + $9,
	total_boxes_bringed = total_boxes_bringed + $10,
	total_artefact_uses = total_artefact_uses + $11`

var (
	addPlayerStatQuery = `UPDATE players SET ` + totalsSet + ` WHERE id = $1`
	addClanStatQuery   = `UPDATE clans SET ` + totalsSet + ` WHERE id = $1`
)

func (s *Store) AddPlayerStat(ctx context.Context, playerID int64, stat *models.Stat) error {
	return s.addTotals(ctx, "players", addPlayerStatQuery, playerID, stat)
}

func (s *Store) AddClanStat(ctx context.Context, clanID int64, stat *models.Stat) error {
	return s.addTotals(ctx, "clans", addClanStatQuery, clanID, stat)
}

// addTotals increments running totals. The stat reference itself lives on
// the stats row, so only counters change here.
func (s *Store) addTotals(ctx context.Context, table, query string, id int64, stat *models.Stat) error {
	victory := 0
	if stat.Victory {
		victory = 1
	}

	start := time.Now()
	tag, err := s.db.Exec(ctx, query, id, victory, stat.Kills, stat.Dies, stat.Headshots, stat.GrenadeKills,
		stat.MeleeKills, stat.ArtefactKills, stat.PointCaptures, stat.BoxesBringed, stat.ArtefactUses)
	s.logger.LogDatabaseOperation("update", table, int(tag.RowsAffected()), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to update %s totals for %d: %w", table, id, err)
	}
	return nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
