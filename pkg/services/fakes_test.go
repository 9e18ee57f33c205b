package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/survarium-stats/importer/pkg/models"
	"github.com/survarium-stats/importer/pkg/notify"
)

type fakeStore struct {
	mu sync.Mutex

	matches    map[models.MatchID]*models.Match
	stats      []*models.Stat
	unloaded   []models.UnloadedMatch
	players    map[string]*models.Player
	maps       map[int64]int64
	dictionary map[string]int64

	playerTotals map[int64]int
	clanTotals   map[int64]int
	finalized    map[models.MatchID][]int64

	failCreateStat bool
	failUnloaded   bool
	panicOnFind    bool

	commits   int
	rollbacks int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		matches:      make(map[models.MatchID]*models.Match),
		players:      make(map[string]*models.Player),
		maps:         make(map[int64]int64),
		dictionary:   make(map[string]int64),
		playerTotals: make(map[int64]int),
		clanTotals:   make(map[int64]int),
		finalized:    make(map[models.MatchID][]int64),
	}
}

func (s *fakeStore) FindMatch(_ context.Context, id models.MatchID) (*models.Match, error) {
	if s.panicOnFind {
		panic("store exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches[id], nil
}

func (s *fakeStore) CreateMatch(_ context.Context, match *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[match.ID]; ok {
		return fmt.Errorf("duplicate match %d", match.ID)
	}
	s.matches[match.ID] = match
	return nil
}

func (s *fakeStore) FinalizeMatch(_ context.Context, id models.MatchID, statIDs []int64, clans []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized[id] = statIDs
	s.matches[id].StatIDs = statIDs
	s.matches[id].Clans = clans
	s.matches[id].ClanWar = len(clans) > 0
	return nil
}

func (s *fakeStore) CreateStat(_ context.Context, stat *models.Stat) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateStat {
		return 0, fmt.Errorf("stat insert failed")
	}
	for _, existing := range s.stats {
		if existing.MatchID == stat.MatchID && existing.PlayerID == stat.PlayerID {
			return 0, fmt.Errorf("duplicate stat for match %d player %d", stat.MatchID, stat.PlayerID)
		}
	}
	s.stats = append(s.stats, stat)
	return int64(len(s.stats)), nil
}

func (s *fakeStore) SaveUnloaded(_ context.Context, unloaded models.UnloadedMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUnloaded {
		return fmt.Errorf("tombstone insert failed")
	}
	for _, u := range s.unloaded {
		if u.ID == unloaded.ID {
			return nil
		}
	}
	s.unloaded = append(s.unloaded, unloaded)
	return nil
}

func (s *fakeStore) FindMap(_ context.Context, externalID int64) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.maps[externalID]; ok {
		return &id, nil
	}
	return nil, nil
}

func (s *fakeStore) FindDictionaryEntry(_ context.Context, kind models.DictionaryKind, title, language string) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.dictionary[string(kind)+":"+language+":"+title]; ok {
		return &id, nil
	}
	return nil, nil
}

func (s *fakeStore) LoadPlayer(_ context.Context, externalID, nickname string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[externalID]; ok {
		return p, nil
	}
	p := &models.Player{ID: int64(len(s.players) + 1), ExternalID: externalID, Nickname: nickname}
	s.players[externalID] = p
	return p, nil
}

func (s *fakeStore) AddPlayerStat(_ context.Context, playerID int64, _ *models.Stat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerTotals[playerID]++
	return nil
}

func (s *fakeStore) AddClanStat(_ context.Context, clanID int64, _ *models.Stat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clanTotals[clanID]++
	return nil
}

// WithinTx restores every collection to its state before fn when fn fails.
func (s *fakeStore) WithinTx(_ context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	matches := cloneMap(s.matches)
	players := cloneMap(s.players)
	playerTotals := cloneMap(s.playerTotals)
	clanTotals := cloneMap(s.clanTotals)
	finalized := cloneMap(s.finalized)
	stats := append([]*models.Stat(nil), s.stats...)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.matches, s.players, s.stats = matches, players, stats
		s.playerTotals, s.clanTotals, s.finalized = playerTotals, clanTotals, finalized
		s.rollbacks++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *fakeStore) statsFor(id models.MatchID) []*models.Stat {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Stat
	for _, stat := range s.stats {
		if stat.MatchID == id {
			out = append(out, stat)
		}
	}
	return out
}

type fakeSource struct {
	mu       sync.Mutex
	payloads map[models.MatchID]string
	errs     map[models.MatchID]error
	calls    map[models.MatchID]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		payloads: make(map[models.MatchID]string),
		errs:     make(map[models.MatchID]error),
		calls:    make(map[models.MatchID]int),
	}
}

func (f *fakeSource) GetMatchStatistic(_ context.Context, id models.MatchID) (*models.MatchPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	raw, ok := f.payloads[id]
	if !ok {
		return nil, nil
	}
	return decodePayload(raw)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, string(event.Type))
}

func decodePayload(raw string) (*models.MatchPayload, error) {
	var payload models.MatchPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

const currentPayload = `{
	"match_id": "4895100",
	"stats": {
		"map_id": 12,
		"time_start": "2016-05-16 10:00:00",
		"game_duration": "600",
		"server_id": 3,
		"replay_path": "",
		"match_level": "5",
		"rating_match": "1",
		"team_1_score": 3,
		"team_2_score": 0,
		"accounts": {
			"0": {
				"0": {"pid": "100", "nickname": "alpha", "kill": 4, "die": 2, "victory": 1, "score": 10},
				"1": {"pid": "", "nickname": "bot"},
				"2": {"pid": "101", "nickname": "bravo", "kill": "x", "die": 0, "victory": 1, "score": 30},
				"3": {"pid": "102", "nickname": "charlie", "kill": 1, "die": 3, "victory": 1, "score": 20}
			},
			"1": {
				"0": {"pid": "200", "nickname": "delta", "kill": 2, "die": 5, "victory": 0, "score": 15}
			}
		}
	}
}`
