package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// MaxMatchIDResponse is returned by the max match id endpoint.
type MaxMatchIDResponse struct {
	MaxMatchID struct {
		API FlexInt `json:"api"`
	} `json:"max_match_id"`
}

// NewMatchesResponse maps match ids to their finish timestamps (unix seconds).
// Matches is nil when the API has nothing newer than the requested timestamp.
type NewMatchesResponse struct {
	Matches map[string]FlexInt `json:"matches"`
}

// MatchPayload is the raw match statistic document.
type MatchPayload struct {
	MatchID FlexInt     `json:"match_id"`
	Stats   *MatchStats `json:"stats"`
}

type MatchStats struct {
	// MapID is present only in the current payload format.
	MapID      *FlexInt `json:"map_id"`
	Map        string   `json:"map"`
	Mode       string   `json:"mode"`
	Weather    string   `json:"weather"`
	MapVersion FlexInt  `json:"map_version"`

	TimeStart    string   `json:"time_start"`
	GameDuration FlexInt  `json:"game_duration"`
	ServerID     FlexInt  `json:"server_id"`
	ReplayPath   string   `json:"replay_path"`
	MatchLevel   FlexInt  `json:"match_level"`
	RatingMatch  FlexBool `json:"rating_match"`
	Team1Score   FlexInt  `json:"team_1_score"`
	Team2Score   FlexInt  `json:"team_2_score"`

	Accounts Accounts `json:"accounts"`
}

// ContextKind tags which shape of map reference a payload carries.
type ContextKind int

const (
	// ContextMap references a map dictionary entry by id (current API).
	ContextMap ContextKind = iota
	// ContextLegacy names place, mode and weather in the default language.
	ContextLegacy
)

// MatchContext is the parsed map reference of a match payload.
type MatchContext struct {
	Kind       ContextKind
	MapID      int64
	Place      string
	Mode       string
	Weather    string
	MapVersion int
}

// Context resolves the payload variant at the boundary instead of probing
// fields ad hoc further down.
func (s *MatchStats) Context() MatchContext {
	if s.MapID != nil {
		return MatchContext{Kind: ContextMap, MapID: int64(*s.MapID)}
	}
	return MatchContext{
		Kind:       ContextLegacy,
		Place:      s.Map,
		Mode:       s.Mode,
		Weather:    s.Weather,
		MapVersion: int(s.MapVersion),
	}
}

// Scores returns the non-zero team scores in team order.
func (s *MatchStats) Scores() []int {
	scores := make([]int, 0, 2)
	for _, v := range []FlexInt{s.Team1Score, s.Team2Score} {
		if v != 0 {
			scores = append(scores, int(v))
		}
	}
	return scores
}

// Accounts holds the team rosters ordered by team key.
type Accounts []Team

type Team struct {
	Key     string
	Members []RosterEntry
}

// RosterEntry is one player line of a team. Bots carry no PID.
type RosterEntry struct {
	Index         int        `json:"-"`
	PID           FlexString `json:"pid"`
	Nickname      string     `json:"nickname"`
	Kill          FlexInt    `json:"kill"`
	Die           FlexInt    `json:"die"`
	Victory       FlexBool   `json:"victory"`
	Score         FlexInt    `json:"score"`
	HeadshotKill  FlexInt    `json:"headshot_kill"`
	GrenadeKill   FlexInt    `json:"grenade_kill"`
	MeleeKill     FlexInt    `json:"melee_kill"`
	ArtefactKill  FlexInt    `json:"artefact_kill"`
	CaptureAPoint FlexInt    `json:"capture_a_point"`
	BringABox     FlexInt    `json:"bring_a_box"`
	UseArtefact   FlexInt    `json:"use_artefact"`
}

// UnmarshalJSON accepts rosters keyed by team id whose members are either an
// index-keyed object or an array.
func (a *Accounts) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}

	var teams map[string]json.RawMessage
	if data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decode accounts: %w", err)
		}
		teams = make(map[string]json.RawMessage, len(list))
		for i, raw := range list {
			teams[strconv.Itoa(i)] = raw
		}
	} else if err := json.Unmarshal(data, &teams); err != nil {
		return fmt.Errorf("decode accounts: %w", err)
	}

	result := make(Accounts, 0, len(teams))
	for key, raw := range teams {
		members, err := decodeMembers(raw)
		if err != nil {
			return fmt.Errorf("decode team %s: %w", key, err)
		}
		result = append(result, Team{Key: key, Members: members})
	}
	sort.Slice(result, func(i, j int) bool { return keyLess(result[i].Key, result[j].Key) })

	*a = result
	return nil
}

func decodeMembers(raw json.RawMessage) ([]RosterEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		var list []*RosterEntry
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		members := make([]RosterEntry, 0, len(list))
		for i, m := range list {
			if m == nil {
				continue
			}
			m.Index = i
			members = append(members, *m)
		}
		return members, nil
	}

	var byIndex map[string]*RosterEntry
	if err := json.Unmarshal(raw, &byIndex); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(byIndex))
	for k := range byIndex {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	members := make([]RosterEntry, 0, len(keys))
	for _, k := range keys {
		m := byIndex[k]
		if m == nil {
			continue
		}
		m.Index, _ = strconv.Atoi(k)
		members = append(members, *m)
	}
	return members, nil
}

// keyLess orders numeric keys numerically and everything else lexically.
func keyLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}
