package models

import "time"

// MatchID is the external, monotonically issued match identifier.
type MatchID int64

// Match is the persisted match document. Either MapID or the legacy
// Place/Mode/Weather triple is set.
type Match struct {
	ID          MatchID   `json:"id"`
	Date        time.Time `json:"date"`
	Duration    int       `json:"duration"`
	Server      int       `json:"server"`
	Replay      string    `json:"replay,omitempty"`
	Level       int       `json:"level"`
	RatingMatch bool      `json:"rating_match"`
	Score       []int     `json:"score"`

	MapID      *int64 `json:"map,omitempty"`
	PlaceID    *int64 `json:"place,omitempty"`
	ModeID     *int64 `json:"mode,omitempty"`
	WeatherID  *int64 `json:"weather,omitempty"`
	MapVersion int    `json:"map_version,omitempty"`

	StatIDs []int64 `json:"stats"`
	ClanWar bool    `json:"clanwar"`
	Clans   []int64 `json:"clans,omitempty"`
}

// Stat is one player's line for one match.
type Stat struct {
	ID          int64     `json:"id"`
	Date        time.Time `json:"date"`
	MatchID     MatchID   `json:"match"`
	MapID       *int64    `json:"map,omitempty"`
	PlaceID     *int64    `json:"battlefield,omitempty"`
	ModeID      *int64    `json:"mode,omitempty"`
	WeatherID   *int64    `json:"weather,omitempty"`
	PlayerID    int64     `json:"player"`
	ClanID      *int64    `json:"clan,omitempty"`
	Team        string    `json:"team"`
	Level       int       `json:"level"`
	RatingMatch bool      `json:"rating_match"`
	Elo         int       `json:"elo"`

	Kills   int     `json:"kills"`
	Dies    int     `json:"dies"`
	KD      float64 `json:"kd"`
	Victory bool    `json:"victory"`
	Score   int     `json:"score"`
	Place   int     `json:"place"`

	Headshots     int `json:"headshots"`
	GrenadeKills  int `json:"grenadeKills"`
	MeleeKills    int `json:"meleeKills"`
	ArtefactKills int `json:"artefactKills"`
	PointCaptures int `json:"pointCaptures"`
	BoxesBringed  int `json:"boxesBringed"`
	ArtefactUses  int `json:"artefactUses"`
}

type Player struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Nickname   string `json:"nickname"`
	ClanID     *int64 `json:"clan,omitempty"`
	EloRating  int    `json:"elo_rating"`
	EloRandom  int    `json:"elo_random"`
}

// Elo picks the player's rating for the kind of match played.
func (p *Player) Elo(rating bool) int {
	if rating {
		return p.EloRating
	}
	return p.EloRandom
}

// UnloadedMatch is the tombstone for a match the API confirmed it has no data for.
type UnloadedMatch struct {
	ID   MatchID   `json:"id"`
	Date time.Time `json:"date"`
}

// DictionaryKind names the legacy lookup tables.
type DictionaryKind string

const (
	DictionaryPlace   DictionaryKind = "place"
	DictionaryMode    DictionaryKind = "mode"
	DictionaryWeather DictionaryKind = "weather"
)
