package services

import (
	"math"
	"sort"

	"github.com/survarium-stats/importer/pkg/models"
)

// KD is kills per death rounded to two decimals, or kills without deaths.
func KD(kills, dies int) float64 {
	if dies == 0 {
		return float64(kills)
	}
	return math.Round(float64(kills)/float64(dies)*100) / 100
}

// placedEntry is a roster entry with its 1-based placement within the team.
type placedEntry struct {
	team  string
	place int
	entry models.RosterEntry
}

// placeTeams orders every team by descending score and assigns placements.
// Equal scores keep roster order.
func placeTeams(accounts models.Accounts) []placedEntry {
	var placed []placedEntry
	for _, team := range accounts {
		members := make([]models.RosterEntry, len(team.Members))
		copy(members, team.Members)
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Score > members[j].Score
		})
		for i, member := range members {
			placed = append(placed, placedEntry{team: team.Key, place: i + 1, entry: member})
		}
	}
	return placed
}

// buildStat derives a stat document from a roster entry. Counters clamp
// negative input to 0.
func buildStat(match *models.Match, player *models.Player, p placedEntry) *models.Stat {
	e := p.entry
	kills := e.Kill.Int()
	dies := e.Die.Int()

	return &models.Stat{
		Date:        match.Date,
		MatchID:     match.ID,
		MapID:       match.MapID,
		PlaceID:     match.PlaceID,
		ModeID:      match.ModeID,
		WeatherID:   match.WeatherID,
		PlayerID:    player.ID,
		ClanID:      player.ClanID,
		Team:        p.team,
		Level:       match.Level,
		RatingMatch: match.RatingMatch,
		Elo:         player.Elo(match.RatingMatch),

		Kills:   kills,
		Dies:    dies,
		KD:      KD(kills, dies),
		Victory: bool(e.Victory),
		Score:   e.Score.Int(),
		Place:   p.place,

		Headshots:     e.HeadshotKill.Int(),
		GrenadeKills:  e.GrenadeKill.Int(),
		MeleeKills:    e.MeleeKill.Int(),
		ArtefactKills: e.ArtefactKill.Int(),
		PointCaptures: e.CaptureAPoint.Int(),
		BoxesBringed:  e.BringABox.Int(),
		ArtefactUses:  e.UseArtefact.Int(),
	}
}
