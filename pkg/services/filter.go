package services

import "github.com/survarium-stats/importer/pkg/models"

// FilterMatch drops roster entries without a player id (bots) and reindexes
// each team densely from 0. It returns nil when the payload has no rosters,
// along with the number of real players kept.
func FilterMatch(payload *models.MatchPayload) (*models.MatchPayload, int) {
	if payload == nil || payload.Stats == nil || payload.Stats.Accounts == nil {
		return nil, 0
	}

	stats := *payload.Stats
	teams := make(models.Accounts, 0, len(stats.Accounts))
	realPlayers := 0

	for _, team := range stats.Accounts {
		members := make([]models.RosterEntry, 0, len(team.Members))
		for _, member := range team.Members {
			if member.PID == "" {
				continue
			}
			member.Index = len(members)
			members = append(members, member)
		}
		realPlayers += len(members)
		teams = append(teams, models.Team{Key: team.Key, Members: members})
	}

	stats.Accounts = teams
	return &models.MatchPayload{MatchID: payload.MatchID, Stats: &stats}, realPlayers
}
