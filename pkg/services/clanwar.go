package services

import (
	"context"

	"github.com/survarium-stats/importer/pkg/models"
)

// ClanWarDetector classifies a finished match as a clan war. It returns the
// opposing clan ids, or nil when the match is not a clan war.
type ClanWarDetector interface {
	Detect(ctx context.Context, match *models.Match, stats []*models.Stat) ([]int64, error)
}

// TeamClanDetector reports a clan war when there are exactly two teams, each
// made up entirely of members of one clan, and the two clans differ.
type TeamClanDetector struct{}

func (TeamClanDetector) Detect(_ context.Context, _ *models.Match, stats []*models.Stat) ([]int64, error) {
	var order []string
	clans := make(map[string]int64)

	for _, stat := range stats {
		if stat.ClanID == nil {
			return nil, nil
		}
		clan, seen := clans[stat.Team]
		if !seen {
			order = append(order, stat.Team)
			clans[stat.Team] = *stat.ClanID
			continue
		}
		if clan != *stat.ClanID {
			return nil, nil
		}
	}

	if len(order) != 2 {
		return nil, nil
	}
	first, second := clans[order[0]], clans[order[1]]
	if first == second {
		return nil, nil
	}
	return []int64{first, second}, nil
}
