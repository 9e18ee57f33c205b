package services

import (
	"context"

	"github.com/survarium-stats/importer/pkg/models"
)

// Store is the document store the importer persists through.
type Store interface {
	// FindMatch returns nil without error when the match is not stored.
	FindMatch(ctx context.Context, id models.MatchID) (*models.Match, error)
	CreateMatch(ctx context.Context, match *models.Match) error
	// FinalizeMatch records the stat references and clan-war outcome.
	FinalizeMatch(ctx context.Context, id models.MatchID, statIDs []int64, clans []int64) error
	CreateStat(ctx context.Context, stat *models.Stat) (int64, error)
	// SaveUnloaded is a find-or-create of the match tombstone.
	SaveUnloaded(ctx context.Context, unloaded models.UnloadedMatch) error

	// FindMap and FindDictionaryEntry return nil without error when the
	// reference is unknown.
	FindMap(ctx context.Context, externalID int64) (*int64, error)
	FindDictionaryEntry(ctx context.Context, kind models.DictionaryKind, title, language string) (*int64, error)

	// LoadPlayer finds or creates a player by external id.
	LoadPlayer(ctx context.Context, externalID, nickname string) (*models.Player, error)
	AddPlayerStat(ctx context.Context, playerID int64, stat *models.Stat) error
	AddClanStat(ctx context.Context, clanID int64, stat *models.Stat) error

	// WithinTx runs fn against a Store whose writes commit only when fn
	// returns nil. A failed match leaves no match, stat or totals behind.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// MatchSource fetches raw match statistics.
type MatchSource interface {
	GetMatchStatistic(ctx context.Context, id models.MatchID) (*models.MatchPayload, error)
}
