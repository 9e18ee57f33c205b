package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS maps (
		id BIGSERIAL PRIMARY KEY,
		external_id BIGINT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS dictionary_entries (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		language TEXT NOT NULL,
		slug TEXT NOT NULL,
		title TEXT NOT NULL,
		UNIQUE (kind, language, slug)
	)`,
	`CREATE TABLE IF NOT EXISTS clans (
		id BIGSERIAL PRIMARY KEY,
		external_id BIGINT UNIQUE,
		abbr TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		total_matches INTEGER NOT NULL DEFAULT 0,
		total_victories INTEGER NOT NULL DEFAULT 0,
		total_kills INTEGER NOT NULL DEFAULT 0,
		total_dies INTEGER NOT NULL DEFAULT 0,
		total_headshots INTEGER NOT NULL DEFAULT 0,
		total_grenade_kills INTEGER NOT NULL DEFAULT 0,
		total_melee_kills INTEGER NOT NULL DEFAULT 0,
		total_artefact_kills INTEGER NOT NULL DEFAULT 0,
		total_point_captures INTEGER NOT NULL DEFAULT 0,
		total_boxes_bringed INTEGER NOT NULL DEFAULT 0,
		total_artefact_uses INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS players (
		id BIGSERIAL PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		nickname TEXT NOT NULL DEFAULT '',
		clan_id BIGINT REFERENCES clans (id),
		elo_rating INTEGER NOT NULL DEFAULT 0,
		elo_random INTEGER NOT NULL DEFAULT 0,
		total_matches INTEGER NOT NULL DEFAULT 0,
		total_victories INTEGER NOT NULL DEFAULT 0,
		total_kills INTEGER NOT NULL DEFAULT 0,
		total_dies INTEGER NOT NULL DEFAULT 0,
		total_headshots INTEGER NOT NULL DEFAULT 0,
		total_grenade_kills INTEGER NOT NULL DEFAULT 0,
		total_melee_kills INTEGER NOT NULL DEFAULT 0,
		total_artefact_kills INTEGER NOT NULL DEFAULT 0,
		total_point_captures INTEGER NOT NULL DEFAULT 0,
		total_boxes_bringed INTEGER NOT NULL DEFAULT 0,
		total_artefact_uses INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id BIGINT PRIMARY KEY,
		date TIMESTAMPTZ NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		server INTEGER NOT NULL DEFAULT 0,
		replay TEXT,
		level INTEGER NOT NULL DEFAULT 0,
		rating_match BOOLEAN NOT NULL DEFAULT FALSE,
		score INTEGER[] NOT NULL DEFAULT '{}',
		map_id BIGINT REFERENCES maps (id),
		place_id BIGINT REFERENCES dictionary_entries (id),
		mode_id BIGINT REFERENCES dictionary_entries (id),
		weather_id BIGINT REFERENCES dictionary_entries (id),
		map_version INTEGER NOT NULL DEFAULT 0,
		stat_ids BIGINT[] NOT NULL DEFAULT '{}',
		clanwar BOOLEAN NOT NULL DEFAULT FALSE,
		clans BIGINT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS matches_date_idx ON matches (date)`,
	`CREATE TABLE IF NOT EXISTS stats (
		id BIGSERIAL PRIMARY KEY,
		date TIMESTAMPTZ NOT NULL,
		match_id BIGINT NOT NULL REFERENCES matches (id),
		map_id BIGINT,
		place_id BIGINT,
		mode_id BIGINT,
		weather_id BIGINT,
		player_id BIGINT NOT NULL REFERENCES players (id),
		clan_id BIGINT REFERENCES clans (id),
		team TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 0,
		rating_match BOOLEAN NOT NULL DEFAULT FALSE,
		elo INTEGER NOT NULL DEFAULT 0,
		kills INTEGER NOT NULL DEFAULT 0,
		dies INTEGER NOT NULL DEFAULT 0,
		kd DOUBLE PRECISION NOT NULL DEFAULT 0,
		victory BOOLEAN NOT NULL DEFAULT FALSE,
		score INTEGER NOT NULL DEFAULT 0,
		place INTEGER NOT NULL DEFAULT 0,
		headshots INTEGER NOT NULL DEFAULT 0,
		grenade_kills INTEGER NOT NULL DEFAULT 0,
		melee_kills INTEGER NOT NULL DEFAULT 0,
		artefact_kills INTEGER NOT NULL DEFAULT 0,
		point_captures INTEGER NOT NULL DEFAULT 0,
		boxes_bringed INTEGER NOT NULL DEFAULT 0,
		artefact_uses INTEGER NOT NULL DEFAULT 0,
		UNIQUE (match_id, player_id)
	)`,
	`CREATE INDEX IF NOT EXISTS stats_player_idx ON stats (player_id, date)`,
	`CREATE INDEX IF NOT EXISTS stats_clan_idx ON stats (clan_id) WHERE clan_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS unloaded_matches (
		id BIGINT PRIMARY KEY,
		date TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the document tables if they are missing
func Migrate(ctx context.Context, db DBTX) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
