package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresStore keeps cache entries in two tables: plain keys with an optional
// expiry and hash fields. Expired entries are invisible to reads and are
// overwritten by SetIfAbsent.
type PostgresStore struct {
	db DBTX

	entries string
	hashes  string

	getQuery         string
	setQuery         string
	delQuery         string
	hashGetQuery     string
	hashSetQuery     string
	setIfAbsentQuery string
}

// NewPostgresStore creates a store over the given entry and hash tables
func NewPostgresStore(db DBTX, entriesTable, hashesTable string) *PostgresStore {
	entries := pq.QuoteIdentifier(entriesTable)
	hashes := pq.QuoteIdentifier(hashesTable)

	return &PostgresStore{
		db:      db,
		entries: entries,
		hashes:  hashes,

		getQuery: fmt.Sprintf(
			`SELECT value FROM %s WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`, entries),
		setQuery: fmt.Sprintf(
			`INSERT INTO %s (key, value, expires_at)
			 VALUES ($1, $2, CASE WHEN $3::bigint > 0 THEN now() + $3::bigint * interval '1 millisecond' END)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, entries),
		delQuery: fmt.Sprintf(
			`WITH removed AS (DELETE FROM %s WHERE key = ANY($1))
			 DELETE FROM %s WHERE key = ANY($1)`, entries, hashes),
		hashGetQuery: fmt.Sprintf(
			`SELECT field, value FROM %s WHERE key = $1`, hashes),
		hashSetQuery: fmt.Sprintf(
			`INSERT INTO %s (key, field, value)
			 SELECT $1, f, v FROM unnest($2::text[], $3::text[]) AS u(f, v)
			 ON CONFLICT (key, field) DO UPDATE SET value = EXCLUDED.value`, hashes),
		setIfAbsentQuery: fmt.Sprintf(
			`INSERT INTO %s AS c (key, value, expires_at)
			 VALUES ($1, $2, CASE WHEN $3::bigint > 0 THEN now() + $3::bigint * interval '1 millisecond' END)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
			 WHERE c.expires_at IS NOT NULL AND c.expires_at <= now()
			 RETURNING key`, entries),
	}
}

// EnsureSchema creates the cache tables if they are missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at TIMESTAMPTZ
		)`, s.entries),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (key, field)
		)`, s.hashes),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create cache table: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(ctx, s.getQuery, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if _, err := s.db.Exec(ctx, s.setQuery, key, value, ttl.Milliseconds()); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, s.delQuery, keys); err != nil {
		return fmt.Errorf("failed to delete cache keys %v: %w", keys, err)
	}
	return nil
}

func (s *PostgresStore) HashGet(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.Query(ctx, s.hashGetQuery, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache hash %s: %w", key, err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("failed to scan cache hash %s: %w", key, err)
		}
		result[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cache hash %s: %w", key, err)
	}
	return result, nil
}

func (s *PostgresStore) HashSetMulti(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	values := make([]string, len(names))
	for i, field := range names {
		values[i] = fields[field]
	}

	if _, err := s.db.Exec(ctx, s.hashSetQuery, key, names, values); err != nil {
		return fmt.Errorf("failed to write cache hash %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var stored string
	err := s.db.QueryRow(ctx, s.setIfAbsentQuery, key, value, ttl.Milliseconds()).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to set cache key %s if absent: %w", key, err)
	}
	return true, nil
}
