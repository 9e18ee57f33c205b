package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/survarium-stats/importer/pkg/cache"
	"github.com/survarium-stats/importer/pkg/models"
)

const (
	cursorFieldID     = "id"
	cursorFieldTS     = "ts"
	cursorFieldOffset = "offset"
	cursorFieldHost   = "host"
)

// ProgressCursor reads and writes the import position in the shared cache.
// Callers hold the run lock, so reads and writes are not synchronized across
// processes here.
type ProgressCursor struct {
	store    cache.Store
	key      string
	host     string
	defaults models.Cursor

	mu   sync.Mutex
	memo *models.Cursor
}

func NewProgressCursor(store cache.Store, key, host string, defaults models.Cursor) *ProgressCursor {
	return &ProgressCursor{
		store:    store,
		key:      key,
		host:     host,
		defaults: defaults,
	}
}

// Get resolves the cursor from the in-process memo, then the persisted hash,
// then the configured default.
func (c *ProgressCursor) Get(ctx context.Context) (models.Cursor, error) {
	c.mu.Lock()
	memo := c.memo
	c.mu.Unlock()
	if memo != nil {
		return *memo, nil
	}

	fields, err := c.store.HashGet(ctx, c.key)
	if err != nil {
		return models.Cursor{}, fmt.Errorf("failed to read cursor %s: %w", c.key, err)
	}

	cursor, ok := parseCursor(fields)
	if !ok {
		return c.defaults, nil
	}

	c.remember(cursor)
	return cursor, nil
}

// Set persists every cursor field in one write, tagged with this host.
func (c *ProgressCursor) Set(ctx context.Context, cursor models.Cursor) error {
	cursor.Host = c.host

	fields := map[string]string{
		cursorFieldID:     strconv.FormatInt(int64(cursor.MatchID), 10),
		cursorFieldTS:     strconv.FormatInt(cursor.Timestamp, 10),
		cursorFieldOffset: strconv.Itoa(cursor.Offset),
		cursorFieldHost:   cursor.Host,
	}
	if err := c.store.HashSetMulti(ctx, c.key, fields); err != nil {
		return fmt.Errorf("failed to write cursor %s: %w", c.key, err)
	}

	c.remember(cursor)
	return nil
}

// Forget drops the memo so the next Get reads the store.
func (c *ProgressCursor) Forget() {
	c.mu.Lock()
	c.memo = nil
	c.mu.Unlock()
}

func (c *ProgressCursor) remember(cursor models.Cursor) {
	c.mu.Lock()
	c.memo = &cursor
	c.mu.Unlock()
}

// parseCursor needs both ts and id; anything less is treated as absent.
func parseCursor(fields map[string]string) (models.Cursor, bool) {
	rawTS, hasTS := fields[cursorFieldTS]
	rawID, hasID := fields[cursorFieldID]
	if !hasTS || !hasID {
		return models.Cursor{}, false
	}

	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return models.Cursor{}, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return models.Cursor{}, false
	}

	offset, _ := strconv.Atoi(fields[cursorFieldOffset])
	if offset < 0 {
		offset = 0
	}

	return models.Cursor{
		Timestamp: ts,
		MatchID:   models.MatchID(id),
		Offset:    offset,
		Host:      fields[cursorFieldHost],
	}, true
}
