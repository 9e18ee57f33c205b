package database

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/survarium-stats/importer/pkg/models"
	"github.com/survarium-stats/importer/pkg/services"
)

var _ services.Store = (*Store)(nil)

// MockDB records statements and answers QueryRow from a canned row
type MockDB struct {
	row     *MockRow
	tag     pgconn.CommandTag
	execErr error
	queries []string
	args    [][]interface{}
}

func (m *MockDB) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	m.queries = append(m.queries, query)
	m.args = append(m.args, args)
	return m.row
}

func (m *MockDB) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (m *MockDB) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	m.queries = append(m.queries, query)
	m.args = append(m.args, args)
	return m.tag, m.execErr
}

// MockRow implements pgx.Row for testing
type MockRow struct {
	scan func(dest ...interface{}) error
	err  error
}

func (m *MockRow) Scan(dest ...interface{}) error {
	if m.err != nil {
		return m.err
	}
	if m.scan != nil {
		return m.scan(dest...)
	}
	return nil
}

// MockTx is a pgx.Tx whose statements go to a MockDB
type MockTx struct {
	pgx.Tx
	db         *MockDB
	commitErr  error
	committed  bool
	rolledBack bool
}

func (m *MockTx) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	return m.db.Exec(ctx, query, args...)
}

func (m *MockTx) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	return m.db.QueryRow(ctx, query, args...)
}

func (m *MockTx) Commit(ctx context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = true
	return nil
}

func (m *MockTx) Rollback(ctx context.Context) error {
	if !m.committed {
		m.rolledBack = true
	}
	return nil
}

// MockPool is a MockDB that can begin transactions
type MockPool struct {
	*MockDB
	tx       *MockTx
	beginErr error
}

func (m *MockPool) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return m.tx, nil
}

func newMockPool() *MockPool {
	return &MockPool{
		MockDB: &MockDB{},
		tx:     &MockTx{db: &MockDB{tag: pgconn.NewCommandTag("UPDATE 1")}},
	}
}

func TestStore_WithinTxCommits(t *testing.T) {
	pool := newMockPool()
	store := NewStore(pool)

	err := store.WithinTx(context.Background(), func(tx services.Store) error {
		if err := tx.CreateMatch(context.Background(), &models.Match{ID: 42}); err != nil {
			return err
		}
		return tx.FinalizeMatch(context.Background(), 42, []int64{1}, nil)
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !pool.tx.committed || pool.tx.rolledBack {
		t.Errorf("Expected commit without rollback, committed=%v rolledBack=%v", pool.tx.committed, pool.tx.rolledBack)
	}
	if len(pool.tx.db.queries) != 2 || len(pool.queries) != 0 {
		t.Errorf("Expected both statements inside the transaction, tx=%d pool=%d", len(pool.tx.db.queries), len(pool.queries))
	}
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	pool := newMockPool()
	pool.tx.db.execErr = errors.New("stat insert failed")
	store := NewStore(pool)

	err := store.WithinTx(context.Background(), func(tx services.Store) error {
		return tx.CreateMatch(context.Background(), &models.Match{ID: 42})
	})
	if err == nil {
		t.Fatal("Expected error from the failed statement")
	}
	if pool.tx.committed || !pool.tx.rolledBack {
		t.Errorf("Expected rollback without commit, committed=%v rolledBack=%v", pool.tx.committed, pool.tx.rolledBack)
	}
}

func TestStore_WithinTxRollsBackOnPanic(t *testing.T) {
	pool := newMockPool()
	store := NewStore(pool)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Expected the panic to propagate")
			}
		}()
		_ = store.WithinTx(context.Background(), func(tx services.Store) error {
			panic("nil player")
		})
	}()

	if !pool.tx.rolledBack {
		t.Error("Expected rollback after a panic")
	}
}

func TestStore_WithinTxCommitFailure(t *testing.T) {
	pool := newMockPool()
	pool.tx.commitErr = errors.New("connection reset")
	store := NewStore(pool)

	err := store.WithinTx(context.Background(), func(tx services.Store) error { return nil })
	if err == nil {
		t.Error("Expected commit failure to be returned")
	}
}

func TestStore_WithinTxWithoutBegin(t *testing.T) {
	db := &MockDB{tag: pgconn.NewCommandTag("INSERT 0 1")}
	store := NewStore(db)

	called := false
	err := store.WithinTx(context.Background(), func(tx services.Store) error {
		called = true
		return tx.CreateMatch(context.Background(), &models.Match{ID: 42})
	})
	if err != nil || !called || len(db.queries) != 1 {
		t.Errorf("Expected fn to run directly, err=%v called=%v queries=%d", err, called, len(db.queries))
	}
}

// busyTx fails a statement that starts while another is in flight, as a
// pgx connection does
type busyTx struct {
	pgx.Tx
	active  atomic.Int32
	overlap atomic.Bool
}

func (b *busyTx) enter() {
	if b.active.Add(1) > 1 {
		b.overlap.Store(true)
	}
}

func (b *busyTx) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	b.enter()
	time.Sleep(time.Millisecond)
	b.active.Add(-1)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (b *busyTx) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	b.enter()
	return &MockRow{scan: func(dest ...interface{}) error {
		time.Sleep(time.Millisecond)
		b.active.Add(-1)
		return nil
	}}
}

func TestSerialTxTakesTurns(t *testing.T) {
	busy := &busyTx{}
	tx := &serialTx{tx: busy}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			var id int64
			_ = tx.QueryRow(context.Background(), "SELECT 1").Scan(&id)
		}()
		go func() {
			defer wg.Done()
			_, _ = tx.Exec(context.Background(), "UPDATE players SET total_matches = 1")
		}()
	}
	wg.Wait()

	if busy.overlap.Load() {
		t.Error("Expected statements on one transaction never to overlap")
	}
}

func TestStore_FindMatchNotFound(t *testing.T) {
	db := &MockDB{row: &MockRow{err: pgx.ErrNoRows}}
	store := NewStore(db)

	match, err := store.FindMatch(context.Background(), 42)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if match != nil {
		t.Errorf("Expected nil match, got %+v", match)
	}
}

func TestStore_FindMatch(t *testing.T) {
	date := time.Date(2016, time.May, 16, 10, 0, 0, 0, time.UTC)
	mapID := int64(7)
	db := &MockDB{row: &MockRow{scan: func(dest ...interface{}) error {
		*dest[0].(*int64) = 42
		*dest[1].(*time.Time) = date
		*dest[7].(*[]int32) = []int32{3, 1}
		*dest[8].(**int64) = &mapID
		*dest[13].(*[]int64) = []int64{1, 2}
		return nil
	}}}
	store := NewStore(db)

	match, err := store.FindMatch(context.Background(), 42)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if match.ID != 42 || !match.Date.Equal(date) {
		t.Errorf("Unexpected match %+v", match)
	}
	if len(match.Score) != 2 || match.Score[0] != 3 {
		t.Errorf("Expected score [3 1], got %v", match.Score)
	}
	if match.MapID == nil || *match.MapID != 7 || len(match.StatIDs) != 2 {
		t.Errorf("Unexpected refs map=%v stats=%v", match.MapID, match.StatIDs)
	}
}

func TestStore_CreateMatchDuplicate(t *testing.T) {
	db := &MockDB{execErr: &pgconn.PgError{Code: "23505", ConstraintName: "matches_pkey"}}
	store := NewStore(db)

	err := store.CreateMatch(context.Background(), &models.Match{ID: 42, Score: []int{3}})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
}

func TestStore_FinalizeMatchMissing(t *testing.T) {
	db := &MockDB{tag: pgconn.NewCommandTag("UPDATE 0")}
	store := NewStore(db)

	if err := store.FinalizeMatch(context.Background(), 42, nil, nil); err == nil {
		t.Error("Expected error when no match row was updated")
	}

	args := db.args[0]
	if ids, ok := args[1].([]int64); !ok || ids == nil {
		t.Errorf("Expected empty non-nil stat id array, got %#v", args[1])
	}
	if clanwar, ok := args[2].(bool); !ok || clanwar {
		t.Errorf("Expected clanwar false, got %#v", args[2])
	}
}

func TestStore_SaveUnloadedIsIdempotent(t *testing.T) {
	db := &MockDB{tag: pgconn.NewCommandTag("INSERT 0 0")}
	store := NewStore(db)

	err := store.SaveUnloaded(context.Background(), models.UnloadedMatch{ID: 42, Date: time.Unix(0, 0)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(db.queries[0], "ON CONFLICT (id) DO NOTHING") {
		t.Errorf("Expected find-or-create insert, got %s", db.queries[0])
	}
}

func TestStore_FindDictionaryEntryUsesSlug(t *testing.T) {
	db := &MockDB{row: &MockRow{scan: func(dest ...interface{}) error {
		*dest[0].(*int64) = 21
		return nil
	}}}
	store := NewStore(db)

	id, err := store.FindDictionaryEntry(context.Background(), models.DictionaryPlace, "Old Rail Depot", "english")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if id == nil || *id != 21 {
		t.Errorf("Expected id 21, got %v", id)
	}
	if got := db.args[0][2]; got != "old-rail-depot" {
		t.Errorf("Expected slug lookup, got %v", got)
	}
}

func TestStore_FindDictionaryEntryEmptyTitle(t *testing.T) {
	db := &MockDB{}
	store := NewStore(db)

	id, err := store.FindDictionaryEntry(context.Background(), models.DictionaryMode, "  ", "english")
	if err != nil || id != nil {
		t.Errorf("Expected nil without a query, got %v, %v", id, err)
	}
	if len(db.queries) != 0 {
		t.Errorf("Expected no query for an empty title, got %d", len(db.queries))
	}
}

func TestStore_AddClanStat(t *testing.T) {
	db := &MockDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	store := NewStore(db)

	stat := &models.Stat{Victory: true, Kills: 4, Dies: 2, Headshots: 1}
	if err := store.AddClanStat(context.Background(), 9, stat); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.HasPrefix(db.queries[0], "UPDATE clans") {
		t.Errorf("Expected clans update, got %s", db.queries[0])
	}
	args := db.args[0]
	if args[0] != int64(9) || args[1] != 1 || args[2] != 4 {
		t.Errorf("Unexpected args %v", args)
	}
}

func TestMigrate(t *testing.T) {
	db := &MockDB{}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(db.queries) != len(schema) {
		t.Errorf("Expected %d statements, got %d", len(schema), len(db.queries))
	}

	db = &MockDB{execErr: errors.New("permission denied")}
	if err := Migrate(context.Background(), db); err == nil {
		t.Error("Expected migration error")
	}
}
