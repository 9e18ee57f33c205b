package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MockDB records statements and answers QueryRow from a canned row
type MockDB struct {
	row   *MockRow
	execs []string
	args  [][]interface{}
}

func (m *MockDB) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	m.execs = append(m.execs, query)
	m.args = append(m.args, args)
	return m.row
}

func (m *MockDB) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (m *MockDB) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, query)
	m.args = append(m.args, args)
	return pgconn.CommandTag{}, nil
}

// MockRow implements pgx.Row for testing
type MockRow struct {
	value string
	err   error
}

func (m *MockRow) Scan(dest ...interface{}) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) > 0 {
		if v, ok := dest[0].(*string); ok {
			*v = m.value
		}
	}
	return nil
}

func TestPostgresStore_SetIfAbsent(t *testing.T) {
	db := &MockDB{row: &MockRow{value: "matches:load"}}
	store := NewPostgresStore(db, "cache_entries", "cache_hashes")
	ctx := context.Background()

	stored, err := store.SetIfAbsent(ctx, "matches:load", "host:1", time.Minute)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !stored {
		t.Fatal("Expected a returned row to mean the value was stored")
	}
	if got := db.args[0][2]; got != int64(60000) {
		t.Errorf("Expected ttl in milliseconds, got %v", got)
	}
	if !strings.Contains(db.execs[0], `"cache_entries"`) {
		t.Errorf("Expected quoted table name in query: %s", db.execs[0])
	}

	db.row = &MockRow{err: pgx.ErrNoRows}
	stored, err = store.SetIfAbsent(ctx, "matches:load", "host:2", time.Minute)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stored {
		t.Fatal("Expected no returned row to mean the key is held")
	}

	db.row = &MockRow{err: errors.New("connection reset")}
	if _, err := store.SetIfAbsent(ctx, "matches:load", "host:3", time.Minute); err == nil {
		t.Fatal("Expected database errors to propagate")
	}
}

func TestPostgresStore_Get(t *testing.T) {
	db := &MockDB{row: &MockRow{err: pgx.ErrNoRows}}
	store := NewPostgresStore(db, "cache_entries", "cache_hashes")

	_, ok, err := store.Get(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("Expected missing key, got ok=%v err=%v", ok, err)
	}

	db.row = &MockRow{value: "4242"}
	value, ok, err := store.Get(context.Background(), "present")
	if err != nil || !ok || value != "4242" {
		t.Fatalf("Expected present key, got value=%q ok=%v err=%v", value, ok, err)
	}
}

func TestPostgresStore_HashSetMultiSingleStatement(t *testing.T) {
	db := &MockDB{}
	store := NewPostgresStore(db, "cache_entries", "cache_hashes")

	err := store.HashSetMulti(context.Background(), "cursor", map[string]string{
		"ts":   "10",
		"id":   "5",
		"host": "worker",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(db.execs) != 1 {
		t.Fatalf("Expected a single statement, got %d", len(db.execs))
	}
	fields := db.args[0][1].([]string)
	values := db.args[0][2].([]string)
	if strings.Join(fields, ",") != "host,id,ts" || strings.Join(values, ",") != "worker,5,10" {
		t.Errorf("Unexpected field/value arrays: %v %v", fields, values)
	}
}

func TestPostgresStore_DelNoKeys(t *testing.T) {
	db := &MockDB{}
	store := NewPostgresStore(db, "cache_entries", "cache_hashes")

	if err := store.Del(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(db.execs) != 0 {
		t.Error("Expected no statement for an empty key list")
	}
}
