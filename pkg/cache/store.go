// Package cache provides the shared key/value store the importer uses for its
// run lock and its progress cursor.
package cache

import (
	"context"
	"time"
)

// Store is the subset of cache operations the importer depends on.
type Store interface {
	// Get returns the value of key and whether it exists and has not expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes keys, plain or hash. Removing a missing key is not an error.
	Del(ctx context.Context, keys ...string) error

	// HashGet returns all fields of the hash at key, empty when absent.
	HashGet(ctx context.Context, key string) (map[string]string, error)

	// HashSetMulti writes all fields in a single atomic operation.
	HashSetMulti(ctx context.Context, key string, fields map[string]string) error

	// SetIfAbsent stores value with ttl only when key is absent or expired.
	// It reports whether the value was stored.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// WithPrefix namespaces every key of store under prefix.
func WithPrefix(store Store, prefix string) Store {
	if prefix == "" {
		return store
	}
	return &prefixed{store: store, prefix: prefix}
}

type prefixed struct {
	store  Store
	prefix string
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return p.store.Set(ctx, p.prefix+key, value, ttl)
}

func (p *prefixed) Del(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.prefix + k
	}
	return p.store.Del(ctx, full...)
}

func (p *prefixed) HashGet(ctx context.Context, key string) (map[string]string, error) {
	return p.store.HashGet(ctx, p.prefix+key)
}

func (p *prefixed) HashSetMulti(ctx context.Context, key string, fields map[string]string) error {
	return p.store.HashSetMulti(ctx, p.prefix+key, fields)
}

func (p *prefixed) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return p.store.SetIfAbsent(ctx, p.prefix+key, value, ttl)
}
