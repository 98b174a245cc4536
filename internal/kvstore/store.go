// Package kvstore provides the persistent key-value backing store for session state.
package kvstore

import (
	"context"
	"sort"
)

// Store is the flat, string-keyed, string-valued persistence namespace behind
// the session coordinator. Writes are last-write-wins per key with no
// cross-client coordination; the coordinator layers its own serialization on
// top. Key construction is owned by the caller.
type Store interface {
	// Get returns the value stored under key. A missing key is reported as
	// domain.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// SetMulti stores every entry of kv. Backends with transactions apply
	// the batch atomically; others fall back to per-key writes.
	SetMulti(ctx context.Context, kv map[string]string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error

	// Name identifies the backend (memory, redis, postgres) for logs and metrics.
	Name() string
}

// sortedKeys returns the keys of kv in lexical order. Multi-key writes use a
// stable key order so concurrent batches cannot deadlock on row locks.
func sortedKeys(kv map[string]string) []string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
