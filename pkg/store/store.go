// Package store is the coordinator's persistent key-value store. Values are
// JSON-encoded strings grouped in namespaces; the store survives daemon
// restarts so the companion window id and user settings are never held only
// in memory.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Namespaces.
const (
	NSSettings = "settings"
	NSSession  = "session"
	NSLesson   = "lesson"
)

// Well-known keys outside the settings namespace.
const (
	KeyCompanionWindowID = "companionWindowId" // session
	KeyCurrentReading    = "currentReading"    // lesson
)

// KV is a namespaced string store.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, ns, key string) (string, bool, error)
	// GetMany returns the values of the keys that exist.
	GetMany(ctx context.Context, ns string, keys ...string) (map[string]string, error)
	Set(ctx context.Context, ns, key, value string) error
	SetMany(ctx context.Context, ns string, values map[string]string) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, ns, key string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend    string // "sqlite" | "redis" | "memory"
	SQLitePath string
	RedisURL   string
	Profile    string // Redis key prefix component
}

// Open opens the configured backend.
func Open(ctx context.Context, opts Options) (KV, error) {
	switch opts.Backend {
	case "", "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath)
	case "redis":
		return OpenRedis(ctx, opts.RedisURL, opts.Profile)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// GetJSON decodes a stored value into v. It reports false when the key is
// missing.
func GetJSON(ctx context.Context, kv KV, ns, key string, v any) (bool, error) {
	raw, ok, err := kv.Get(ctx, ns, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", ns, key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it.
func SetJSON(ctx context.Context, kv KV, ns, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", ns, key, err)
	}
	return kv.Set(ctx, ns, key, string(data))
}
