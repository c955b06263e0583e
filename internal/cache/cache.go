// Package cache provides key-value stores with per-entry TTL used to
// memoize model calls.
//
// Expiry is lazy: an expired entry is dropped when it is read, never by a
// background sweep. A TTL of zero means the entry never expires.
//
//	store := cache.NewMemoryStore()
//	_ = store.Set(ctx, "k", []byte("v"), time.Hour)
//	v, ok, _ := store.Get(ctx, "k")
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("cache: invalid key")

// Store is a concurrency-safe key-value store with TTL.
type Store interface {
	// Get returns the value for key and whether it was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Has reports whether key holds an unexpired value.
	Has(ctx context.Context, key string) (bool, error)
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMultiple(ctx context.Context, values map[string][]byte, ttl time.Duration) error
	DeleteMultiple(ctx context.Context, keys []string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error
	Close() error
}

// GetOrDefault returns the cached value for key, or def when absent.
func GetOrDefault(ctx context.Context, s Store, key string, def []byte) ([]byte, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Config selects a Store implementation.
type Config struct {
	Backend string // memory, file or sqlite
	Dir     string // file backend
	Path    string // sqlite backend
}

// New opens the store named by cfg.Backend.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

// expiry converts a ttl to an absolute deadline; zero means never.
func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(now, at time.Time) bool {
	return !at.IsZero() && !now.Before(at)
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
