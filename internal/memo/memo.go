// Package memo memoizes collaborator calls in a cache.Store.
//
// Caching is applied through typed decorators, one per wrapped interface,
// so only calls returning a value can be memoized. Blank results are never
// stored.
package memo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/cache"
	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/metrics"
)

// DefaultTTL is used when a Memoizer is created with a non-positive TTL.
const DefaultTTL = time.Hour

// Key derives a deterministic cache key from the target identity, method
// name and arguments. Arguments are serialized as JSON, which sorts map
// keys, so equal arguments always produce equal keys.
func Key(target, method string, args ...any) (string, error) {
	payload, err := json.Marshal(struct {
		Target string `json:"target"`
		Method string `json:"method"`
		Args   []any  `json:"args"`
	}{target, method, args})
	if err != nil {
		return "", fmt.Errorf("memo: encode arguments for %s.%s: %w", target, method, err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Memoizer stores string results in a cache.Store.
type Memoizer struct {
	store  cache.Store
	ttl    time.Duration
	logger *logging.Logger
}

// New creates a Memoizer. A non-positive ttl selects DefaultTTL.
func New(store cache.Store, ttl time.Duration, logger *logging.Logger) *Memoizer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Memoizer{store: store, ttl: ttl, logger: logger.Named("memo")}
}

// TTL returns the expiry applied to stored results.
func (m *Memoizer) TTL() time.Duration { return m.ttl }

// Do returns the cached value for key or calls fn and caches its non-blank
// result. Store failures are logged and bypass the cache.
func (m *Memoizer) Do(ctx context.Context, key string, fn func(ctx context.Context) (string, error)) (string, error) {
	cached, ok, err := m.store.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordCacheError()
		m.logger.Warn(ctx, "cache lookup failed", zap.String("key", key), zap.Error(err))
	case ok:
		metrics.RecordCache(true)
		m.logger.Trace(ctx, "cache hit", zap.String("key", key))
		return string(cached), nil
	default:
		metrics.RecordCache(false)
	}

	out, err := fn(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return out, nil
	}
	if err := m.store.Set(ctx, key, []byte(out), m.ttl); err != nil {
		metrics.RecordCacheError()
		m.logger.Warn(ctx, "cache store failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}
