package cache

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/domain/document"
)

// ErrMiss is returned by a Store when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Op constants map to backend command names for error context.
const (
	OpGet  = "GET"
	OpSet  = "SET"
	OpDel  = "DEL"
	OpScan = "SCAN"
)

// Error wraps a backend failure with the operation name.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "cache: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Store is a byte-oriented key-value backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DelPrefix(ctx context.Context, prefix string) error
}

// Cache stores documents in a Store. Read and write failures are logged
// and treated as misses; purge failures are returned to the caller.
// A nil *Cache is a valid no-op cache.
type Cache struct {
	store      Store
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a document cache.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), may be nil.
func New(s Store, ttl time.Duration, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: s, ttl: ttl, cacheTotal: cacheTotal, logger: logger}
}

// Load returns the cached document for key.
func (c *Cache) Load(ctx context.Context, key string) (document.Document, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("Failed to read cached document", zap.String("key", key), zap.Error(err))
		}
		c.inc("miss")
		return nil, false
	}
	doc, err := Decode(data)
	if err != nil {
		c.logger.Warn("Failed to decode cached document", zap.String("key", key), zap.Error(err))
		c.inc("miss")
		return nil, false
	}
	c.inc("hit")
	return doc, true
}

// Save stores doc under key with the configured TTL.
func (c *Cache) Save(ctx context.Context, key string, doc document.Document) {
	if c == nil {
		return
	}
	data, err := Encode(doc)
	if err != nil {
		c.logger.Warn("Failed to encode document for cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache document", zap.String("key", key), zap.Error(err))
	}
}

// Purge removes keys.
func (c *Cache) Purge(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	return c.store.Del(ctx, keys...)
}

// PurgePrefix removes every key starting with prefix.
func (c *Cache) PurgePrefix(ctx context.Context, prefix string) error {
	if c == nil {
		return nil
	}
	return c.store.DelPrefix(ctx, prefix)
}

func (c *Cache) inc(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}
