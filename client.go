package docbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/adapter/memory"
	"github.com/kailas-cloud/docbase/internal/adapter/postgres"
	"github.com/kailas-cloud/docbase/internal/cache"
	cachememory "github.com/kailas-cloud/docbase/internal/cache/memory"
	cacheredis "github.com/kailas-cloud/docbase/internal/cache/redis"
	"github.com/kailas-cloud/docbase/internal/database"
	"github.com/kailas-cloud/docbase/internal/domain/filter"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
	"github.com/kailas-cloud/docbase/internal/logger"
	"github.com/kailas-cloud/docbase/internal/metrics"
)

const (
	driverPostgres = "postgres"
	driverMemory   = "memory"
	driverRedis    = "redis"

	defaultName             = "docbase"
	defaultReadinessTimeout = 10 * time.Second
	defaultCacheTTL         = 24 * time.Hour
	readinessInterval       = 200 * time.Millisecond
)

// Client is the docbase entry point. It exposes every Database operation
// and owns the storage and cache connections.
type Client struct {
	*database.Database

	adapter adapter.Adapter
	cache   Pinger
	closers []func()
	logger  *zap.Logger
}

// Pinger checks that a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open connects to storage, wires the cache and metrics, and bootstraps
// the metadata collection.
func Open(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		database:         defaultName,
		namespace:        defaultName,
		readinessTimeout: defaultReadinessTimeout,
	}
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	if cfg.driver == "" {
		return nil, errors.New("docbase: storage required (use WithPostgres or WithMemory)")
	}
	if cfg.tenant != nil && !cfg.sharedTables {
		return nil, errors.New("docbase: WithTenant requires WithSharedTables")
	}

	var m *metrics.Database
	if cfg.metricsReg != nil {
		m = metrics.NewDatabase()
		if err := m.Register(cfg.metricsReg); err != nil {
			return nil, fmt.Errorf("docbase: register metrics: %w", err)
		}
	}

	a, err := createAdapter(cfg, m)
	if err != nil {
		return nil, err
	}
	c := &Client{adapter: a, logger: cfg.logger}
	c.closers = append(c.closers, func() {
		if err := a.Close(); err != nil {
			cfg.logger.Warn("Failed to close adapter", zap.Error(err))
		}
	})

	docCache, err := c.createCache(ctx, cfg, m)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Database = database.New(a,
		database.WithLogger(logger.Component(cfg.logger, "database", cfg.namespace, cfg.database)),
		database.WithMetrics(m),
		database.WithCache(docCache),
	)

	if err := c.configure(cfg); err != nil {
		c.Close()
		return nil, err
	}

	if err := waitForReady(ctx, c.Database, cfg.readinessTimeout); err != nil {
		c.Close()
		return nil, fmt.Errorf("docbase: storage not ready: %w", err)
	}

	if !cfg.skipBootstrap {
		if err := c.Create(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("docbase: bootstrap: %w", err)
		}
	}

	return c, nil
}

func createAdapter(cfg *clientConfig, m *metrics.Database) (adapter.Adapter, error) {
	switch cfg.driver {
	case driverPostgres:
		a, err := postgres.New(postgres.Config{
			DSN:             cfg.dsn,
			Database:        cfg.database,
			Namespace:       cfg.namespace,
			SharedTables:    cfg.sharedTables,
			MaxOpenConns:    cfg.maxOpenConns,
			MaxIdleConns:    cfg.maxIdleConns,
			ConnMaxLifetime: cfg.connMaxLifetime,
			Logger:          logger.Component(cfg.logger, "postgres", cfg.namespace, cfg.database),
			Observe:         m.ObserveTransaction,
		})
		if err != nil {
			return nil, fmt.Errorf("docbase: create postgres adapter: %w", err)
		}
		return a, nil
	case driverMemory:
		return memory.New(
			memory.WithNamespace(cfg.namespace),
			memory.WithDatabase(cfg.database),
			memory.WithSharedTables(cfg.sharedTables),
			memory.WithLogger(logger.Component(cfg.logger, "memory", cfg.namespace, cfg.database)),
			memory.WithTransactionObserver(m.ObserveTransaction),
		), nil
	default:
		return nil, fmt.Errorf("docbase: unknown driver %q", cfg.driver)
	}
}

func (c *Client) createCache(ctx context.Context, cfg *clientConfig, m *metrics.Database) (*cache.Cache, error) {
	ttl := cfg.cacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	l := cfg.logger.Named("cache")

	switch cfg.cacheDriver {
	case "":
		return nil, nil
	case driverMemory:
		return cache.New(cachememory.New(), ttl, m.CacheCounter(), l), nil
	case driverRedis:
		s, err := cacheredis.NewStore(cacheredis.Config{
			Addrs:    cfg.cacheAddrs,
			Password: cfg.cachePassword,
		})
		if err != nil {
			return nil, fmt.Errorf("docbase: create redis cache: %w", err)
		}
		c.closers = append(c.closers, s.Close)
		if err := s.Ping(ctx); err != nil {
			return nil, fmt.Errorf("docbase: redis cache not reachable: %w", err)
		}
		c.cache = s
		return cache.New(s, ttl, m.CacheCounter(), l), nil
	default:
		return nil, fmt.Errorf("docbase: unknown cache driver %q", cfg.cacheDriver)
	}
}

func (c *Client) configure(cfg *clientConfig) error {
	if cfg.encryptionKey != "" {
		f, err := filter.Encrypt(cfg.encryptionKey)
		if err != nil {
			return fmt.Errorf("docbase: %w", err)
		}
		c.AddFilter(schema.FilterEncrypt, f)
	}
	if cfg.tenant != nil {
		c.SetTenant(*cfg.tenant)
	}
	if cfg.timeout > 0 {
		if err := c.SetTimeout(cfg.timeout, adapter.EventAll); err != nil {
			return fmt.Errorf("docbase: %w", err)
		}
	}
	return nil
}

// waitForReady pings storage until it answers or timeout elapses.
func waitForReady(ctx context.Context, db *database.Database, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()
	for {
		err := db.Ping(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-ticker.C:
		}
	}
}

// CachePinger returns the remote cache for health checks, or nil when the
// cache is disabled or held in memory.
func (c *Client) CachePinger() Pinger {
	if c.cache == nil {
		return nil
	}
	return c.cache
}

// Close releases storage and cache connections. It is safe to call more
// than once.
func (c *Client) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
