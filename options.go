package docbase

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver string // "postgres" or "memory"
	dsn    string

	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration

	database     string
	namespace    string
	sharedTables bool
	tenant       *int64
	timeout      time.Duration

	cacheDriver   string // "", "memory" or "redis"
	cacheAddrs    []string
	cachePassword string
	cacheTTL      time.Duration

	encryptionKey    string
	readinessTimeout time.Duration
	skipBootstrap    bool

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

// WithPostgres stores documents in Postgres reachable at dsn.
func WithPostgres(dsn string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = driverPostgres
		c.dsn = dsn
	})
}

// WithPool tunes the Postgres connection pool. Zero values keep the
// driver defaults.
func WithPool(maxOpen, maxIdle int, maxLifetime time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxOpenConns = maxOpen
		c.maxIdleConns = maxIdle
		c.connMaxLifetime = maxLifetime
	})
}

// WithMemory stores documents in process memory. Intended for tests and
// local tooling.
func WithMemory() Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = driverMemory
	})
}

// WithRedisCache caches documents in Redis for ttl. Several addresses
// select cluster mode.
func WithRedisCache(addrs []string, password string, ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheDriver = driverRedis
		c.cacheAddrs = addrs
		c.cachePassword = password
		c.cacheTTL = ttl
	})
}

// WithMemoryCache caches documents in process memory for ttl.
func WithMemoryCache(ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheDriver = driverMemory
		c.cacheTTL = ttl
	})
}

// WithDatabase selects the database. Default: "docbase".
func WithDatabase(name string) Option {
	return optionFunc(func(c *clientConfig) {
		c.database = name
	})
}

// WithNamespace sets the table prefix. Default: "docbase".
func WithNamespace(ns string) Option {
	return optionFunc(func(c *clientConfig) {
		c.namespace = ns
	})
}

// WithSharedTables stores every tenant in the same tables, discriminated
// by a tenant column.
func WithSharedTables() Option {
	return optionFunc(func(c *clientConfig) {
		c.sharedTables = true
	})
}

// WithTenant selects the tenant for shared tables.
func WithTenant(tenant int64) Option {
	return optionFunc(func(c *clientConfig) {
		c.tenant = &tenant
	})
}

// WithTimeout bounds every storage statement.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.timeout = d
	})
}

// WithEncryptionKey enables the "encrypt" attribute filter with a key
// derived from secret.
func WithEncryptionKey(secret string) Option {
	return optionFunc(func(c *clientConfig) {
		c.encryptionKey = secret
	})
}

// WithReadinessTimeout bounds how long Open waits for storage. Default: 10s.
func WithReadinessTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.readinessTimeout = d
	})
}

// WithoutBootstrap skips creating the database and its metadata
// collection on Open.
func WithoutBootstrap() Option {
	return optionFunc(func(c *clientConfig) {
		c.skipBootstrap = true
	})
}

// WithLogger enables structured logging. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithMetrics registers operation, cache and transaction metrics on reg.
// Pass nil to disable (default).
func WithMetrics(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
