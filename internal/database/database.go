// Package database is the document database orchestrator. It validates
// schema and document operations, keeps the _metadata collection in step
// with the physical layout and delegates storage to an adapter.
package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/auth"
	"github.com/kailas-cloud/docbase/internal/cache"
	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/filter"
	"github.com/kailas-cloud/docbase/internal/domain/permission"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
	"github.com/kailas-cloud/docbase/internal/domain/validator"
	"github.com/kailas-cloud/docbase/internal/logger"
	"github.com/kailas-cloud/docbase/internal/metrics"
)

// Authorizer decides whether the caller in a context may act on a resource.
type Authorizer interface {
	Roles(ctx context.Context) []string
	Skipped(ctx context.Context) bool
	Allowed(ctx context.Context, action permission.Action, perms []string) bool
}

// Database orchestrates schema and document operations over an adapter.
// Safe for concurrent use.
type Database struct {
	adapter   adapter.Adapter
	cache     *cache.Cache
	instance  *filter.Registry
	shared    *filter.Registry
	formats   *validator.Formats
	auth      Authorizer
	logger    *zap.Logger
	metrics   *metrics.Database
	locks     *keyedMutex
	listeners *listeners
	maxDepth  int

	preserveDates atomic.Bool
}

// Option configures a Database.
type Option func(*Database)

// WithCache enables the document cache.
func WithCache(c *cache.Cache) Option { return func(d *Database) { d.cache = c } }

// WithFilters sets the shared filter registry consulted after the
// instance filters.
func WithFilters(r *filter.Registry) Option { return func(d *Database) { d.shared = r } }

// WithFormats sets the format registry.
func WithFormats(f *validator.Formats) Option { return func(d *Database) { d.formats = f } }

// WithAuthorizer replaces the default context-based authorizer.
func WithAuthorizer(a Authorizer) Option { return func(d *Database) { d.auth = a } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(d *Database) { d.logger = l } }

// WithMetrics enables operation metrics.
func WithMetrics(m *metrics.Database) Option { return func(d *Database) { d.metrics = m } }

// WithMaxDepth caps relationship resolution depth.
func WithMaxDepth(depth int) Option {
	return func(d *Database) {
		if depth > 0 {
			d.maxDepth = depth
		}
	}
}

// New creates an orchestrator over a.
func New(a adapter.Adapter, opts ...Option) *Database {
	d := &Database{
		adapter:   a,
		instance:  filter.NewRegistry(),
		shared:    filter.NewRegistry(),
		formats:   validator.NewFormats(),
		auth:      auth.New(),
		logger:    zap.NewNop(),
		locks:     newKeyedMutex(),
		listeners: newListeners(),
		maxDepth:  schema.RelationMaxDepth,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Adapter returns the storage adapter.
func (d *Database) Adapter() adapter.Adapter { return d.adapter }

// log returns the request logger carried by ctx, or the database logger.
func (d *Database) log(ctx context.Context) *zap.Logger { return logger.FromContext(ctx, d.logger) }

// Formats returns the format registry.
func (d *Database) Formats() *validator.Formats { return d.formats }

// AddFilter registers an instance filter. Instance filters take
// precedence over shared ones.
func (d *Database) AddFilter(name string, f filter.Filter) { d.instance.Add(name, f) }

func (d *Database) filters() filter.Chain { return filter.Chain{d.instance, d.shared} }

// SetPreserveDates keeps caller supplied $createdAt and $updatedAt values.
func (d *Database) SetPreserveDates(preserve bool) { d.preserveDates.Store(preserve) }

// SetNamespace sets the table prefix.
func (d *Database) SetNamespace(ns string) { d.adapter.Scope().SetNamespace(ns) }

// SetDatabase selects the database.
func (d *Database) SetDatabase(name string) { d.adapter.Scope().SetDatabase(name) }

// SetTenant selects the tenant for shared tables.
func (d *Database) SetTenant(tenant int64) { d.adapter.Scope().SetTenant(tenant) }

// ClearTenant unsets the tenant.
func (d *Database) ClearTenant() { d.adapter.Scope().ClearTenant() }

// SetTimeout bounds statements of event, or every event for adapter.EventAll.
func (d *Database) SetTimeout(timeout time.Duration, event string) error {
	if !d.adapter.Support().Timeouts {
		return fmt.Errorf("set timeout: %w", domain.ErrNotImplemented)
	}
	d.adapter.SetTimeout(timeout, event)
	return nil
}

// ClearTimeout removes a statement timeout.
func (d *Database) ClearTimeout(event string) { d.adapter.ClearTimeout(event) }

// Before registers a statement transform on the adapter. A nil fn removes
// the named transform.
func (d *Database) Before(event, name string, fn adapter.Transform) {
	d.adapter.Hooks().Before(event, name, fn)
}

// Ping checks the adapter connection.
func (d *Database) Ping(ctx context.Context) error {
	if err := d.adapter.Ping(ctx); err != nil {
		return translate(opPing, err)
	}
	return nil
}

// Create creates the active database and bootstraps the metadata
// collection. It is idempotent.
func (d *Database) Create(ctx context.Context) (err error) {
	defer d.observe(opCreate, time.Now(), &err)
	name := d.adapter.Scope().Database()
	if err := d.adapter.Create(ctx, name); err != nil && !errors.Is(err, adapter.ErrDuplicate) {
		return translate(opCreate, err)
	}

	meta := schema.Metadata()
	if err := d.adapter.CreateCollection(ctx, meta.ID(), meta.Attributes(), meta.Indexes()); err != nil &&
		!errors.Is(err, adapter.ErrDuplicate) {
		return translate(opCreate, err)
	}

	d.log(ctx).Info("Database created", zap.String("database", name))
	d.trigger(ctx, EventDatabaseCreate, name)
	return nil
}

// Exists reports whether the database, or a collection in it when
// collection is not empty, exists physically.
func (d *Database) Exists(ctx context.Context, collection string) (bool, error) {
	ok, err := d.adapter.Exists(ctx, d.adapter.Scope().Database(), collection)
	if err != nil {
		return false, translate(opExists, err)
	}
	return ok, nil
}

// Delete drops the active database.
func (d *Database) Delete(ctx context.Context) (err error) {
	defer d.observe(opDelete, time.Now(), &err)
	name := d.adapter.Scope().Database()
	if err := d.adapter.Delete(ctx, name); err != nil {
		return translate(opDelete, err)
	}
	if err := d.cache.PurgePrefix(ctx, d.keys().Root()); err != nil {
		d.log(ctx).Warn("Failed to purge cache", zap.String("database", name), zap.Error(err))
	}
	d.log(ctx).Info("Database deleted", zap.String("database", name))
	d.trigger(ctx, EventDatabaseDelete, name)
	return nil
}

// WithTransaction runs fn in a transaction. Nested calls join the outer
// transaction; a failure at any depth rolls the whole transaction back.
func (d *Database) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := adapter.WithTransaction(ctx, d.adapter, fn); err != nil {
		return translate(opTransaction, err)
	}
	return nil
}

func (d *Database) requireTenant() error {
	s := d.adapter.Scope()
	if !s.SharedTables() {
		return nil
	}
	if _, ok := s.Tenant(); !ok {
		return fmt.Errorf("%w: tenant must be set when table sharing is enabled", domain.ErrMissingTenant)
	}
	return nil
}

func (d *Database) keys() cache.Keys {
	s := d.adapter.Scope()
	k := cache.Keys{Namespace: s.Namespace(), Database: s.Database()}
	if t, ok := s.TenantFilter(); ok {
		k.Tenant, k.HasTenant = t, true
	}
	return k
}

func (d *Database) observe(op string, start time.Time, err *error) {
	d.metrics.Observe(op, start, *err)
}

func (d *Database) isKeyword(id string) bool {
	return slices.Contains(d.adapter.Keywords(), strings.ToUpper(id))
}

// purgeCollection drops the cached metadata and every cached document of
// a collection.
func (d *Database) purgeCollection(ctx context.Context, id string) {
	k := d.keys()
	if err := d.cache.Purge(ctx, k.Document(schema.MetadataCollection, id)); err != nil {
		d.log(ctx).Warn("Failed to purge cached collection", zap.String("collection", id), zap.Error(err))
	}
	if err := d.cache.PurgePrefix(ctx, k.Prefix(id)); err != nil {
		d.log(ctx).Warn("Failed to purge cached documents", zap.String("collection", id), zap.Error(err))
	}
}

// purgeDocument drops one cached document.
func (d *Database) purgeDocument(ctx context.Context, collection, id string) {
	if err := d.cache.Purge(ctx, d.keys().Document(collection, id)); err != nil {
		d.log(ctx).Warn("Failed to purge cached document",
			zap.String("collection", collection), zap.String("id", id), zap.Error(err))
	}
}
