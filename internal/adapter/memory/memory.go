package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

var _ adapter.Adapter = (*Adapter)(nil)

// Limits overrides the engine limits reported by the adapter.
type Limits struct {
	String     int64
	Int        int64
	Attributes int
	Indexes    int
	IndexLen   int
	Varchar    int
	DocSize    int
}

func defaultLimits() Limits {
	return Limits{
		String:     adapter.SQLLimitForString,
		Int:        adapter.SQLLimitForInt,
		Attributes: adapter.SQLLimitForAttributes,
		Indexes:    adapter.SQLLimitForIndexes,
		IndexLen:   adapter.SQLMaxIndexLength,
		Varchar:    adapter.SQLMaxVarcharLength,
		DocSize:    adapter.SQLDocumentSizeLimit,
	}
}

// Option configures the adapter.
type Option func(*Adapter)

// WithNamespace sets the table prefix.
func WithNamespace(ns string) Option { return func(a *Adapter) { a.scope.SetNamespace(ns) } }

// WithDatabase sets the database name.
func WithDatabase(name string) Option { return func(a *Adapter) { a.scope.SetDatabase(name) } }

// WithSharedTables enables shared-tables mode.
func WithSharedTables(shared bool) Option { return func(a *Adapter) { a.scope.SetSharedTables(shared) } }

// WithLimits overrides engine limits. Zero fields keep their defaults.
func WithLimits(l Limits) Option {
	return func(a *Adapter) {
		if l.String > 0 {
			a.limits.String = l.String
		}
		if l.Int > 0 {
			a.limits.Int = l.Int
		}
		if l.Attributes > 0 {
			a.limits.Attributes = l.Attributes
		}
		if l.Indexes > 0 {
			a.limits.Indexes = l.Indexes
		}
		if l.IndexLen > 0 {
			a.limits.IndexLen = l.IndexLen
		}
		if l.Varchar > 0 {
			a.limits.Varchar = l.Varchar
		}
		if l.DocSize > 0 {
			a.limits.DocSize = l.DocSize
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(a *Adapter) { a.logger = l } }

// WithTransactionObserver reports transaction outcomes.
func WithTransactionObserver(fn func(outcome string)) Option {
	return func(a *Adapter) { a.observe = fn }
}

// Adapter keeps databases, tables and permission rows in process memory.
// It follows the relational adapter's table-per-collection layout and
// error semantics. Transactions snapshot the whole store; writes outside
// a transaction wait for open transactions to finish.
type Adapter struct {
	scope   *adapter.Scope
	hooks   *adapter.Hooks
	meta    *adapter.Metadata
	tx      *adapter.Transactions
	limits  Limits
	logger  *zap.Logger
	observe func(string)

	gate sync.Mutex
	mu   sync.RWMutex
	dbs  map[string]*database

	tmu      sync.RWMutex
	timeouts map[string]time.Duration
}

// New creates an empty in-memory adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		scope:    adapter.NewScope("", "", false),
		hooks:    adapter.NewHooks(),
		meta:     &adapter.Metadata{},
		limits:   defaultLimits(),
		logger:   zap.NewNop(),
		dbs:      make(map[string]*database),
		timeouts: make(map[string]time.Duration),
	}
	for _, o := range opts {
		o(a)
	}
	a.tx = adapter.NewTransactions(driver{a}, a.observe)
	return a
}

// Scope returns the namespace, database and tenant scope.
func (a *Adapter) Scope() *adapter.Scope { return a.scope }

// Hooks returns the statement transform registry.
func (a *Adapter) Hooks() *adapter.Hooks { return a.hooks }

// SetMetadata tags every statement with a key/value comment.
func (a *Adapter) SetMetadata(key, value string) { adapter.SetMetadata(a.hooks, a.meta, key, value) }

// ResetMetadata clears statement metadata.
func (a *Adapter) ResetMetadata() { adapter.ResetMetadata(a.hooks, a.meta) }

// Ping always succeeds.
func (a *Adapter) Ping(context.Context) error { return nil }

// Close is a no-op.
func (a *Adapter) Close() error { return nil }

// SetTimeout installs a deadline for operations of event (or all events).
func (a *Adapter) SetTimeout(d time.Duration, event string) {
	a.tmu.Lock()
	defer a.tmu.Unlock()
	a.timeouts[event] = d
}

// ClearTimeout removes a deadline.
func (a *Adapter) ClearTimeout(event string) {
	a.tmu.Lock()
	defer a.tmu.Unlock()
	delete(a.timeouts, event)
}

// begin runs the statement hooks and the timeout check for event. The
// returned function reports the elapsed time.
func (a *Adapter) begin(ctx context.Context, event, statement string) (func(), error) {
	statement = a.hooks.Trigger(event, statement)

	a.tmu.RLock()
	d, ok := a.timeouts[event]
	if !ok {
		d, ok = a.timeouts[adapter.EventAll]
	}
	a.tmu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, &adapter.Error{Op: event, Err: fmt.Errorf("%w: %w", adapter.ErrTimeout, err)}
	}
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		if ok && d > 0 && elapsed > d {
			a.logger.Warn("statement exceeded timeout", zap.String("event", event), zap.Duration("elapsed", elapsed))
		}
		a.logger.Debug("statement", zap.String("event", event), zap.String("statement", statement),
			zap.Duration("elapsed", elapsed))
	}, nil
}

// lockWrite serializes writes made outside a transaction with open
// transactions.
func (a *Adapter) lockWrite(ctx context.Context) func() {
	if a.tx.Active(ctx) {
		return func() {}
	}
	a.gate.Lock()
	return a.gate.Unlock
}

// StartTransaction opens or joins a transaction.
func (a *Adapter) StartTransaction(ctx context.Context) (context.Context, error) { return a.tx.Start(ctx) }

// CommitTransaction commits at the outermost level.
func (a *Adapter) CommitTransaction(ctx context.Context) error { return a.tx.Commit(ctx) }

// RollbackTransaction rolls back at the outermost level.
func (a *Adapter) RollbackTransaction(ctx context.Context) error { return a.tx.Rollback(ctx) }

// InTransaction reports whether ctx carries an open transaction.
func (a *Adapter) InTransaction(ctx context.Context) bool { return a.tx.Active(ctx) }

type driver struct{ a *Adapter }

func (d driver) Begin(context.Context) (any, error) {
	d.a.gate.Lock()
	d.a.mu.RLock()
	defer d.a.mu.RUnlock()
	return snapshot(d.a.dbs), nil
}

func (d driver) Commit(context.Context, any) error {
	d.a.gate.Unlock()
	return nil
}

func (d driver) Rollback(_ context.Context, handle any) error {
	defer d.a.gate.Unlock()
	snap, ok := handle.(map[string]*database)
	if !ok {
		return errors.New("memory: invalid transaction handle")
	}
	d.a.mu.Lock()
	d.a.dbs = snap
	d.a.mu.Unlock()
	return nil
}

// LimitForString returns the largest string size.
func (a *Adapter) LimitForString() int64 { return a.limits.String }

// LimitForInt returns the largest integer size.
func (a *Adapter) LimitForInt() int64 { return a.limits.Int }

// LimitForAttributes returns the column ceiling.
func (a *Adapter) LimitForAttributes() int { return a.limits.Attributes }

// LimitForIndexes returns the index ceiling.
func (a *Adapter) LimitForIndexes() int { return a.limits.Indexes }

// MaxIndexLength returns the summed key length ceiling.
func (a *Adapter) MaxIndexLength() int { return a.limits.IndexLen }

// MaxVarcharLength returns the largest inline string.
func (a *Adapter) MaxVarcharLength() int { return a.limits.Varchar }

// DocumentSizeLimit returns the row width ceiling in bytes.
func (a *Adapter) DocumentSizeLimit() int { return a.limits.DocSize }

// Support reports capabilities.
func (a *Adapter) Support() adapter.Support {
	return adapter.Support{
		Schemas:           true,
		Index:             true,
		UniqueIndex:       true,
		FulltextIndex:     true,
		Relationships:     true,
		Timeouts:          true,
		Casting:           true,
		UpdateLock:        true,
		AttributeResizing: true,
		QueryContains:     true,
	}
}

// CountOfAttributes counts collection columns.
func (a *Adapter) CountOfAttributes(c schema.Collection) int { return adapter.CountOfAttributes(c) }

// CountOfIndexes counts collection indexes.
func (a *Adapter) CountOfIndexes(c schema.Collection) int { return adapter.CountOfIndexes(c) }

// CountOfDefaultAttributes counts internal columns.
func (a *Adapter) CountOfDefaultAttributes() int { return len(schema.InternalAttributes()) }

// CountOfDefaultIndexes counts internal indexes.
func (a *Adapter) CountOfDefaultIndexes() int { return len(schema.InternalIndexes()) }

// AttributeWidth estimates the row width of a collection.
func (a *Adapter) AttributeWidth(c schema.Collection) int {
	return adapter.RowWidth(c, a.limits.Varchar)
}

// Keywords returns reserved words.
func (a *Adapter) Keywords() []string { return adapter.SQLKeywords() }

func (a *Adapter) tableName(collection string) string {
	return a.scope.Namespace() + "_" + adapter.Filter(collection)
}

func formatInternalID(id int64) string { return strconv.FormatInt(id, 10) }
