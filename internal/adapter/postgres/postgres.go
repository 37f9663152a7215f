// Package postgres is the relational storage adapter. Each collection is a
// table named {namespace}_{collection} inside a schema named after the
// database, paired with a {table}_perms table that indexes read, create,
// update and delete grants by role.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

var _ adapter.Adapter = (*Adapter)(nil)

// Config holds connection and scope settings.
type Config struct {
	DSN             string
	Database        string
	Namespace       string
	SharedTables    bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          *zap.Logger
	// Observe receives transaction outcomes. Optional.
	Observe func(outcome string)
}

// Adapter issues SQL through gorm's raw statement API.
type Adapter struct {
	db     *gorm.DB
	scope  *adapter.Scope
	hooks  *adapter.Hooks
	meta   *adapter.Metadata
	tx     *adapter.Transactions
	logger *zap.Logger

	mu       sync.RWMutex
	timeouts map[string]time.Duration
}

// New connects to Postgres and configures the pool.
func New(cfg Config) (*Adapter, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewWithDB(db, cfg), nil
}

// NewWithDB wraps an existing gorm handle. DSN and pool settings in cfg
// are ignored.
func NewWithDB(db *gorm.DB, cfg Config) *Adapter {
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	a := &Adapter{
		db:       db,
		scope:    adapter.NewScope(cfg.Namespace, cfg.Database, cfg.SharedTables),
		hooks:    adapter.NewHooks(),
		meta:     &adapter.Metadata{},
		logger:   l,
		timeouts: make(map[string]time.Duration),
	}
	a.tx = adapter.NewTransactions(txDriver{db: db}, cfg.Observe)
	return a
}

// OpenSQL wraps a database/sql handle, typically a test double.
func OpenSQL(conn *sql.DB, cfg Config) (*Adapter, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return NewWithDB(db, cfg), nil
}

// Scope returns the namespace, database and tenant scope.
func (a *Adapter) Scope() *adapter.Scope { return a.scope }

// Hooks returns the statement transform registry.
func (a *Adapter) Hooks() *adapter.Hooks { return a.hooks }

// SetMetadata prefixes every statement with a /* key: value */ comment.
func (a *Adapter) SetMetadata(key, value string) { adapter.SetMetadata(a.hooks, a.meta, key, value) }

// ResetMetadata removes statement comments.
func (a *Adapter) ResetMetadata() { adapter.ResetMetadata(a.hooks, a.meta) }

// Ping checks connectivity.
func (a *Adapter) Ping(ctx context.Context) error {
	var one int
	if err := a.conn(ctx).Raw("SELECT 1").Row().Scan(&one); err != nil {
		return translate(adapter.OpPing, err)
	}
	return nil
}

// Close releases the pool.
func (a *Adapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetTimeout bounds the duration of statements of event. EventAll applies
// to every event without its own timeout.
func (a *Adapter) SetTimeout(d time.Duration, event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeouts[event] = d
}

// ClearTimeout removes a timeout.
func (a *Adapter) ClearTimeout(event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.timeouts, event)
}

func (a *Adapter) timeout(event string) (time.Duration, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if d, ok := a.timeouts[event]; ok {
		return d, d > 0
	}
	d, ok := a.timeouts[adapter.EventAll]
	return d, ok && d > 0
}

// StartTransaction opens or joins a transaction.
func (a *Adapter) StartTransaction(ctx context.Context) (context.Context, error) { return a.tx.Start(ctx) }

// CommitTransaction commits at the outermost level.
func (a *Adapter) CommitTransaction(ctx context.Context) error { return a.tx.Commit(ctx) }

// RollbackTransaction rolls back at the outermost level.
func (a *Adapter) RollbackTransaction(ctx context.Context) error { return a.tx.Rollback(ctx) }

// InTransaction reports whether ctx carries an open transaction.
func (a *Adapter) InTransaction(ctx context.Context) bool { return a.tx.Active(ctx) }

type txDriver struct{ db *gorm.DB }

func (d txDriver) Begin(ctx context.Context) (any, error) {
	tx := d.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return tx, nil
}

func (d txDriver) Commit(_ context.Context, handle any) error {
	tx, ok := handle.(*gorm.DB)
	if !ok {
		return errors.New("postgres: invalid transaction handle")
	}
	return tx.Commit().Error
}

func (d txDriver) Rollback(_ context.Context, handle any) error {
	tx, ok := handle.(*gorm.DB)
	if !ok {
		return errors.New("postgres: invalid transaction handle")
	}
	return tx.Rollback().Error
}

// conn returns the transaction bound to ctx or the pool.
func (a *Adapter) conn(ctx context.Context) *gorm.DB {
	if tx, ok := a.tx.Handle(ctx).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return a.db.WithContext(ctx)
}

// statement runs the hooks for event and applies its timeout.
func (a *Adapter) statement(ctx context.Context, event, stmt string) (context.Context, string, context.CancelFunc) {
	stmt = a.hooks.Trigger(event, stmt)
	a.logger.Debug("statement", zap.String("event", event), zap.String("sql", stmt))
	if d, ok := a.timeout(event); ok {
		ctx, cancel := context.WithTimeout(ctx, d)
		return ctx, stmt, cancel
	}
	return ctx, stmt, func() {}
}

// exec runs a statement that returns no rows.
func (a *Adapter) exec(ctx context.Context, event, stmt string, args ...any) (int64, error) {
	ctx, stmt, cancel := a.statement(ctx, event, stmt)
	defer cancel()
	res := a.conn(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return 0, translate(event, res.Error)
	}
	return res.RowsAffected, nil
}

// query runs a statement and hands its rows to scan.
func (a *Adapter) query(ctx context.Context, event, stmt string, scan func(*sql.Rows) error, args ...any) error {
	ctx, stmt, cancel := a.statement(ctx, event, stmt)
	defer cancel()
	rows, err := a.conn(ctx).Raw(stmt, args...).Rows()
	if err != nil {
		return translate(event, err)
	}
	defer rows.Close()
	if err := scan(rows); err != nil {
		return translate(event, err)
	}
	if err := rows.Err(); err != nil {
		return translate(event, err)
	}
	return nil
}

// translate classifies driver errors into adapter sentinels.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &adapter.Error{Op: op, Err: fmt.Errorf("%w: %w", adapter.ErrTimeout, err)}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "42P07", "42701", "42710", "42P06":
			return &adapter.Error{Op: op, Err: fmt.Errorf("%w: %w", adapter.ErrDuplicate, err)}
		case "57014", "55P03", "40P01":
			return &adapter.Error{Op: op, Err: fmt.Errorf("%w: %w", adapter.ErrTimeout, err)}
		case "54000", "54001", "54011", "22001":
			return &adapter.Error{Op: op, Err: fmt.Errorf("%w: %w", adapter.ErrLimit, err)}
		case "42P01", "42703", "42704", "3F000":
			return &adapter.Error{Op: op, Err: fmt.Errorf("%w: %w", adapter.ErrNotFound, err)}
		}
	}
	return &adapter.Error{Op: op, Err: err}
}

// Limits.

// LimitForString returns the largest string size.
func (a *Adapter) LimitForString() int64 { return adapter.SQLLimitForString }

// LimitForInt returns the largest integer size.
func (a *Adapter) LimitForInt() int64 { return adapter.SQLLimitForInt }

// LimitForAttributes returns the column ceiling.
func (a *Adapter) LimitForAttributes() int { return adapter.SQLLimitForAttributes }

// LimitForIndexes returns the index ceiling.
func (a *Adapter) LimitForIndexes() int { return adapter.SQLLimitForIndexes }

// MaxIndexLength returns the summed key length ceiling.
func (a *Adapter) MaxIndexLength() int { return adapter.SQLMaxIndexLength }

// MaxVarcharLength returns the largest VARCHAR size.
func (a *Adapter) MaxVarcharLength() int { return adapter.SQLMaxVarcharLength }

// DocumentSizeLimit returns the row width ceiling in bytes.
func (a *Adapter) DocumentSizeLimit() int { return adapter.SQLDocumentSizeLimit }

// Support reports capabilities. Values come back as driver types, so the
// orchestrator casts them.
func (a *Adapter) Support() adapter.Support {
	return adapter.Support{
		Schemas:           true,
		Index:             true,
		UniqueIndex:       true,
		FulltextIndex:     true,
		Relationships:     true,
		Timeouts:          true,
		Casting:           false,
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
	return adapter.RowWidth(c, adapter.SQLMaxVarcharLength)
}

// Keywords returns reserved words.
func (a *Adapter) Keywords() []string { return adapter.SQLKeywords() }

// Naming.

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (a *Adapter) tableName(collection string) string {
	return a.scope.Namespace() + "_" + adapter.Filter(collection)
}

// table returns the schema-qualified quoted table name.
func (a *Adapter) table(collection string) string {
	return quote(a.scope.Database()) + "." + quote(a.tableName(collection))
}

func (a *Adapter) permsTable(collection string) string {
	return quote(a.scope.Database()) + "." + quote(a.tableName(collection)+"_perms")
}

// maxIdentifierLength is the longest identifier Postgres keeps untruncated.
const maxIdentifierLength = 63

// indexName is unique per schema, so it carries the table name. Names past
// the identifier limit are cut and suffixed with a hash of the full name.
func (a *Adapter) indexName(collection, key string) string {
	name := a.tableName(collection) + "_" + adapter.Filter(key)
	if len(name) <= maxIdentifierLength {
		return name
	}
	sum := strconv.FormatUint(xxhash.Sum64String(name), 16)
	return name[:maxIdentifierLength-len(sum)-1] + "_" + sum
}

func formatInternalID(id int64) string { return strconv.FormatInt(id, 10) }
