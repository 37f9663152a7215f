package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// TxDriver opens and finishes physical transactions.
type TxDriver interface {
	Begin(ctx context.Context) (any, error)
	Commit(ctx context.Context, handle any) error
	Rollback(ctx context.Context, handle any) error
}

// Outcome labels reported to the observer.
const (
	OutcomeCommit   = "commit"
	OutcomeRollback = "rollback"
	OutcomeFailed   = "failed"
)

type txKey struct{ owner *Transactions }

type txState struct {
	mu           sync.Mutex
	depth        int
	rollbackOnly bool
	handle       any
}

// Transactions implements reentrant, context-carried transactions over a
// TxDriver. Nested starts increment a depth counter; only the outermost
// start begins and only the outermost commit commits. A rollback at any
// depth marks the whole transaction for rollback.
type Transactions struct {
	driver  TxDriver
	observe func(outcome string)
}

// NewTransactions creates a transaction manager. observe may be nil.
func NewTransactions(driver TxDriver, observe func(outcome string)) *Transactions {
	if observe == nil {
		observe = func(string) {}
	}
	return &Transactions{driver: driver, observe: observe}
}

func (t *Transactions) state(ctx context.Context) *txState {
	s, _ := ctx.Value(txKey{owner: t}).(*txState)
	return s
}

// Active reports whether ctx carries an open transaction.
func (t *Transactions) Active(ctx context.Context) bool {
	s := t.state(ctx)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth > 0
}

// Handle returns the driver handle of the open transaction, or nil.
func (t *Transactions) Handle(ctx context.Context) any {
	s := t.state(ctx)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.depth == 0 {
		return nil
	}
	return s.handle
}

// Depth returns the nesting depth of the transaction in ctx.
func (t *Transactions) Depth(ctx context.Context) int {
	s := t.state(ctx)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// Start opens or joins a transaction and returns the context carrying it.
func (t *Transactions) Start(ctx context.Context) (context.Context, error) {
	if s := t.state(ctx); s != nil {
		s.mu.Lock()
		if s.depth > 0 {
			s.depth++
			s.mu.Unlock()
			return ctx, nil
		}
		s.mu.Unlock()
	}

	handle, err := t.driver.Begin(ctx)
	if err != nil {
		t.observe(OutcomeFailed)
		return ctx, &Error{Op: OpBegin, Err: err}
	}
	return context.WithValue(ctx, txKey{owner: t}, &txState{depth: 1, handle: handle}), nil
}

// Commit leaves one nesting level, committing at the outermost level.
func (t *Transactions) Commit(ctx context.Context) error {
	s := t.state(ctx)
	if s == nil {
		return ErrNoTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.depth == 0 {
		return ErrNoTransaction
	}
	s.depth--
	if s.depth > 0 {
		return nil
	}

	if s.rollbackOnly {
		s.rollbackOnly = false
		if err := t.driver.Rollback(ctx, s.handle); err != nil {
			t.observe(OutcomeFailed)
			return errors.Join(ErrRollbackOnly, &Error{Op: OpRollback, Err: err})
		}
		t.observe(OutcomeRollback)
		return ErrRollbackOnly
	}
	if err := t.driver.Commit(ctx, s.handle); err != nil {
		t.observe(OutcomeFailed)
		return &Error{Op: OpCommit, Err: err}
	}
	t.observe(OutcomeCommit)
	return nil
}

// Rollback leaves one nesting level. Inner levels mark the transaction
// for rollback; the outermost level rolls back.
func (t *Transactions) Rollback(ctx context.Context) error {
	s := t.state(ctx)
	if s == nil {
		return ErrNoTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.depth == 0 {
		return ErrNoTransaction
	}
	s.depth--
	if s.depth > 0 {
		s.rollbackOnly = true
		return nil
	}
	s.rollbackOnly = false
	if err := t.driver.Rollback(ctx, s.handle); err != nil {
		t.observe(OutcomeFailed)
		return &Error{Op: OpRollback, Err: err}
	}
	t.observe(OutcomeRollback)
	return nil
}

// WithTransaction runs fn inside a transaction on tr, rolling back when fn
// fails or panics.
func WithTransaction(ctx context.Context, tr Transactor, fn func(ctx context.Context) error) (err error) {
	txCtx, err := tr.StartTransaction(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tr.RollbackTransaction(txCtx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tr.RollbackTransaction(txCtx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %w)", err, rbErr)
		}
		return err
	}
	return tr.CommitTransaction(txCtx)
}
