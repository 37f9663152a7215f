package adapter

import (
	"context"
	"errors"
	"testing"
)

type fakeDriver struct {
	begins, commits, rollbacks int
	beginErr                   error
}

func (d *fakeDriver) Begin(context.Context) (any, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	d.begins++
	return d.begins, nil
}

func (d *fakeDriver) Commit(context.Context, any) error {
	d.commits++
	return nil
}

func (d *fakeDriver) Rollback(context.Context, any) error {
	d.rollbacks++
	return nil
}

type fakeTransactor struct{ tx *Transactions }

func (f fakeTransactor) StartTransaction(ctx context.Context) (context.Context, error) {
	return f.tx.Start(ctx)
}
func (f fakeTransactor) CommitTransaction(ctx context.Context) error   { return f.tx.Commit(ctx) }
func (f fakeTransactor) RollbackTransaction(ctx context.Context) error { return f.tx.Rollback(ctx) }
func (f fakeTransactor) InTransaction(ctx context.Context) bool        { return f.tx.Active(ctx) }

func TestTransactions_NestedCommit(t *testing.T) {
	d := &fakeDriver{}
	var outcomes []string
	tr := NewTransactions(d, func(o string) { outcomes = append(outcomes, o) })

	ctx, err := tr.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	inner, err := tr.Start(ctx)
	if err != nil {
		t.Fatalf("nested start: %v", err)
	}
	if tr.Depth(inner) != 2 {
		t.Errorf("depth = %d, want 2", tr.Depth(inner))
	}
	if d.begins != 1 {
		t.Errorf("begins = %d, want 1", d.begins)
	}
	if err := tr.Commit(inner); err != nil {
		t.Fatalf("inner commit: %v", err)
	}
	if d.commits != 0 {
		t.Error("inner commit must not commit")
	}
	if !tr.Active(ctx) {
		t.Error("expected transaction still active")
	}
	if err := tr.Commit(ctx); err != nil {
		t.Fatalf("outer commit: %v", err)
	}
	if d.commits != 1 {
		t.Errorf("commits = %d, want 1", d.commits)
	}
	if tr.Active(ctx) {
		t.Error("expected no active transaction")
	}
	if len(outcomes) != 1 || outcomes[0] != OutcomeCommit {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestTransactions_InnerRollbackMarksRollbackOnly(t *testing.T) {
	d := &fakeDriver{}
	tr := NewTransactions(d, nil)

	ctx, _ := tr.Start(context.Background())
	inner, _ := tr.Start(ctx)
	if err := tr.Rollback(inner); err != nil {
		t.Fatalf("inner rollback: %v", err)
	}
	if d.rollbacks != 0 {
		t.Error("inner rollback must not roll back")
	}
	err := tr.Commit(ctx)
	if !errors.Is(err, ErrRollbackOnly) {
		t.Fatalf("expected ErrRollbackOnly, got %v", err)
	}
	if d.rollbacks != 1 || d.commits != 0 {
		t.Errorf("rollbacks = %d commits = %d", d.rollbacks, d.commits)
	}
}

func TestTransactions_NoTransaction(t *testing.T) {
	tr := NewTransactions(&fakeDriver{}, nil)
	if err := tr.Commit(context.Background()); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("commit: expected ErrNoTransaction, got %v", err)
	}
	if err := tr.Rollback(context.Background()); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("rollback: expected ErrNoTransaction, got %v", err)
	}
	if tr.Handle(context.Background()) != nil {
		t.Error("expected nil handle")
	}
}

func TestTransactions_BeginError(t *testing.T) {
	boom := errors.New("boom")
	tr := NewTransactions(&fakeDriver{beginErr: boom}, nil)
	_, err := tr.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Op != OpBegin {
		t.Errorf("expected *Error with op %q, got %v", OpBegin, err)
	}
}

func TestTransactions_RestartAfterCommit(t *testing.T) {
	d := &fakeDriver{}
	tr := NewTransactions(d, nil)
	ctx, _ := tr.Start(context.Background())
	_ = tr.Commit(ctx)
	again, err := tr.Start(ctx)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if d.begins != 2 {
		t.Errorf("begins = %d, want 2", d.begins)
	}
	if tr.Handle(again) != 2 {
		t.Errorf("handle = %v, want 2", tr.Handle(again))
	}
}

func TestWithTransaction(t *testing.T) {
	d := &fakeDriver{}
	ft := fakeTransactor{tx: NewTransactions(d, nil)}

	err := WithTransaction(context.Background(), ft, func(ctx context.Context) error {
		if !ft.InTransaction(ctx) {
			t.Error("expected active transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.commits != 1 {
		t.Errorf("commits = %d, want 1", d.commits)
	}

	boom := errors.New("boom")
	err = WithTransaction(context.Background(), ft, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if d.rollbacks != 1 {
		t.Errorf("rollbacks = %d, want 1", d.rollbacks)
	}
}

func TestWithTransaction_Panic(t *testing.T) {
	d := &fakeDriver{}
	ft := fakeTransactor{tx: NewTransactions(d, nil)}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic to propagate")
		}
		if d.rollbacks != 1 {
			t.Errorf("rollbacks = %d, want 1", d.rollbacks)
		}
	}()
	_ = WithTransaction(context.Background(), ft, func(context.Context) error { panic("boom") })
}
