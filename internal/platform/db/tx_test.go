package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (f *fakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.committed {
		return pgx.ErrTxClosed
	}
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx     *fakeTx
	begins int
	err    error
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	b.begins++
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestWithTx_Commits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, func(ctx context.Context) error {
		if TxFromContext(ctx) != b.tx {
			t.Error("expected transaction bound to context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.tx.committed || b.tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v", b.tx.committed, b.tx.rolledBack)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	sentinel := errors.New("boom")
	err := WithTx(context.Background(), b, func(context.Context) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if b.tx.committed || !b.tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v", b.tx.committed, b.tx.rolledBack)
	}
}

func TestWithTx_CommitFailure(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{commitErr: errors.New("serialization failure")}}
	err := WithTx(context.Background(), b, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected commit error")
	}
	if !b.tx.rolledBack {
		t.Error("expected rollback after failed commit")
	}
}

func TestWithTx_BeginFailure(t *testing.T) {
	b := &fakeBeginner{err: errors.New("pool closed")}
	called := false
	err := WithTx(context.Background(), b, func(context.Context) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("err=%v called=%v", err, called)
	}
}

func TestWithTx_ReusesOuterTransaction(t *testing.T) {
	outer := &fakeTx{}
	ctx := ContextWithTx(context.Background(), outer)
	b := &fakeBeginner{tx: &fakeTx{}}

	err := WithTx(ctx, b, func(ctx context.Context) error {
		if TxFromContext(ctx) != outer {
			t.Error("expected outer transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.begins != 0 {
		t.Errorf("expected no new transaction, got %d begins", b.begins)
	}
	if outer.committed {
		t.Error("inner WithTx must not commit the outer transaction")
	}
}

func TestConnFromContext(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected no transaction in empty context")
	}
	if got := ConnFromContext(context.Background(), nil); got != nil {
		t.Errorf("expected fallback, got %v", got)
	}
	tx := &fakeTx{}
	if got := ConnFromContext(ContextWithTx(context.Background(), tx), nil); got != tx {
		t.Errorf("expected bound transaction, got %v", got)
	}
}
