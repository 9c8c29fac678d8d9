package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestOnAuthorized_ReplayDropped(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeLedger{insertErr: ErrDuplicateIdempotencyKey}
	svc := NewService(pool, repo)

	if err := svc.OnAuthorized(context.Background(), "hold-1", "evt-1"); err != nil {
		t.Fatalf("expected nil error on replay, got %v", err)
	}

	if pool.tx == nil {
		t.Fatalf("expected Begin to provide transaction")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback on replay")
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped on replay")
	}
	if repo.authorized {
		t.Errorf("expected transition to be skipped when key duplicates")
	}
}

func TestOnAuthorized_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeLedger{}
	svc := NewService(pool, repo)

	if err := svc.OnAuthorized(context.Background(), "hold-1", "evt-1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if !repo.authorized {
		t.Errorf("expected ApplyAuthorized to run")
	}
}

func TestOnCaptured_InvalidTransitionRollsBack(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeLedger{capturedErr: ErrInvalidTransition}
	svc := NewService(pool, repo)

	err := svc.OnCaptured(context.Background(), "hold-1", "evt-2")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if pool.tx.committed {
		t.Errorf("expected commit to be skipped on transition error")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback on transition error")
	}
}

func TestConfirmComplete_ReturnsResult(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeLedger{confirmResult: ConfirmResult{BothConfirmed: true, Released: true}}
	svc := NewService(pool, repo)

	result, err := svc.ConfirmComplete(context.Background(), "hold-1", PartyHomeowner)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !result.Released {
		t.Errorf("expected released result to pass through")
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestRefund_PropagatesError(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeLedger{refundErr: ErrHoldNotFound}
	svc := NewService(pool, repo)

	if err := svc.Refund(context.Background(), "hold-missing", "homeowner cancelled"); !errors.Is(err, ErrHoldNotFound) {
		t.Fatalf("expected ErrHoldNotFound, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
}

type fakeLedger struct {
	insertErr     error
	capturedErr   error
	refundErr     error
	confirmResult ConfirmResult
	authorized    bool
	captured      bool
}

func (f *fakeLedger) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	return f.insertErr
}

func (f *fakeLedger) ApplyAuthorized(ctx context.Context, tx pgx.Tx, holdID string) error {
	f.authorized = true
	return nil
}

func (f *fakeLedger) ApplyCaptured(ctx context.Context, tx pgx.Tx, holdID string) error {
	f.captured = true
	return f.capturedErr
}

func (f *fakeLedger) ConfirmComplete(ctx context.Context, tx pgx.Tx, holdID string, party Party) (ConfirmResult, error) {
	return f.confirmResult, nil
}

func (f *fakeLedger) Refund(ctx context.Context, tx pgx.Tx, holdID, reason string) error {
	return f.refundErr
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
