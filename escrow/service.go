package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool so the service can be unit tested.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ledger is the transactional surface of Repository the service drives.
type ledger interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	ApplyAuthorized(ctx context.Context, tx pgx.Tx, holdID string) error
	ApplyCaptured(ctx context.Context, tx pgx.Tx, holdID string) error
	ConfirmComplete(ctx context.Context, tx pgx.Tx, holdID string, party Party) (ConfirmResult, error)
	Refund(ctx context.Context, tx pgx.Tx, holdID, reason string) error
}

// Service applies gateway callbacks and confirmation requests to the escrow
// ledger, one transaction per call.
type Service struct {
	pool   TxBeginner
	ledger ledger
}

func NewService(pool TxBeginner, repo ledger) *Service {
	return &Service{pool: pool, ledger: repo}
}

// OnAuthorized handles the gateway's authorization callback. Replays (same
// idempotency key) and duplicate deliveries are silently dropped.
func (s *Service) OnAuthorized(ctx context.Context, holdID, idemKey string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.ledger.InsertIdempotencyKey(ctx, tx, idemKey); err != nil {
			return err
		}
		return s.ledger.ApplyAuthorized(ctx, tx, holdID)
	})
}

// OnCaptured handles the gateway's capture callback.
func (s *Service) OnCaptured(ctx context.Context, holdID, idemKey string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.ledger.InsertIdempotencyKey(ctx, tx, idemKey); err != nil {
			return err
		}
		return s.ledger.ApplyCaptured(ctx, tx, holdID)
	})
}

// ConfirmComplete records one party's completion confirmation directly
// against a hold. The coordinator path is the normal entry point; this one
// serves back-office corrections.
func (s *Service) ConfirmComplete(ctx context.Context, holdID string, party Party) (ConfirmResult, error) {
	var result ConfirmResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = s.ledger.ConfirmComplete(ctx, tx, holdID, party)
		return err
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return result, nil
}

// Refund refunds a hold by id, recording the reason.
func (s *Service) Refund(ctx context.Context, holdID, reason string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return s.ledger.Refund(ctx, tx, holdID, reason)
	})
}

func (s *Service) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			// replayed callback, already applied
			return nil
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit tx: %w", err)
	}
	return nil
}
