package coordinator

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool so the service can be unit tested.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// unitOfWork is the transactional surface of Repository the service drives.
type unitOfWork interface {
	AcceptOfferTx(ctx context.Context, tx pgx.Tx, params AcceptParams) (AcceptResult, error)
	DeclineOfferTx(ctx context.Context, tx pgx.Tx, jobID, offerID, actorID string) error
	ConfirmCompleteTx(ctx context.Context, tx pgx.Tx, jobID, actorID string) (CompletionResult, error)
	StartWorkTx(ctx context.Context, tx pgx.Tx, jobID, actorID string) error
	CancelJobTx(ctx context.Context, tx pgx.Tx, jobID, actorID, reason string) error
	OpenDisputeTx(ctx context.Context, tx pgx.Tx, jobID, actorID string) error
}

// Service wraps each coordinator operation in its own transaction. On any
// error the transaction rolls back whole: a failed accept leaves the offer
// pending, the job untouched, and no hold behind.
type Service struct {
	pool TxBeginner
	repo unitOfWork
}

func NewService(pool TxBeginner, repo unitOfWork) *Service {
	return &Service{pool: pool, repo: repo}
}

// AcceptOffer atomically accepts one offer, declines its live siblings,
// confirms the job, and opens the escrow hold for the agreed amount.
func (s *Service) AcceptOffer(ctx context.Context, params AcceptParams) (AcceptResult, error) {
	var result AcceptResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = s.repo.AcceptOfferTx(ctx, tx, params)
		return err
	})
	if err != nil {
		return AcceptResult{}, err
	}
	return result, nil
}

// DeclineOffer declines one offer without touching the job.
func (s *Service) DeclineOffer(ctx context.Context, jobID, offerID, actorID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return s.repo.DeclineOfferTx(ctx, tx, jobID, offerID, actorID)
	})
}

// ConfirmJobComplete records the acting party's completion confirmation.
// When the second confirmation lands on a captured hold, the payout releases
// and the job completes in the same transaction.
func (s *Service) ConfirmJobComplete(ctx context.Context, jobID, actorID string) (CompletionResult, error) {
	var result CompletionResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = s.repo.ConfirmCompleteTx(ctx, tx, jobID, actorID)
		return err
	})
	if err != nil {
		return CompletionResult{}, err
	}
	return result, nil
}

// StartWork moves a confirmed job to in_progress.
func (s *Service) StartWork(ctx context.Context, jobID, actorID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return s.repo.StartWorkTx(ctx, tx, jobID, actorID)
	})
}

// CancelJob cancels a job that has not reached acceptance.
func (s *Service) CancelJob(ctx context.Context, jobID, actorID, reason string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return s.repo.CancelJobTx(ctx, tx, jobID, actorID, reason)
	})
}

// OpenDispute marks a confirmed or in_progress job disputed for off-platform
// arbitration.
func (s *Service) OpenDispute(ctx context.Context, jobID, actorID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return s.repo.OpenDisputeTx(ctx, tx, jobID, actorID)
	})
}

func (s *Service) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("coordinator: commit tx: %w", err)
	}
	return nil
}
