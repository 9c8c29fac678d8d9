package offer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"homeflow/eta"
	"homeflow/event"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrInvalidAmount signals a non-positive offer amount.
	ErrInvalidAmount = errors.New("offer: amount must be positive")
	// ErrInvalidSource signals an unknown offer source tag.
	ErrInvalidSource = errors.New("offer: invalid source")
	// ErrJobNotFound signals the target job does not exist.
	ErrJobNotFound = errors.New("offer: job not found")
	// ErrJobNotOpen signals the target job no longer takes offers.
	ErrJobNotOpen = errors.New("offer: job is not open for offers")
	// ErrInvalidState signals a transition from a state that doesn't permit it.
	ErrInvalidState = errors.New("offer: invalid state for transition")
	// ErrForbidden signals the actor does not own the offer.
	ErrForbidden = errors.New("offer: actor is not the offer's contractor")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is the offer ledger: it owns every offer write except the
// accept/decline transitions, which belong to the coordinator.
type Service struct {
	pool   TxBeginner
	repo   Repository
	outbox event.Writer
	eta    eta.Provider
	idGen  func() string
	now    func() time.Time
}

func NewService(pool TxBeginner, repo Repository, outbox event.Writer) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		outbox: outbox,
		idGen:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

func (s *Service) WithETAProvider(p eta.Provider) *Service {
	s.eta = p
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// Submit inserts a pending offer for a job that is still taking offers, and
// flips the job open -> offered in the same transaction.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Offer, error) {
	if params.JobID == "" {
		return Offer{}, fmt.Errorf("offer: missing job id")
	}
	if params.ContractorID == "" {
		return Offer{}, fmt.Errorf("offer: missing contractor id")
	}
	if params.AmountCents <= 0 {
		return Offer{}, ErrInvalidAmount
	}
	if params.Source != SourceMarketplaceBid && params.Source != SourceDirectOffer {
		return Offer{}, ErrInvalidSource
	}

	// The ETA collaborator is advisory only: failures are logged and the
	// submit proceeds without a hint.
	var hint *int
	if s.eta != nil {
		minutes, err := s.eta.EstimateMinutes(ctx, params.JobID, params.ContractorID)
		if err != nil {
			log.Printf("offer: eta hint for job %s: %v", params.JobID, err)
		} else {
			hint = &minutes
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := s.repo.LockJobStatus(ctx, tx, params.JobID)
	if err != nil {
		return Offer{}, err
	}
	if status != "open" && status != "offered" {
		return Offer{}, ErrJobNotOpen
	}

	created, err := s.repo.Insert(ctx, tx, Offer{
		ID:             s.idGen(),
		JobID:          params.JobID,
		ContractorID:   params.ContractorID,
		Source:         params.Source,
		AmountCents:    params.AmountCents,
		Message:        params.Message,
		EtaMinutesHint: hint,
		Status:         StatusPending,
	})
	if err != nil {
		return Offer{}, fmt.Errorf("offer: insert: %w", err)
	}

	if err := s.repo.MarkJobOffered(ctx, tx, params.JobID); err != nil {
		return Offer{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"offer_id":      created.ID,
			"job_id":        created.JobID,
			"contractor_id": created.ContractorID,
			"source":        created.Source,
			"amount_cents":  created.AmountCents,
		}
		if err := s.outbox.Enqueue(ctx, tx, event.TopicOfferSubmitted, payload); err != nil {
			return Offer{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit submit: %w", err)
	}

	return created, nil
}

// CounterBid lets a contractor counter their own pending direct offer with a
// new amount. Marketplace bids cannot be countered.
func (s *Service) CounterBid(ctx context.Context, params CounterBidParams) (Offer, error) {
	if params.NewAmountCents <= 0 {
		return Offer{}, ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, params.OfferID)
	if err != nil {
		return Offer{}, err
	}
	if current.ContractorID != params.ActorID {
		return Offer{}, ErrForbidden
	}
	if current.Source != SourceDirectOffer || current.Status != StatusPending {
		return Offer{}, ErrInvalidState
	}

	updated, err := s.repo.UpdateState(ctx, tx, params.OfferID, StatusCounterBid, params.NewAmountCents)
	if err != nil {
		return Offer{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"offer_id":     updated.ID,
			"job_id":       updated.JobID,
			"amount_cents": updated.AmountCents,
		}
		if err := s.outbox.Enqueue(ctx, tx, event.TopicOfferCounterBid, payload); err != nil {
			return Offer{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit counter bid: %w", err)
	}

	return updated, nil
}

// Withdraw retires a contractor's own offer. Idempotent: withdrawing an
// already-withdrawn offer is a no-op.
func (s *Service) Withdraw(ctx context.Context, offerID, actorID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return err
	}
	if current.ContractorID != actorID {
		return ErrForbidden
	}

	switch current.Status {
	case StatusWithdrawn:
		return nil
	case StatusPending, StatusCounterBid:
		// fall through to the update
	default:
		return ErrInvalidState
	}

	if _, err := s.repo.UpdateState(ctx, tx, offerID, StatusWithdrawn, current.AmountCents); err != nil {
		return err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"offer_id": current.ID,
			"job_id":   current.JobID,
		}
		if err := s.outbox.Enqueue(ctx, tx, event.TopicOfferWithdrawn, payload); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("offer: commit withdraw: %w", err)
	}

	return nil
}

// ListActive returns the non-terminal offers for a job.
func (s *Service) ListActive(ctx context.Context, jobID string) ([]Offer, error) {
	return s.repo.ListActive(ctx, jobID)
}

// ListForContractor returns all offers a contractor has made.
func (s *Service) ListForContractor(ctx context.Context, contractorID string) ([]Offer, error) {
	return s.repo.ListForContractor(ctx, contractorID)
}

// Get returns one offer by id.
func (s *Service) Get(ctx context.Context, offerID string) (Offer, error) {
	return s.repo.GetByID(ctx, offerID)
}
