package coordinator

import (
	"context"
	"errors"
	"fmt"

	"homeflow/escrow"
	"homeflow/event"

	"github.com/jackc/pgx/v5"
)

// holdLedger is the slice of the escrow repository the coordinator drives
// from inside its own transactions.
type holdLedger interface {
	Open(ctx context.Context, tx pgx.Tx, params escrow.OpenParams) (escrow.Hold, error)
	LatestHoldForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (escrow.Hold, error)
	ActiveHoldForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (escrow.Hold, error)
	ConfirmComplete(ctx context.Context, tx pgx.Tx, holdID string, party escrow.Party) (escrow.ConfirmResult, error)
	Refund(ctx context.Context, tx pgx.Tx, holdID, reason string) error
}

// Repository executes the coordinator's multi-table transitions. Every
// method takes the caller's transaction; locks are always taken job row
// first, then offer rows, so concurrent accepts on one job serialize
// without deadlocking.
type Repository struct {
	holds  holdLedger
	outbox event.Writer
}

func NewRepository(holds holdLedger, outbox event.Writer) *Repository {
	return &Repository{holds: holds, outbox: outbox}
}

// lockedJob is the jobs row snapshot taken under FOR UPDATE.
type lockedJob struct {
	ID              string
	HomeownerID     string
	ContractorID    *string
	AcceptedOfferID *string
	Status          string
}

func (r *Repository) lockJob(ctx context.Context, tx pgx.Tx, jobID string) (lockedJob, error) {
	var j lockedJob
	err := tx.QueryRow(ctx, `
		SELECT id::text, homeowner_id::text, contractor_id::text, accepted_offer_id::text, status::text
		FROM jobs
		WHERE id = $1
		FOR UPDATE
	`, jobID).Scan(&j.ID, &j.HomeownerID, &j.ContractorID, &j.AcceptedOfferID, &j.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lockedJob{}, ErrJobNotFound
		}
		return lockedJob{}, fmt.Errorf("coordinator: lock job: %w", err)
	}
	return j, nil
}

// lockedOffer is the offers row snapshot taken under FOR UPDATE.
type lockedOffer struct {
	ID           string
	JobID        string
	ContractorID string
	AmountCents  int64
	Status       string
}

func (r *Repository) lockOffer(ctx context.Context, tx pgx.Tx, offerID string) (lockedOffer, error) {
	var o lockedOffer
	err := tx.QueryRow(ctx, `
		SELECT id::text, job_id::text, contractor_id::text, amount_cents, status::text
		FROM offers
		WHERE id = $1
		FOR UPDATE
	`, offerID).Scan(&o.ID, &o.JobID, &o.ContractorID, &o.AmountCents, &o.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lockedOffer{}, ErrOfferNotFound
		}
		return lockedOffer{}, fmt.Errorf("coordinator: lock offer: %w", err)
	}
	return o, nil
}

// AcceptOfferTx runs the whole accept under the caller's transaction: accept
// the winner, decline every sibling still in play, confirm the job, open the
// escrow hold, and enqueue the events. The partial unique index on accepted
// offers backs this up even if the locking discipline is ever bypassed.
func (r *Repository) AcceptOfferTx(ctx context.Context, tx pgx.Tx, params AcceptParams) (AcceptResult, error) {
	jobRow, err := r.lockJob(ctx, tx, params.JobID)
	if err != nil {
		return AcceptResult{}, err
	}
	if jobRow.HomeownerID != params.ActorID {
		return AcceptResult{}, ErrUnauthorized
	}
	if jobRow.Status != "open" && jobRow.Status != "offered" {
		return AcceptResult{}, ErrOfferNoLongerAvailable
	}

	offerRow, err := r.lockOffer(ctx, tx, params.OfferID)
	if err != nil {
		return AcceptResult{}, err
	}
	if offerRow.JobID != params.JobID {
		return AcceptResult{}, ErrOfferNotFound
	}
	if offerRow.Status != "pending" && offerRow.Status != "counter_bid" {
		return AcceptResult{}, ErrOfferNoLongerAvailable
	}

	if _, err := tx.Exec(ctx, `
		UPDATE offers SET status = 'accepted' WHERE id = $1
	`, offerRow.ID); err != nil {
		return AcceptResult{}, fmt.Errorf("coordinator: accept offer: %w", err)
	}

	declined, err := r.declineSiblings(ctx, tx, params.JobID, offerRow.ID)
	if err != nil {
		return AcceptResult{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = 'confirmed', accepted_offer_id = $2, contractor_id = $3
		WHERE id = $1
	`, params.JobID, offerRow.ID, offerRow.ContractorID); err != nil {
		return AcceptResult{}, fmt.Errorf("coordinator: confirm job: %w", err)
	}

	hold, err := r.holds.Open(ctx, tx, escrow.OpenParams{
		JobID:       params.JobID,
		OfferID:     offerRow.ID,
		AmountCents: offerRow.AmountCents,
	})
	if err != nil {
		return AcceptResult{}, err
	}

	if err := r.outbox.Enqueue(ctx, tx, event.TopicOfferAccepted, map[string]any{
		"job_id":        params.JobID,
		"offer_id":      offerRow.ID,
		"contractor_id": offerRow.ContractorID,
		"amount_cents":  offerRow.AmountCents,
		"hold_id":       hold.ID,
	}); err != nil {
		return AcceptResult{}, err
	}
	if len(declined) > 0 {
		if err := r.outbox.Enqueue(ctx, tx, event.TopicOffersDeclined, map[string]any{
			"job_id":    params.JobID,
			"offer_ids": declined,
		}); err != nil {
			return AcceptResult{}, err
		}
	}

	return AcceptResult{
		JobID:            params.JobID,
		OfferID:          offerRow.ID,
		ContractorID:     offerRow.ContractorID,
		AmountCents:      offerRow.AmountCents,
		DeclinedOfferIDs: declined,
		HoldID:           hold.ID,
	}, nil
}

// declineSiblings declines every offer on the job still in play, except the
// winner, in one statement.
func (r *Repository) declineSiblings(ctx context.Context, tx pgx.Tx, jobID, winnerID string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		UPDATE offers
		SET status = 'declined'
		WHERE job_id = $1 AND id <> $2 AND status IN ('pending', 'counter_bid')
		RETURNING id::text
	`, jobID, winnerID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: decline siblings: %w", err)
	}
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("coordinator: scan declined id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("coordinator: declined rows: %w", err)
	}
	return ids, nil
}

// DeclineOfferTx declines a single offer on behalf of the job's homeowner.
// Already-declined offers are a no-op; accepted or withdrawn ones are gone.
func (r *Repository) DeclineOfferTx(ctx context.Context, tx pgx.Tx, jobID, offerID, actorID string) error {
	jobRow, err := r.lockJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if jobRow.HomeownerID != actorID {
		return ErrUnauthorized
	}

	offerRow, err := r.lockOffer(ctx, tx, offerID)
	if err != nil {
		return err
	}
	if offerRow.JobID != jobID {
		return ErrOfferNotFound
	}

	switch offerRow.Status {
	case "declined":
		return nil
	case "pending", "counter_bid":
		// continue
	default:
		return ErrOfferNoLongerAvailable
	}

	if _, err := tx.Exec(ctx, `
		UPDATE offers SET status = 'declined' WHERE id = $1
	`, offerID); err != nil {
		return fmt.Errorf("coordinator: decline offer: %w", err)
	}

	return r.outbox.Enqueue(ctx, tx, event.TopicOfferDeclined, map[string]any{
		"job_id":   jobID,
		"offer_id": offerID,
	})
}

// ConfirmCompleteTx records one party's completion confirmation against the
// job's hold. When the hold releases, the job completes in the same
// transaction.
func (r *Repository) ConfirmCompleteTx(ctx context.Context, tx pgx.Tx, jobID, actorID string) (CompletionResult, error) {
	jobRow, err := r.lockJob(ctx, tx, jobID)
	if err != nil {
		return CompletionResult{}, err
	}

	var party escrow.Party
	switch {
	case jobRow.HomeownerID == actorID:
		party = escrow.PartyHomeowner
	case jobRow.ContractorID != nil && *jobRow.ContractorID == actorID:
		party = escrow.PartyContractor
	default:
		return CompletionResult{}, ErrUnauthorized
	}

	switch jobRow.Status {
	case "confirmed", "in_progress", "completed":
		// confirmation is meaningful once an accepted offer exists
	default:
		return CompletionResult{}, ErrInvalidState
	}

	hold, err := r.holds.LatestHoldForUpdate(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, escrow.ErrHoldNotFound) {
			return CompletionResult{}, ErrInvalidState
		}
		return CompletionResult{}, err
	}

	confirm, err := r.holds.ConfirmComplete(ctx, tx, hold.ID, party)
	if err != nil {
		return CompletionResult{}, err
	}

	result := CompletionResult{
		AlreadyConfirmed: confirm.AlreadyConfirmed,
		BothConfirmed:    confirm.BothConfirmed,
		Released:         confirm.Released,
		JobCompleted:     jobRow.Status == "completed",
	}

	if confirm.Released && jobRow.Status != "completed" {
		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET status = 'completed' WHERE id = $1
		`, jobID); err != nil {
			return CompletionResult{}, fmt.Errorf("coordinator: complete job: %w", err)
		}
		if err := r.outbox.Enqueue(ctx, tx, event.TopicJobCompleted, map[string]any{
			"job_id":  jobID,
			"hold_id": hold.ID,
		}); err != nil {
			return CompletionResult{}, err
		}
		result.JobCompleted = true
	}

	return result, nil
}

// StartWorkTx moves a confirmed job to in_progress. Only the accepted
// contractor may start; re-starting an in_progress job is a no-op.
func (r *Repository) StartWorkTx(ctx context.Context, tx pgx.Tx, jobID, actorID string) error {
	jobRow, err := r.lockJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if jobRow.ContractorID == nil || *jobRow.ContractorID != actorID {
		return ErrUnauthorized
	}

	switch jobRow.Status {
	case "in_progress":
		return nil
	case "confirmed":
		// continue
	default:
		return ErrInvalidState
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'in_progress' WHERE id = $1
	`, jobID); err != nil {
		return fmt.Errorf("coordinator: start work: %w", err)
	}

	return r.outbox.Enqueue(ctx, tx, event.TopicJobStarted, map[string]any{
		"job_id":        jobID,
		"contractor_id": actorID,
	})
}

// CancelJobTx cancels an open or offered job, declining its live offers.
// Once an offer is accepted the job is past cancellation here and must go
// through the dispute path instead. Any active hold found anyway (a crashed
// accept should make this impossible, the unique index keeps it rare) is
// refunded in the same transaction.
func (r *Repository) CancelJobTx(ctx context.Context, tx pgx.Tx, jobID, actorID, reason string) error {
	jobRow, err := r.lockJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if jobRow.HomeownerID != actorID {
		return ErrUnauthorized
	}

	switch jobRow.Status {
	case "cancelled":
		return nil
	case "open", "offered":
		// continue
	default:
		return ErrCannotCancelInProgress
	}

	rows, err := tx.Query(ctx, `
		UPDATE offers
		SET status = 'declined'
		WHERE job_id = $1 AND status IN ('pending', 'counter_bid')
		RETURNING id::text
	`, jobID)
	if err != nil {
		return fmt.Errorf("coordinator: decline open offers: %w", err)
	}
	declined, err := collectIDs(rows)
	if err != nil {
		return err
	}

	hold, err := r.holds.ActiveHoldForUpdate(ctx, tx, jobID)
	switch {
	case err == nil:
		if err := r.holds.Refund(ctx, tx, hold.ID, reason); err != nil {
			return err
		}
	case errors.Is(err, escrow.ErrNoActiveHold):
		// nothing to unwind
	default:
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'cancelled', cancel_reason = $2 WHERE id = $1
	`, jobID, reason); err != nil {
		return fmt.Errorf("coordinator: cancel job: %w", err)
	}

	if len(declined) > 0 {
		if err := r.outbox.Enqueue(ctx, tx, event.TopicOffersDeclined, map[string]any{
			"job_id":    jobID,
			"offer_ids": declined,
		}); err != nil {
			return err
		}
	}
	return r.outbox.Enqueue(ctx, tx, event.TopicJobCancelled, map[string]any{
		"job_id": jobID,
		"reason": reason,
	})
}

// OpenDisputeTx flips a confirmed or in_progress job to disputed and records
// the dispute. Resolution happens off-platform; the job state is terminal
// for this subsystem. accepted_offer_id is cleared so the disputed row keeps
// the accepted-offer linkage rule intact; contractor_id stays for the audit
// trail.
func (r *Repository) OpenDisputeTx(ctx context.Context, tx pgx.Tx, jobID, actorID string) error {
	jobRow, err := r.lockJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if jobRow.HomeownerID != actorID && (jobRow.ContractorID == nil || *jobRow.ContractorID != actorID) {
		return ErrUnauthorized
	}

	switch jobRow.Status {
	case "disputed":
		return nil
	case "confirmed", "in_progress":
		// continue
	default:
		return ErrInvalidState
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'disputed', accepted_offer_id = NULL WHERE id = $1
	`, jobID); err != nil {
		return fmt.Errorf("coordinator: mark disputed: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO disputes (job_id, opened_by_user_id) VALUES ($1, $2)
	`, jobID, actorID); err != nil {
		return fmt.Errorf("coordinator: insert dispute: %w", err)
	}

	return r.outbox.Enqueue(ctx, tx, event.TopicJobDisputed, map[string]any{
		"job_id":    jobID,
		"opened_by": actorID,
	})
}
