package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homeflow/event"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrHoldNotFound is returned when no hold row exists for the identifier.
	ErrHoldNotFound = errors.New("escrow: hold not found")
	// ErrNoActiveHold signals the job has no non-terminal hold.
	ErrNoActiveHold = errors.New("escrow: no active hold for job")
	// ErrHoldAlreadyActive enforces the one-active-hold-per-job invariant.
	ErrHoldAlreadyActive = errors.New("escrow: job already has an active hold")
	// ErrInvalidTransition signals a hold transition attempted out of order.
	ErrInvalidTransition = errors.New("escrow: invalid hold transition")
	// ErrGatewayFailure wraps payment-provider errors during the open handshake.
	ErrGatewayFailure = errors.New("escrow: payment gateway failure")
	// ErrDuplicateIdempotencyKey signals a replayed gateway callback.
	ErrDuplicateIdempotencyKey = errors.New("escrow: duplicate idempotency key")
)

const defaultAuthTimeout = 10 * time.Second

// Repository owns escrow_holds rows. Every method runs inside the caller's
// transaction so hold transitions stay atomic with the job and offer writes
// around them.
type Repository struct {
	gateway     Gateway
	fees        FeeSchedule
	outbox      event.Writer
	authTimeout time.Duration
}

func NewRepository(gateway Gateway, fees FeeSchedule, outbox event.Writer) *Repository {
	return &Repository{
		gateway:     gateway,
		fees:        fees,
		outbox:      outbox,
		authTimeout: defaultAuthTimeout,
	}
}

func (r *Repository) WithAuthTimeout(d time.Duration) *Repository {
	r.authTimeout = d
	return r
}

const holdColumns = `id::text, job_id::text, offer_id::text, amount_cents, contractor_payout_cents,
	status::text, gateway_ref, homeowner_confirmed_at, contractor_confirmed_at,
	released_at, refund_reason, created_at, updated_at`

// Open creates a pending_auth hold for an accepted offer. It performs the
// synchronous authorization handshake with the payment gateway under a
// bounded timeout; a gateway failure surfaces as ErrGatewayFailure so the
// caller's transaction rolls the whole accept back.
func (r *Repository) Open(ctx context.Context, tx pgx.Tx, params OpenParams) (Hold, error) {
	if params.JobID == "" || params.OfferID == "" {
		return Hold{}, fmt.Errorf("escrow: open missing job or offer id")
	}
	if params.AmountCents <= 0 {
		return Hold{}, fmt.Errorf("escrow: open invalid amount %d", params.AmountCents)
	}

	var existing string
	err := tx.QueryRow(ctx, `
		SELECT id::text FROM escrow_holds
		WHERE job_id = $1 AND status IN ('pending_auth', 'authorized', 'captured')
		FOR UPDATE
	`, params.JobID).Scan(&existing)
	switch {
	case err == nil:
		return Hold{}, ErrHoldAlreadyActive
	case errors.Is(err, pgx.ErrNoRows):
		// no active hold, continue
	default:
		return Hold{}, fmt.Errorf("escrow: check active hold: %w", err)
	}

	payout := r.fees.PayoutCents(params.AmountCents)

	authCtx, cancel := context.WithTimeout(ctx, r.authTimeout)
	defer cancel()
	ref, err := r.gateway.Authorize(authCtx, params.AmountCents, params.JobID)
	if err != nil {
		return Hold{}, fmt.Errorf("%w: authorize: %v", ErrGatewayFailure, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO escrow_holds (job_id, offer_id, amount_cents, contractor_payout_cents, status, gateway_ref)
		VALUES ($1, $2, $3, $4, 'pending_auth', $5)
		RETURNING %s
	`, holdColumns)

	hold, err := scanHold(tx.QueryRow(ctx, query, params.JobID, params.OfferID, params.AmountCents, payout, ref))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Hold{}, ErrHoldAlreadyActive
		}
		return Hold{}, fmt.Errorf("escrow: insert hold: %w", err)
	}

	return hold, nil
}

// GetForUpdate locks one hold row for the duration of the transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, holdID string) (Hold, error) {
	query := fmt.Sprintf(`SELECT %s FROM escrow_holds WHERE id = $1 FOR UPDATE`, holdColumns)
	hold, err := scanHold(tx.QueryRow(ctx, query, holdID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Hold{}, ErrHoldNotFound
		}
		return Hold{}, fmt.Errorf("escrow: get hold for update: %w", err)
	}
	return hold, nil
}

// ActiveHoldForUpdate locks the job's single non-terminal hold.
func (r *Repository) ActiveHoldForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (Hold, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM escrow_holds
		WHERE job_id = $1 AND status IN ('pending_auth', 'authorized', 'captured')
		FOR UPDATE
	`, holdColumns)
	hold, err := scanHold(tx.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Hold{}, ErrNoActiveHold
		}
		return Hold{}, fmt.Errorf("escrow: active hold for update: %w", err)
	}
	return hold, nil
}

// LatestHoldForUpdate locks the most recent hold for a job regardless of
// status, so re-confirmations against an already-released hold stay
// idempotent.
func (r *Repository) LatestHoldForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (Hold, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM escrow_holds
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, holdColumns)
	hold, err := scanHold(tx.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Hold{}, ErrHoldNotFound
		}
		return Hold{}, fmt.Errorf("escrow: latest hold for update: %w", err)
	}
	return hold, nil
}

// ConfirmComplete records one party's completion confirmation. Re-confirming
// is a no-op. When both parties have confirmed and the hold is captured, the
// hold releases in the same transaction and the gateway release command goes
// onto the outbox.
func (r *Repository) ConfirmComplete(ctx context.Context, tx pgx.Tx, holdID string, party Party) (ConfirmResult, error) {
	hold, err := r.GetForUpdate(ctx, tx, holdID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if hold.Status == StatusRefunded {
		return ConfirmResult{}, ErrInvalidTransition
	}

	var column string
	var confirmed *time.Time
	switch party {
	case PartyHomeowner:
		column, confirmed = "homeowner_confirmed_at", hold.HomeownerConfirmedAt
	case PartyContractor:
		column, confirmed = "contractor_confirmed_at", hold.ContractorConfirmedAt
	default:
		return ConfirmResult{}, fmt.Errorf("escrow: unknown party %q", party)
	}

	if confirmed != nil {
		return ConfirmResult{
			AlreadyConfirmed: true,
			BothConfirmed:    hold.HomeownerConfirmedAt != nil && hold.ContractorConfirmedAt != nil,
			Released:         hold.Status == StatusReleased,
		}, nil
	}

	var homeownerAt, contractorAt *time.Time
	query := fmt.Sprintf(`
		UPDATE escrow_holds
		SET %s = get_tx_timestamp()
		WHERE id = $1
		RETURNING homeowner_confirmed_at, contractor_confirmed_at
	`, column)
	if err := tx.QueryRow(ctx, query, holdID).Scan(&homeownerAt, &contractorAt); err != nil {
		return ConfirmResult{}, fmt.Errorf("escrow: set %s: %w", column, err)
	}

	both := homeownerAt != nil && contractorAt != nil
	if !both || hold.Status != StatusCaptured {
		return ConfirmResult{BothConfirmed: both}, nil
	}

	if err := r.release(ctx, tx, hold); err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{BothConfirmed: true, Released: true}, nil
}

// release transitions a captured, dually-confirmed hold to released.
func (r *Repository) release(ctx context.Context, tx pgx.Tx, hold Hold) error {
	if _, err := tx.Exec(ctx, `
		UPDATE escrow_holds
		SET status = 'released', released_at = get_tx_timestamp()
		WHERE id = $1
	`, hold.ID); err != nil {
		return fmt.Errorf("escrow: mark released: %w", err)
	}

	if r.outbox == nil {
		return nil
	}
	if err := r.outbox.Enqueue(ctx, tx, event.TopicGatewayRelease, map[string]any{
		"hold_id":      hold.ID,
		"gateway_ref":  hold.GatewayRef,
		"payout_cents": hold.ContractorPayoutCents,
	}); err != nil {
		return err
	}
	return r.outbox.Enqueue(ctx, tx, event.TopicEscrowReleased, map[string]any{
		"hold_id":      hold.ID,
		"job_id":       hold.JobID,
		"offer_id":     hold.OfferID,
		"payout_cents": hold.ContractorPayoutCents,
	})
}

// Refund marks a non-terminal hold refunded and enqueues the gateway refund
// command. Idempotent when already refunded; a released hold cannot be
// refunded from this subsystem.
func (r *Repository) Refund(ctx context.Context, tx pgx.Tx, holdID, reason string) error {
	hold, err := r.GetForUpdate(ctx, tx, holdID)
	if err != nil {
		return err
	}

	switch hold.Status {
	case StatusRefunded:
		return nil
	case StatusReleased:
		return ErrInvalidTransition
	}

	if _, err := tx.Exec(ctx, `
		UPDATE escrow_holds
		SET status = 'refunded', refund_reason = $2
		WHERE id = $1
	`, holdID, reason); err != nil {
		return fmt.Errorf("escrow: mark refunded: %w", err)
	}

	if r.outbox == nil {
		return nil
	}
	if err := r.outbox.Enqueue(ctx, tx, event.TopicGatewayRefund, map[string]any{
		"hold_id":     hold.ID,
		"gateway_ref": hold.GatewayRef,
	}); err != nil {
		return err
	}
	return r.outbox.Enqueue(ctx, tx, event.TopicEscrowRefunded, map[string]any{
		"hold_id": hold.ID,
		"job_id":  hold.JobID,
		"reason":  reason,
	})
}

// ApplyAuthorized moves pending_auth -> authorized and asks the payment
// worker to capture. Duplicate callbacks are no-ops.
func (r *Repository) ApplyAuthorized(ctx context.Context, tx pgx.Tx, holdID string) error {
	hold, err := r.GetForUpdate(ctx, tx, holdID)
	if err != nil {
		return err
	}

	switch hold.Status {
	case StatusAuthorized, StatusCaptured, StatusReleased:
		return nil
	case StatusPendingAuth:
		// continue
	default:
		return ErrInvalidTransition
	}

	if _, err := tx.Exec(ctx, `
		UPDATE escrow_holds SET status = 'authorized' WHERE id = $1
	`, holdID); err != nil {
		return fmt.Errorf("escrow: mark authorized: %w", err)
	}

	if r.outbox == nil {
		return nil
	}
	if err := r.outbox.Enqueue(ctx, tx, event.TopicGatewayCapture, map[string]any{
		"hold_id":     hold.ID,
		"gateway_ref": hold.GatewayRef,
	}); err != nil {
		return err
	}
	return r.outbox.Enqueue(ctx, tx, event.TopicEscrowAuthorized, map[string]any{
		"hold_id": hold.ID,
		"job_id":  hold.JobID,
	})
}

// ApplyCaptured moves authorized -> captured. Capture before authorization
// is out of order. If both parties confirmed while the hold was still
// authorized, the release fires here.
func (r *Repository) ApplyCaptured(ctx context.Context, tx pgx.Tx, holdID string) error {
	hold, err := r.GetForUpdate(ctx, tx, holdID)
	if err != nil {
		return err
	}

	switch hold.Status {
	case StatusCaptured, StatusReleased:
		return nil
	case StatusAuthorized:
		// continue
	default:
		return ErrInvalidTransition
	}

	if _, err := tx.Exec(ctx, `
		UPDATE escrow_holds SET status = 'captured' WHERE id = $1
	`, holdID); err != nil {
		return fmt.Errorf("escrow: mark captured: %w", err)
	}

	if r.outbox != nil {
		if err := r.outbox.Enqueue(ctx, tx, event.TopicEscrowCaptured, map[string]any{
			"hold_id": hold.ID,
			"job_id":  hold.JobID,
		}); err != nil {
			return err
		}
	}

	if hold.HomeownerConfirmedAt != nil && hold.ContractorConfirmedAt != nil {
		hold.Status = StatusCaptured
		return r.release(ctx, tx, hold)
	}
	return nil
}

// InsertIdempotencyKey reserves a gateway-callback key inside the active
// transaction. A duplicate key means the callback was already applied.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("escrow: empty idempotency key")
	}

	if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("escrow: insert idempotency key: %w", err)
	}
	return nil
}

func scanHold(row pgx.Row) (Hold, error) {
	var h Hold
	return h, row.Scan(
		&h.ID,
		&h.JobID,
		&h.OfferID,
		&h.AmountCents,
		&h.ContractorPayoutCents,
		&h.Status,
		&h.GatewayRef,
		&h.HomeownerConfirmedAt,
		&h.ContractorConfirmedAt,
		&h.ReleasedAt,
		&h.RefundReason,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
}
