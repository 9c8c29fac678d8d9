// Package actors holds the concurrent workers the stress suite races against
// each other: contractors bidding, homeowners accepting and cancelling,
// both sides confirming completion, plus the gateway-callback and outbox
// consumers that settle the escrow side.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"homeflow/coordinator"
	"homeflow/escrow"
	"homeflow/offer"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// isTransient reports errors the chaos actor provokes on purpose: terminated
// backends, serialization failures, dropped connections.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57P01", "40001", "40P01", "08006":
			return true
		}
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "broken pipe")
}

// Bidder keeps submitting marketplace bids for the job until it closes.
func Bidder(ctx context.Context, svc *offer.Service, jobID, contractorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Submit(ctx, offer.SubmitParams{
			JobID:        jobID,
			ContractorID: contractorID,
			Source:       offer.SourceMarketplaceBid,
			AmountCents:  int64(5000 + rand.Intn(20000)),
			Message:      "can start this week",
		})
		if err != nil && !expectedOfferErr(err) {
			return fmt.Errorf("bidder submit: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

func expectedOfferErr(err error) bool {
	return errors.Is(err, offer.ErrJobNotOpen) ||
		errors.Is(err, offer.ErrJobNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isTransient(err)
}

// Accepter races to accept whatever pending offer it sees first. Exactly one
// accept may win; every later attempt must come back as the race-loser error.
func Accepter(ctx context.Context, pool *pgxpool.Pool, svc *coordinator.Service, jobID, homeownerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var offerID string
		err := pool.QueryRow(ctx, `
			SELECT id::text FROM offers
			WHERE job_id = $1 AND status IN ('pending', 'counter_bid')
			ORDER BY random() LIMIT 1
		`, jobID).Scan(&offerID)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) && !isTransient(err) && ctx.Err() == nil {
				return fmt.Errorf("accepter pick offer: %w", err)
			}
			time.Sleep(20 * time.Millisecond)
			continue
		}

		_, err = svc.AcceptOffer(ctx, coordinator.AcceptParams{
			JobID:   jobID,
			OfferID: offerID,
			ActorID: homeownerID,
		})
		if err != nil && !expectedCoordinatorErr(err) {
			return fmt.Errorf("accepter accept: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(50)) * time.Millisecond)
	}
}

func expectedCoordinatorErr(err error) bool {
	return errors.Is(err, coordinator.ErrOfferNoLongerAvailable) ||
		errors.Is(err, coordinator.ErrOfferNotFound) ||
		errors.Is(err, coordinator.ErrInvalidState) ||
		errors.Is(err, coordinator.ErrCannotCancelInProgress) ||
		errors.Is(err, escrow.ErrHoldAlreadyActive) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isTransient(err)
}

// GatewayCallbacks plays the payment provider: it advances pending_auth
// holds to authorized and authorized holds to captured, replaying every
// callback a second time to exercise the idempotency guard.
func GatewayCallbacks(ctx context.Context, pool *pgxpool.Pool, svc *escrow.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		rows, err := pool.Query(ctx, `
			SELECT id::text, status::text FROM escrow_holds
			WHERE status IN ('pending_auth', 'authorized')
			LIMIT 10
		`)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		type holdRow struct{ id, status string }
		holds := make([]holdRow, 0, 10)
		for rows.Next() {
			var h holdRow
			_ = rows.Scan(&h.id, &h.status)
			holds = append(holds, h)
		}
		rows.Close()

		for _, h := range holds {
			var deliver func(context.Context, string, string) error
			var key string
			if h.status == "pending_auth" {
				deliver, key = svc.OnAuthorized, "evt-auth-"+h.id
			} else {
				deliver, key = svc.OnCaptured, "evt-capture-"+h.id
			}
			// twice on purpose: the second is a replay
			for i := 0; i < 2; i++ {
				if err := deliver(ctx, h.id, key); err != nil && !expectedEscrowErr(err) {
					return fmt.Errorf("gateway callback %s: %w", key, err)
				}
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(40)) * time.Millisecond)
	}
}

func expectedEscrowErr(err error) bool {
	return errors.Is(err, escrow.ErrInvalidTransition) ||
		errors.Is(err, escrow.ErrHoldNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isTransient(err)
}

// Confirmer repeatedly confirms completion as one side of the job. Most
// attempts are no-ops; the interesting property is that the hold releases
// exactly once no matter how often both sides hammer this.
func Confirmer(ctx context.Context, svc *coordinator.Service, jobID, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.ConfirmJobComplete(ctx, jobID, actorID)
		if err != nil && !expectedConfirmErr(err) {
			return fmt.Errorf("confirmer: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

func expectedConfirmErr(err error) bool {
	return errors.Is(err, coordinator.ErrInvalidState) ||
		errors.Is(err, coordinator.ErrUnauthorized) ||
		errors.Is(err, escrow.ErrInvalidTransition) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isTransient(err)
}

// Starter moves the job to in_progress once it wins the accept.
func Starter(ctx context.Context, pool *pgxpool.Pool, svc *coordinator.Service, jobID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var contractorID *string
		err := pool.QueryRow(ctx, `SELECT contractor_id::text FROM jobs WHERE id = $1`, jobID).Scan(&contractorID)
		if err == nil && contractorID != nil {
			if err := svc.StartWork(ctx, jobID, *contractorID); err != nil && !expectedConfirmErr(err) {
				return fmt.Errorf("starter: %w", err)
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(50)) * time.Millisecond)
	}
}

// Canceller occasionally tries to cancel the job. Legal only before the
// accept wins; afterwards every attempt must fail cleanly.
func Canceller(ctx context.Context, svc *coordinator.Service, jobID, homeownerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(4) == 0 {
			err := svc.CancelJob(ctx, jobID, homeownerID, "stress cancel")
			if err != nil && !expectedCoordinatorErr(err) && !errors.Is(err, coordinator.ErrJobNotFound) {
				return fmt.Errorf("canceller: %w", err)
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, simulating occasional delivery failures.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			// simulate random failure
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
