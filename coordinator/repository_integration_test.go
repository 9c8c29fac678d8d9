package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"homeflow/escrow"
	"homeflow/event"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestAcceptAndSettle_Integration connects to a real PostgreSQL via
// DATABASE_URL and drives the full accept -> capture -> dual-confirm ->
// release path, plus the rollback and cancellation branches.
func TestAcceptAndSettle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"jobs", "offers", "escrow_holds", "outbox", "idempotency"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("table %s missing; apply migrations/0001_init.sql first", table)
		}
	}

	outbox := event.NewOutbox()
	holds := escrow.NewRepository(escrow.NewSandboxGateway(), escrow.DefaultFeeSchedule, outbox)
	repo := NewRepository(holds, outbox)
	svc := NewService(pool, repo)
	escrowSvc := escrow.NewService(pool, holds)

	homeowner := seedUser(ctx, t, pool, "homeowner")
	b1 := seedUser(ctx, t, pool, "contractor")
	b2 := seedUser(ctx, t, pool, "contractor")
	b3 := seedUser(ctx, t, pool, "contractor")
	d1 := seedUser(ctx, t, pool, "contractor")

	jobID := seedJob(ctx, t, pool, homeowner)
	offerB1 := seedOffer(ctx, t, pool, jobID, b1, "marketplace_bid", 10000, "pending")
	offerB2 := seedOffer(ctx, t, pool, jobID, b2, "marketplace_bid", 12000, "pending")
	offerB3 := seedOffer(ctx, t, pool, jobID, b3, "marketplace_bid", 9000, "pending")
	offerD1 := seedOffer(ctx, t, pool, jobID, d1, "direct_offer", 15000, "pending")

	// The direct offer was countered down before the homeowner decided.
	if _, err := pool.Exec(ctx, `UPDATE offers SET amount_cents = 14000, status = 'counter_bid' WHERE id = $1`, offerD1); err != nil {
		t.Fatalf("counter direct offer: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'job_id' = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM idempotency WHERE key IN ($1, $2)`, "evt-auth-"+jobID, "evt-capture-"+jobID)
		pool.Exec(ctx2, `DELETE FROM disputes WHERE job_id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM escrow_holds WHERE job_id = $1`, jobID)
		pool.Exec(ctx2, `UPDATE jobs SET accepted_offer_id = NULL, status = 'cancelled' WHERE id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM offers WHERE job_id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM jobs WHERE id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2, $3, $4, $5)`, homeowner, b1, b2, b3, d1)
	})

	// A stranger may not accept.
	if _, err := svc.AcceptOffer(ctx, AcceptParams{JobID: jobID, OfferID: offerB2, ActorID: b1}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-homeowner accept, got %v", err)
	}

	result, err := svc.AcceptOffer(ctx, AcceptParams{JobID: jobID, OfferID: offerB2, ActorID: homeowner})
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if result.AmountCents != 12000 {
		t.Errorf("hold amount = %d, want 12000", result.AmountCents)
	}
	if len(result.DeclinedOfferIDs) != 3 {
		t.Errorf("declined %d siblings, want 3 (%v)", len(result.DeclinedOfferIDs), result.DeclinedOfferIDs)
	}

	assertOfferStatus(ctx, t, pool, offerB2, "accepted")
	for _, id := range []string{offerB1, offerB3, offerD1} {
		assertOfferStatus(ctx, t, pool, id, "declined")
	}
	assertJobStatus(ctx, t, pool, jobID, "confirmed")

	var payout int64
	if err := pool.QueryRow(ctx, `SELECT contractor_payout_cents FROM escrow_holds WHERE id = $1`, result.HoldID).Scan(&payout); err != nil {
		t.Fatalf("read hold payout: %v", err)
	}
	if payout != 10800 {
		t.Errorf("payout = %d, want 10800 (12000 minus 10%% fee)", payout)
	}

	// Losing a race for an already-settled job answers ErrOfferNoLongerAvailable.
	if _, err := svc.AcceptOffer(ctx, AcceptParams{JobID: jobID, OfferID: offerB1, ActorID: homeowner}); !errors.Is(err, ErrOfferNoLongerAvailable) {
		t.Fatalf("expected ErrOfferNoLongerAvailable on second accept, got %v", err)
	}

	// Gateway callbacks, replayed once each.
	for i := 0; i < 2; i++ {
		if err := escrowSvc.OnAuthorized(ctx, result.HoldID, "evt-auth-"+jobID); err != nil {
			t.Fatalf("on authorized (try %d): %v", i, err)
		}
	}
	if err := escrowSvc.OnCaptured(ctx, result.HoldID, "evt-capture-"+jobID); err != nil {
		t.Fatalf("on captured: %v", err)
	}

	if err := svc.StartWork(ctx, jobID, b2); err != nil {
		t.Fatalf("start work: %v", err)
	}
	assertJobStatus(ctx, t, pool, jobID, "in_progress")

	// Contractor confirms twice; the second is a no-op. Funds stay put.
	first, err := svc.ConfirmJobComplete(ctx, jobID, b2)
	if err != nil {
		t.Fatalf("contractor confirm: %v", err)
	}
	if first.BothConfirmed || first.Released {
		t.Errorf("single confirmation must not release: %+v", first)
	}
	second, err := svc.ConfirmJobComplete(ctx, jobID, b2)
	if err != nil {
		t.Fatalf("contractor re-confirm: %v", err)
	}
	if !second.AlreadyConfirmed || second.Released {
		t.Errorf("re-confirmation must be a no-op: %+v", second)
	}

	final, err := svc.ConfirmJobComplete(ctx, jobID, homeowner)
	if err != nil {
		t.Fatalf("homeowner confirm: %v", err)
	}
	if !final.BothConfirmed || !final.Released || !final.JobCompleted {
		t.Errorf("second party's confirmation must release and complete: %+v", final)
	}
	assertJobStatus(ctx, t, pool, jobID, "completed")
	assertHoldStatus(ctx, t, pool, result.HoldID, "released")

	var releaseEvents int
	if err := pool.QueryRow(ctx, `
		SELECT count(*) FROM outbox WHERE topic = $1 AND payload->>'job_id' = $2
	`, event.TopicEscrowReleased, jobID).Scan(&releaseEvents); err != nil {
		t.Fatalf("count release events: %v", err)
	}
	if releaseEvents != 1 {
		t.Errorf("escrow.released events = %d, want exactly 1", releaseEvents)
	}
}

// TestAcceptRollback_Integration verifies a failing gateway authorization
// leaves no trace: the offer stays pending and the job stays open.
func TestAcceptRollback_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "escrow_holds") {
		t.Skip("schema missing; apply migrations/0001_init.sql first")
	}

	outbox := event.NewOutbox()
	holds := escrow.NewRepository(failingGateway{}, escrow.DefaultFeeSchedule, outbox)
	svc := NewService(pool, NewRepository(holds, outbox))

	homeowner := seedUser(ctx, t, pool, "homeowner")
	contractor := seedUser(ctx, t, pool, "contractor")
	jobID := seedJob(ctx, t, pool, homeowner)
	offerID := seedOffer(ctx, t, pool, jobID, contractor, "marketplace_bid", 8000, "pending")

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'job_id' = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM offers WHERE job_id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM jobs WHERE id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2)`, homeowner, contractor)
	})

	_, err = svc.AcceptOffer(ctx, AcceptParams{JobID: jobID, OfferID: offerID, ActorID: homeowner})
	if !errors.Is(err, escrow.ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure, got %v", err)
	}

	assertOfferStatus(ctx, t, pool, offerID, "pending")
	assertJobStatus(ctx, t, pool, jobID, "open")

	var holdCount int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM escrow_holds WHERE job_id = $1`, jobID).Scan(&holdCount); err != nil {
		t.Fatalf("count holds: %v", err)
	}
	if holdCount != 0 {
		t.Errorf("holds = %d after rolled-back accept, want 0", holdCount)
	}

	// The failed accept must not block cancellation.
	if err := svc.CancelJob(ctx, jobID, homeowner, "went with a neighbor"); err != nil {
		t.Fatalf("cancel job: %v", err)
	}
	assertJobStatus(ctx, t, pool, jobID, "cancelled")
	assertOfferStatus(ctx, t, pool, offerID, "declined")
}

type failingGateway struct{}

func (failingGateway) Authorize(context.Context, int64, string) (string, error) {
	return "", errors.New("card declined")
}
func (failingGateway) Capture(context.Context, string) error        { return nil }
func (failingGateway) Release(context.Context, string, int64) error { return nil }
func (failingGateway) Refund(context.Context, string) error         { return nil }

func seedUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, role string) string {
	t.Helper()
	var id string
	email := fmt.Sprintf("itest-%s-%d@example.com", role, time.Now().UnixNano())
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, role) VALUES ($1, $2, $3::user_role)
		RETURNING id::text
	`, email, "Integration Test "+role, role).Scan(&id)
	if err != nil {
		t.Fatalf("seed %s: %v", role, err)
	}
	return id
}

func seedJob(ctx context.Context, t *testing.T, pool *pgxpool.Pool, homeownerID string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO jobs (homeowner_id, category, priority) VALUES ($1, 'plumbing', 'urgent')
		RETURNING id::text
	`, homeownerID).Scan(&id)
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return id
}

func seedOffer(ctx context.Context, t *testing.T, pool *pgxpool.Pool, jobID, contractorID, source string, amountCents int64, status string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO offers (job_id, contractor_id, source, amount_cents, status)
		VALUES ($1, $2, $3::offer_source, $4, $5::offer_status)
		RETURNING id::text
	`, jobID, contractorID, source, amountCents, status).Scan(&id)
	if err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return id
}

func assertOfferStatus(ctx context.Context, t *testing.T, pool *pgxpool.Pool, offerID, want string) {
	t.Helper()
	var got string
	if err := pool.QueryRow(ctx, `SELECT status::text FROM offers WHERE id = $1`, offerID).Scan(&got); err != nil {
		t.Fatalf("read offer %s: %v", offerID, err)
	}
	if got != want {
		t.Errorf("offer %s status = %s, want %s", offerID, got, want)
	}
}

func assertJobStatus(ctx context.Context, t *testing.T, pool *pgxpool.Pool, jobID, want string) {
	t.Helper()
	var got string
	if err := pool.QueryRow(ctx, `SELECT status::text FROM jobs WHERE id = $1`, jobID).Scan(&got); err != nil {
		t.Fatalf("read job: %v", err)
	}
	if got != want {
		t.Errorf("job status = %s, want %s", got, want)
	}
}

func assertHoldStatus(ctx context.Context, t *testing.T, pool *pgxpool.Pool, holdID, want string) {
	t.Helper()
	var got string
	if err := pool.QueryRow(ctx, `SELECT status::text FROM escrow_holds WHERE id = $1`, holdID).Scan(&got); err != nil {
		t.Fatalf("read hold: %v", err)
	}
	if got != want {
		t.Errorf("hold status = %s, want %s", got, want)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
