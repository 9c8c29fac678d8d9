package offer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("offer: not found")
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, o Offer) (Offer, error)
	GetByID(ctx context.Context, id string) (Offer, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Offer, error)
	UpdateState(ctx context.Context, tx pgx.Tx, id string, status Status, amountCents int64) (Offer, error)
	ListActive(ctx context.Context, jobID string) ([]Offer, error)
	ListForContractor(ctx context.Context, contractorID string) ([]Offer, error)
	LockJobStatus(ctx context.Context, tx pgx.Tx, jobID string) (string, error)
	MarkJobOffered(ctx context.Context, tx pgx.Tx, jobID string) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const offerColumns = `id::text, job_id::text, contractor_id::text, source::text,
	amount_cents, message, eta_minutes_hint, status::text, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, o Offer) (Offer, error) {
	query := fmt.Sprintf(`
		INSERT INTO offers (id, job_id, contractor_id, source, amount_cents, message, eta_minutes_hint, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4::offer_source, $5, $6, $7, $8::offer_status)
		RETURNING %s
	`, offerColumns)

	row := tx.QueryRow(ctx, query,
		o.ID,
		o.JobID,
		o.ContractorID,
		o.Source,
		o.AmountCents,
		o.Message,
		o.EtaMinutesHint,
		o.Status,
	)
	return scanOffer(row)
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers WHERE id = $1`, offerColumns)
	o, err := scanOffer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: get: %w", err)
	}
	return o, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM offers WHERE id = $1 FOR UPDATE`, offerColumns)
	o, err := scanOffer(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: get for update: %w", err)
	}
	return o, nil
}

// UpdateState sets the status and amount of an offer. Callers hold the row
// lock from GetForUpdate.
func (r *PGRepository) UpdateState(ctx context.Context, tx pgx.Tx, id string, status Status, amountCents int64) (Offer, error) {
	query := fmt.Sprintf(`
		UPDATE offers
		SET status = $2::offer_status, amount_cents = $3
		WHERE id = $1
		RETURNING %s
	`, offerColumns)

	o, err := scanOffer(tx.QueryRow(ctx, query, id, status, amountCents))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: update state: %w", err)
	}
	return o, nil
}

// ListActive returns offers still in play for a job (pending or counter-bid).
func (r *PGRepository) ListActive(ctx context.Context, jobID string) ([]Offer, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM offers
		WHERE job_id = $1 AND status IN ('pending', 'counter_bid')
		ORDER BY created_at
	`, offerColumns)

	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("offer: list active: %w", err)
	}
	defer rows.Close()

	out := make([]Offer, 0, 8)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan active: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate active: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ListForContractor(ctx context.Context, contractorID string) ([]Offer, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM offers
		WHERE contractor_id = $1
		ORDER BY created_at DESC
	`, offerColumns)

	rows, err := r.pool.Query(ctx, query, contractorID)
	if err != nil {
		return nil, fmt.Errorf("offer: list for contractor: %w", err)
	}
	defer rows.Close()

	out := make([]Offer, 0, 8)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan contractor offer: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate contractor offers: %w", err)
	}
	return out, nil
}

// LockJobStatus takes the per-job row lock that serializes offer writes
// against accepts on the same job, and returns the job's current status.
func (r *PGRepository) LockJobStatus(ctx context.Context, tx pgx.Tx, jobID string) (string, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status::text FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrJobNotFound
		}
		return "", fmt.Errorf("offer: lock job: %w", err)
	}
	return status, nil
}

// MarkJobOffered flips an open job to offered. Informational and
// non-exclusive; a no-op when the job already left open.
func (r *PGRepository) MarkJobOffered(ctx context.Context, tx pgx.Tx, jobID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'offered' WHERE id = $1 AND status = 'open'
	`, jobID); err != nil {
		return fmt.Errorf("offer: mark job offered: %w", err)
	}
	return nil
}

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	return o, row.Scan(
		&o.ID,
		&o.JobID,
		&o.ContractorID,
		&o.Source,
		&o.AmountCents,
		&o.Message,
		&o.EtaMinutesHint,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
}
