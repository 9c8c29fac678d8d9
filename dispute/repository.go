package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("dispute: not found")
	ErrForbidden = errors.New("dispute: forbidden")
	ErrBadStatus = errors.New("dispute: invalid status transition")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns the disputes visible to a job participant, newest first.
// Visibility means the user is the job's homeowner or its contractor.
func (r *Repository) List(ctx context.Context, userID string, jobID string) ([]Record, error) {
	query := `
		SELECT d.id::text, d.job_id::text, d.opened_by_user_id::text, d.status::text,
		       d.created_at, d.updated_at, d.resolved_at
		FROM disputes d
		JOIN jobs j ON j.id = d.job_id
		WHERE (j.homeowner_id = $1 OR j.contractor_id = $1)
	`
	args := []any{userID}
	if jobID != "" {
		query += " AND d.job_id = $2"
		args = append(args, jobID)
	}
	query += " ORDER BY d.created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.OpenedBy, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// Resolve closes a dispute on behalf of a job participant. Resolving an
// already-resolved dispute answers ErrBadStatus; a dispute on someone else's
// job answers ErrForbidden.
func (r *Repository) Resolve(ctx context.Context, userID, disputeID string) (Record, error) {
	const query = `
		UPDATE disputes d
		SET status = 'resolved', resolved_at = get_tx_timestamp()
		FROM jobs j
		WHERE d.id = $1
		  AND d.job_id = j.id
		  AND (j.homeowner_id = $2 OR j.contractor_id = $2)
		  AND d.status <> 'resolved'
		RETURNING d.id::text, d.job_id::text, d.opened_by_user_id::text, d.status::text,
		          d.created_at, d.updated_at, d.resolved_at
	`

	var rec Record
	err := r.pool.QueryRow(ctx, query, disputeID, userID).
		Scan(&rec.ID, &rec.JobID, &rec.OpenedBy, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	const check = `
		SELECT d.status::text
		FROM disputes d
		JOIN jobs j ON j.id = d.job_id
		WHERE d.id = $1 AND (j.homeowner_id = $2 OR j.contractor_id = $2)
	`
	var status Status
	if err := r.pool.QueryRow(ctx, check, disputeID, userID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrForbidden
		}
		return Record{}, fmt.Errorf("dispute: resolve fetch: %w", err)
	}
	if status == StatusResolved {
		return Record{}, ErrBadStatus
	}
	return Record{}, ErrForbidden
}
