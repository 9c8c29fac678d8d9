package job

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("job: not found")
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, j Job) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error)
	List(ctx context.Context, filters Filters) ([]Job, int, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const jobColumns = `id::text, homeowner_id::text, category, priority, status::text,
	accepted_offer_id::text, contractor_id::text, cancel_reason, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, j Job) (Job, error) {
	query := fmt.Sprintf(`
		INSERT INTO jobs (id, homeowner_id, category, priority, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5)
		RETURNING %s
	`, jobColumns)

	row := tx.QueryRow(ctx, query, j.ID, j.HomeownerID, j.Category, j.Priority, j.Status)
	return scanJob(row)
}

func (r *PGRepository) Get(ctx context.Context, id string) (Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	j, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: get: %w", err)
	}
	return j, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1 FOR UPDATE`, jobColumns)
	j, err := scanJob(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: get for update: %w", err)
	}
	return j, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Job, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.HomeownerID != "" {
		where = append(where, fmt.Sprintf("homeowner_id=$%d", len(args)+1))
		args = append(args, filters.HomeownerID)
	}
	if filters.ContractorID != "" {
		where = append(where, fmt.Sprintf("contractor_id=$%d", len(args)+1))
		args = append(args, filters.ContractorID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d::job_status", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Category != "" {
		where = append(where, fmt.Sprintf("category=$%d", len(args)+1))
		args = append(args, filters.Category)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM jobs%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		jobColumns, whereClause, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("job: list: %w", err)
	}
	defer rows.Close()

	list := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("job: scan list: %w", err)
		}
		list = append(list, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("job: iterate list: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM jobs" + whereClause
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("job: count list: %w", err)
	}

	return list, total, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	return j, row.Scan(
		&j.ID,
		&j.HomeownerID,
		&j.Category,
		&j.Priority,
		&j.Status,
		&j.AcceptedOfferID,
		&j.ContractorID,
		&j.CancelReason,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
}
