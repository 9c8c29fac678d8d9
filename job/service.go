package job

import (
	"context"
	"fmt"
	"time"

	"homeflow/event"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service creates jobs and serves read paths. Every later transition on a
// job (accept, start, complete, cancel, dispute) is owned by the offer
// coordinator, which is the only writer allowed to touch more than one
// entity in a single unit of work.
type Service struct {
	pool   *pgxpool.Pool
	repo   Repository
	outbox event.Writer
	idGen  func() string
	now    func() time.Time
}

type CreateParams struct {
	HomeownerID string
	Category    string
	Priority    Priority
}

type ListResult struct {
	Items []Job
	Total int
}

func NewService(pool *pgxpool.Pool, repo Repository, outbox event.Writer) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		outbox: outbox,
		idGen:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Job, error) {
	if params.HomeownerID == "" {
		return Job{}, fmt.Errorf("job: missing homeowner id")
	}
	if params.Category == "" {
		return Job{}, fmt.Errorf("job: category required")
	}
	priority := params.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	switch priority {
	case PriorityLow, PriorityNormal, PriorityUrgent:
	default:
		return Job{}, fmt.Errorf("job: invalid priority %q", priority)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Job{
		ID:          s.idGen(),
		HomeownerID: params.HomeownerID,
		Category:    params.Category,
		Priority:    priority,
		Status:      StatusOpen,
	})
	if err != nil {
		return Job{}, fmt.Errorf("job: create: %w", err)
	}

	if s.outbox != nil {
		payload := map[string]any{
			"job_id":   created.ID,
			"category": created.Category,
			"priority": created.Priority,
		}
		if err := s.outbox.Enqueue(ctx, tx, event.TopicJobCreated, payload); err != nil {
			return Job{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit: %w", err)
	}

	return created, nil
}

func (s *Service) Get(ctx context.Context, jobID string) (Job, error) {
	return s.repo.Get(ctx, jobID)
}

func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}
