package dispute

import "context"

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, userID, jobID string) ([]Record, error) {
	return s.repo.List(ctx, userID, jobID)
}

func (s *Service) Resolve(ctx context.Context, userID, disputeID string) (Record, error) {
	return s.repo.Resolve(ctx, userID, disputeID)
}
