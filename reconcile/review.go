package reconcile

import "context"

// ReviewService is the manual-inspection surface over quarantined events.
type ReviewService struct {
	repo *Repository
}

func NewReviewService(repo *Repository) *ReviewService {
	return &ReviewService{repo: repo}
}

func (s *ReviewService) List(ctx context.Context, limit int) ([]UnreconciledEvent, error) {
	return s.repo.ListUnreconciled(ctx, limit)
}

func (s *ReviewService) Resolve(ctx context.Context, id int64) (UnreconciledEvent, error) {
	return s.repo.ResolveUnreconciled(ctx, id)
}
