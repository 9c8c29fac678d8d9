// Package eta supplies advisory arrival estimates for offers. Estimates come
// from an external geocoding/routing collaborator; they are hints only and
// must never block or fail an offer write.
package eta

import "context"

// Provider estimates how many minutes a contractor needs to reach a job.
type Provider interface {
	EstimateMinutes(ctx context.Context, jobID, contractorID string) (int, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, jobID, contractorID string) (int, error)

func (f ProviderFunc) EstimateMinutes(ctx context.Context, jobID, contractorID string) (int, error) {
	return f(ctx, jobID, contractorID)
}

// Static always returns the same estimate. Useful as a default when no
// routing provider is configured.
type Static struct {
	Minutes int
}

func (s Static) EstimateMinutes(context.Context, string, string) (int, error) {
	return s.Minutes, nil
}
