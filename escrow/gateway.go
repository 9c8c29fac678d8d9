package escrow

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Gateway is the payment provider port. Authorize is the only call made
// inside a database transaction (during the accept's hold-open handshake,
// under a bounded timeout); capture, release, and refund requests travel
// through the outbox and are issued by the payment worker out of band. The
// provider answers capture/authorization outcomes asynchronously via the
// webhook path (Service.OnAuthorized / Service.OnCaptured).
type Gateway interface {
	Authorize(ctx context.Context, amountCents int64, jobID string) (ref string, err error)
	Capture(ctx context.Context, ref string) error
	Release(ctx context.Context, ref string, payoutCents int64) error
	Refund(ctx context.Context, ref string) error
}

// SandboxGateway approves everything and mints sequential references.
// Default wiring for local runs and the stress suite.
type SandboxGateway struct {
	seq atomic.Int64
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{}
}

func (g *SandboxGateway) Authorize(_ context.Context, amountCents int64, jobID string) (string, error) {
	return fmt.Sprintf("sandbox-%s-%d", jobID, g.seq.Add(1)), nil
}

func (g *SandboxGateway) Capture(context.Context, string) error { return nil }

func (g *SandboxGateway) Release(context.Context, string, int64) error { return nil }

func (g *SandboxGateway) Refund(context.Context, string) error { return nil }
