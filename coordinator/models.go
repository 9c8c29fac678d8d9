// Package coordinator owns every transition that spans the job record, the
// offer ledger, and the escrow ledger. Each public operation is one atomic
// unit of work: a single transaction that either commits all of its writes
// (including the outbox rows) or none of them.
package coordinator

import "errors"

var (
	ErrJobNotFound   = errors.New("coordinator: job not found")
	ErrOfferNotFound = errors.New("coordinator: offer not found")
	// ErrOfferNoLongerAvailable is the race-loser answer: the offer (or its
	// job) moved to a state that cannot be accepted or declined anymore.
	ErrOfferNoLongerAvailable = errors.New("coordinator: offer no longer available")
	ErrUnauthorized           = errors.New("coordinator: actor not authorized for this job")
	ErrCannotCancelInProgress = errors.New("coordinator: job past the point of cancellation")
	ErrInvalidState           = errors.New("coordinator: job state does not allow this transition")
)

// AcceptParams identifies the offer a homeowner accepts. ActorID is always
// passed explicitly; the coordinator never trusts ambient identity.
type AcceptParams struct {
	JobID   string
	OfferID string
	ActorID string
}

// AcceptResult reports the committed outcome of an accept: the winning
// offer, the siblings declined alongside it, and the escrow hold opened for
// the agreed amount.
type AcceptResult struct {
	JobID            string
	OfferID          string
	ContractorID     string
	AmountCents      int64
	DeclinedOfferIDs []string
	HoldID           string
}

// CompletionResult reports one completion confirmation: whether this party
// had already confirmed, whether both sides have now confirmed, and whether
// the hold released (which also completes the job).
type CompletionResult struct {
	AlreadyConfirmed bool
	BothConfirmed    bool
	Released         bool
	JobCompleted     bool
}
