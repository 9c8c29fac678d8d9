package escrow

import "time"

type Status string

const (
	StatusPendingAuth Status = "pending_auth"
	StatusAuthorized  Status = "authorized"
	StatusCaptured    Status = "captured"
	StatusReleased    Status = "released"
	StatusRefunded    Status = "refunded"
)

// Terminal reports whether the hold can no longer move money.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Party identifies which side of the job is confirming completion.
type Party string

const (
	PartyHomeowner  Party = "homeowner"
	PartyContractor Party = "contractor"
)

// Hold mirrors the escrow_holds table: one fund-hold per job from
// authorization through capture, dual confirmation, and release or refund.
type Hold struct {
	ID                    string
	JobID                 string
	OfferID               string
	AmountCents           int64
	ContractorPayoutCents int64
	Status                Status
	GatewayRef            string
	HomeownerConfirmedAt  *time.Time
	ContractorConfirmedAt *time.Time
	ReleasedAt            *time.Time
	RefundReason          *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// OpenParams enumerates the fields needed to open a hold for an accepted
// offer.
type OpenParams struct {
	JobID       string
	OfferID     string
	AmountCents int64
}

// ConfirmResult reports the outcome of one party's completion confirmation.
type ConfirmResult struct {
	AlreadyConfirmed bool
	BothConfirmed    bool
	Released         bool
}
