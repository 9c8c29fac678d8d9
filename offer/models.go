package offer

import "time"

// Source tags which stream an offer arrived on. Marketplace bids and
// targeted direct offers share one ledger so the exclusivity and
// sibling-decline rules apply uniformly; the tag is preserved for audit.
type Source string

const (
	SourceMarketplaceBid Source = "marketplace_bid"
	SourceDirectOffer    Source = "direct_offer"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusCounterBid Status = "counter_bid"
	StatusAccepted   Status = "accepted"
	StatusDeclined   Status = "declined"
	StatusWithdrawn  Status = "withdrawn"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusDeclined, StatusWithdrawn:
		return true
	default:
		return false
	}
}

// Offer mirrors the offers table. AmountCents is the contractor's current
// ask; for counter-bids it holds the countered amount.
type Offer struct {
	ID             string
	JobID          string
	ContractorID   string
	Source         Source
	AmountCents    int64
	Message        string
	EtaMinutesHint *int
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SubmitParams enumerates the fields required to submit a new offer.
type SubmitParams struct {
	JobID        string
	ContractorID string
	Source       Source
	AmountCents  int64
	Message      string
}

// CounterBidParams carries a contractor's counter on their own direct offer.
type CounterBidParams struct {
	OfferID        string
	ActorID        string
	NewAmountCents int64
}
