package escrow

// FeeSchedule is the platform's cut, fixed at hold-open time. The payout is
// computed once when the hold opens and never recomputed, so later schedule
// changes cannot drift a hold that is already in flight.
type FeeSchedule struct {
	Bps          int64 // basis points of the hold amount
	MinimumCents int64
}

// DefaultFeeSchedule takes 10% with a $5 floor.
var DefaultFeeSchedule = FeeSchedule{Bps: 1000, MinimumCents: 500}

// FeeCents returns the platform fee for a hold amount. The fee never exceeds
// the amount itself.
func (f FeeSchedule) FeeCents(amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	fee := amountCents * f.Bps / 10000
	if fee < f.MinimumCents {
		fee = f.MinimumCents
	}
	if fee > amountCents {
		fee = amountCents
	}
	return fee
}

// PayoutCents returns the contractor's share after the platform fee.
func (f FeeSchedule) PayoutCents(amountCents int64) int64 {
	return amountCents - f.FeeCents(amountCents)
}
