// Package event implements the transactional outbox used for post-commit
// fan-out. Domain packages enqueue rows inside their own transaction; the
// Dispatcher delivers committed rows to a sink at-least-once. Consumers must
// tolerate duplicates and out-of-order delivery.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Topics published by the coordinator and the ledgers.
const (
	TopicOfferSubmitted  = "offer.submitted"
	TopicOfferCounterBid = "offer.counter_bid"
	TopicOfferWithdrawn  = "offer.withdrawn"
	TopicOfferAccepted   = "offer.accepted"
	TopicOfferDeclined   = "offer.declined"
	TopicOffersDeclined  = "offers.declined"

	TopicJobCreated   = "job.created"
	TopicJobStarted   = "job.started"
	TopicJobCompleted = "job.completed"
	TopicJobCancelled = "job.cancelled"
	TopicJobDisputed  = "job.disputed"

	TopicEscrowAuthorized = "escrow.authorized"
	TopicEscrowCaptured   = "escrow.captured"
	TopicEscrowReleased   = "escrow.released"
	TopicEscrowRefunded   = "escrow.refunded"

	// Gateway command topics: the payment worker consumes these and calls
	// the payment provider outside any database transaction.
	TopicGatewayCapture = "gateway.capture"
	TopicGatewayRelease = "gateway.release"
	TopicGatewayRefund  = "gateway.refund"
)

// Writer is the enqueue contract domain services depend on.
type Writer interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Outbox writes messages into the outbox table inside the caller's
// transaction, so an event becomes durable exactly when its transition
// commits.
type Outbox struct{}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("event: empty outbox topic")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("event: enqueue outbox: %w", err)
	}
	return nil
}
