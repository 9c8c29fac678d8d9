package escrow

import (
	"context"
	"encoding/json"
	"fmt"

	"homeflow/event"
)

// CommandSink executes the payment-gateway commands the ledger enqueued on
// the outbox (capture, release, refund), outside any database transaction.
// Topics it does not own are passed to next, so it composes with a fan-out
// sink for the domain events.
type CommandSink struct {
	gateway Gateway
	next    event.Sink
}

func NewCommandSink(gateway Gateway, next event.Sink) *CommandSink {
	if next == nil {
		next = event.LogSink{}
	}
	return &CommandSink{gateway: gateway, next: next}
}

type gatewayCommand struct {
	HoldID      string `json:"hold_id"`
	GatewayRef  string `json:"gateway_ref"`
	PayoutCents int64  `json:"payout_cents"`
}

func (s *CommandSink) Deliver(ctx context.Context, msg event.Message) error {
	switch msg.Topic {
	case event.TopicGatewayCapture, event.TopicGatewayRelease, event.TopicGatewayRefund:
		// handled below
	default:
		return s.next.Deliver(ctx, msg)
	}

	var cmd gatewayCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		return fmt.Errorf("escrow: decode gateway command %s: %w", msg.ID, err)
	}
	if cmd.GatewayRef == "" {
		return fmt.Errorf("escrow: gateway command %s missing ref", msg.ID)
	}

	switch msg.Topic {
	case event.TopicGatewayCapture:
		return s.gateway.Capture(ctx, cmd.GatewayRef)
	case event.TopicGatewayRelease:
		return s.gateway.Release(ctx, cmd.GatewayRef, cmd.PayoutCents)
	default:
		return s.gateway.Refund(ctx, cmd.GatewayRef)
	}
}
