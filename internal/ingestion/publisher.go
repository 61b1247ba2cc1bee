package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"PoolLedger/internal/manager"
)

// OutboundPublisher publishes accepted requests and confirmation
// outcomes to NATS for the settlement authority and downstream
// consumers. Requests go to pool.settlement.requests.<pool>, outcomes
// to pool.settlement.outcomes.<pool>.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan manager.Output
}

// outcomeWire is the outbound form of a confirmation outcome.
type outcomeWire struct {
	ID          uint64    `json:"id"`
	Pool        uint64    `json:"pool"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan manager.Output) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				log.Printf("WARN: outbound publish failed: %v", err)
				// Non-fatal: the authority can read the durable request log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out manager.Output) error {
	if out.Request != nil {
		subject := fmt.Sprintf("pool.settlement.requests.%d", out.Request.Pool)
		if _, err := op.js.Publish(ctx, subject, out.Request.Payload); err != nil {
			return fmt.Errorf("publish request %d: %w", out.Request.ID, err)
		}
	}
	if out.Outcome != nil {
		data, err := json.Marshal(outcomeWire{
			ID:          out.Outcome.ID,
			Pool:        out.Outcome.Pool,
			Status:      out.Outcome.Status,
			Reason:      out.Outcome.Reason,
			ConfirmedAt: out.Outcome.ConfirmedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal outcome %d: %w", out.Outcome.ID, err)
		}
		subject := fmt.Sprintf("pool.settlement.outcomes.%d", out.Outcome.Pool)
		if _, err := op.js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("publish outcome %d: %w", out.Outcome.ID, err)
		}
	}
	return nil
}
