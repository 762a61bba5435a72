package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundSubjectPrefix roots every published domain event: stable.out.{kind}
const OutboundSubjectPrefix = "stable.out"

// JetStreamPublisher is the part of jetstream.JetStream the publisher uses.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes domain events to NATS for downstream consumers.
// It is fed by the persistence worker after a batch commits, so nothing is
// published that is not already durable.
type OutboundPublisher struct {
	js        JetStreamPublisher
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// PublishableEvent is the wire form of one outbound domain event.
type PublishableEvent struct {
	Sequence       int64          `json:"sequence"`
	Index          int            `json:"index"`
	Kind           string         `json:"kind"`
	EventType      string         `json:"event_type"`
	IdempotencyKey string         `json:"idempotency_key"`
	Payload        event.Outbound `json:"payload"`
	StateHash      string         `json:"state_hash"`
	Timestamp      time.Time      `json:"timestamp"`
}

func NewOutboundPublisher(js JetStreamPublisher, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		log:       observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, evt := range Publishable(output) {
				if err := op.publish(ctx, evt); err != nil {
					// Non-fatal: downstream consumers can read the event log directly
					op.log.Warn().Err(err).
						Int64("sequence", evt.Sequence).
						Str("kind", evt.Kind).
						Msg("outbound publish failed")
				}
			}
		}
	}
}

// Publishable flattens one core output into its outbound events.
func Publishable(output core.CoreOutput) []PublishableEvent {
	if output.Envelope == nil || len(output.Events) == 0 {
		return nil
	}
	env := output.Envelope
	out := make([]PublishableEvent, 0, len(output.Events))
	for i, evt := range output.Events {
		out = append(out, PublishableEvent{
			Sequence:       env.Sequence,
			Index:          i,
			Kind:           evt.Kind(),
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Payload:        evt,
			StateHash:      hex.EncodeToString(env.StateHash[:]),
			Timestamp:      env.Timestamp,
		})
	}
	return out
}

func OutboundSubject(kind string) string {
	return OutboundSubjectPrefix + "." + kind
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The message ID lets JetStream drop republished events after a restart
	msgID := fmt.Sprintf("%d-%d", evt.Sequence, evt.Index)
	if _, err := op.js.Publish(ctx, OutboundSubject(evt.Kind), data, jetstream.WithMsgID(msgID)); err != nil {
		return err
	}
	if op.metrics != nil {
		op.metrics.OutboundPublished.WithLabelValues(evt.Kind).Inc()
	}
	return nil
}
