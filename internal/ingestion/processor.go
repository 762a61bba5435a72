package ingestion

import (
	"context"
	"errors"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"

	"github.com/rs/zerolog"
)

// EventProcessor is the slice of the core the ingestion loop drives.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, evt event.Event) (core.Receipt, error)
}

// Processor decodes raw messages and feeds them to the core one at a time.
// Acknowledgement follows the outcome:
//   - applied, rejected, duplicate, stale round: ack
//   - sequence gap: nak, the missing command may still arrive
//   - undecodable or unsupported: term
type Processor struct {
	core    EventProcessor
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewProcessor(c EventProcessor, metrics *observability.Metrics) *Processor {
	return &Processor{
		core:    c,
		metrics: metrics,
		log:     observability.NewLogger("ingestion"),
	}
}

// Run consumes until ctx is cancelled or in is closed.
func (p *Processor) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			p.Handle(ctx, raw)
		}
	}
}

// Handle processes one raw message and settles it.
func (p *Processor) Handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw, raw.EventType)
	if err != nil {
		p.log.Warn().Err(err).
			Str("subject", raw.Subject).
			Str("event_type", raw.EventType).
			Msg("dropping undecodable message")
		settle(raw.TermFunc)
		return
	}

	receipt, err := p.core.ProcessEvent(ctx, evt)
	if err != nil {
		logEvt := p.log.Warn().Err(err).
			Str("event_type", raw.EventType).
			Str("idempotency_key", evt.IdempotencyKey()).
			Str("partition", evt.Partition()).
			Int64("source_sequence", evt.SourceSequence())
		switch {
		case errors.Is(err, core.ErrSequenceGap):
			logEvt.Msg("sequence gap, requesting redelivery")
			settle(raw.NakFunc)
		case errors.Is(err, core.ErrOutOfOrder):
			logEvt.Msg("replayed sequence, discarding")
			settle(raw.AckFunc)
		case errors.Is(err, core.ErrUnknownEvent):
			logEvt.Msg("unsupported event")
			settle(raw.TermFunc)
		default:
			logEvt.Msg("processing failed")
			settle(raw.NakFunc)
		}
		return
	}

	switch {
	case receipt.Duplicate:
		p.log.Debug().
			Str("event_type", raw.EventType).
			Str("idempotency_key", evt.IdempotencyKey()).
			Msg("duplicate")
	case receipt.Ignored:
		p.log.Debug().
			Str("event_type", raw.EventType).
			Str("partition", evt.Partition()).
			Msg("stale price round ignored")
	case receipt.Outcome == event.OutcomeRejected:
		p.log.Info().
			Int64("sequence", receipt.Sequence).
			Str("event_type", raw.EventType).
			Str("idempotency_key", evt.IdempotencyKey()).
			Str("error_code", receipt.ErrorCode).
			AnErr("reason", receipt.Err).
			Msg("action rejected")
	}

	if p.metrics != nil && !raw.Timestamp.IsZero() {
		p.metrics.IngestToApply.WithLabelValues(raw.EventType).
			Observe(time.Since(raw.Timestamp).Seconds())
	}
	settle(raw.AckFunc)
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
