package ingestion

import (
	"context"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
)

// CommandService submits a single command synchronously and returns its
// receipt. It backs the HTTP command endpoint used for admin and tooling;
// NATS remains the high-throughput path.
type CommandService struct {
	core EventProcessor
}

func NewCommandService(c EventProcessor) *CommandService {
	return &CommandService{core: c}
}

// Submit decodes body as eventType and processes it.
func (s *CommandService) Submit(ctx context.Context, eventType string, body []byte) (event.Event, core.Receipt, error) {
	evt, err := ParseEvent(eventType, body)
	if err != nil {
		return nil, core.Receipt{}, err
	}
	receipt, err := s.core.ProcessEvent(ctx, evt)
	return evt, receipt, err
}
