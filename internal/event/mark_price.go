package event

import (
	"fmt"
	"time"

	"StableLedger/internal/oracle"
)

// PriceUpdate is a new round published by an oracle feed
type PriceUpdate struct {
	Feed      oracle.FeedID `json:"feed"`
	Answer    int64         `json:"answer"`     // Scaled by 10^8
	RoundID   int64         `json:"round_id"`   // Monotonic per feed
	UpdatedAt int64         `json:"updated_at"` // Epoch microseconds (versioned input)
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Feed, p.RoundID)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) Partition() string {
	return "price:" + string(p.Feed)
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.RoundID
}

func (p *PriceUpdate) EventTime() time.Time {
	return time.UnixMicro(p.UpdatedAt).UTC()
}
