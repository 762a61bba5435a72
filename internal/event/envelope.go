package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeWalletFunded
	EventTypePriceUpdate
	EventTypeDepositCollateral
	EventTypeDepositCollateralAndMint
	EventTypeRedeemCollateral
	EventTypeRedeemCollateralForStable
	EventTypeMintStable
	EventTypeBurnStable
	EventTypeLiquidate
)

// Outcome of applying an event
type Outcome int32

const (
	OutcomeApplied Outcome = iota
	OutcomeRejected
)

func (o Outcome) String() string {
	if o == OutcomeRejected {
		return "rejected"
	}
	return "applied"
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Ordering partition ("account:<addr>", "price:<feed>", "funding")
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence (account nonce, price round, funding sequence)
	SourceSequence int64

	// JSON-encoded event, replayable through ingestion.ParseEvent
	Payload []byte

	// Applied, or rejected with ErrorCode
	Outcome   Outcome
	ErrorCode string

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Partition returns the ordering partition
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// EventTime returns the versioned input timestamp
	EventTime() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeWalletFunded:
		return "WalletFunded"
	case EventTypePriceUpdate:
		return "PriceUpdate"
	case EventTypeDepositCollateral:
		return "DepositCollateral"
	case EventTypeDepositCollateralAndMint:
		return "DepositCollateralAndMint"
	case EventTypeRedeemCollateral:
		return "RedeemCollateral"
	case EventTypeRedeemCollateralForStable:
		return "RedeemCollateralForStable"
	case EventTypeMintStable:
		return "MintStable"
	case EventTypeBurnStable:
		return "BurnStable"
	case EventTypeLiquidate:
		return "Liquidate"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String
func ParseEventType(s string) EventType {
	for et := EventTypeWalletFunded; et <= EventTypeLiquidate; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
