package event

import (
	"time"

	"StableLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// FundingPartition orders wallet funding confirmations from the bridge
const FundingPartition = "funding"

// WalletFunded credits collateral tokens that arrived from outside the system
// to an account's wallet
type WalletFunded struct {
	FundingID uuid.UUID      `json:"funding_id"`
	Account   ledger.Address `json:"account"`
	Asset     ledger.AssetID `json:"asset"`
	Amount    *uint256.Int   `json:"amount"`
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
}

func (w *WalletFunded) IdempotencyKey() string {
	return w.FundingID.String()
}

func (w *WalletFunded) EventType() EventType {
	return EventTypeWalletFunded
}

func (w *WalletFunded) Partition() string {
	return FundingPartition
}

func (w *WalletFunded) SourceSequence() int64 {
	return w.Sequence
}

func (w *WalletFunded) EventTime() time.Time {
	return w.Timestamp
}
