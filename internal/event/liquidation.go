package event

import (
	"StableLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// Liquidate repays DebtToCover of Target's debt from the acting account (the
// liquidator) in exchange for Target's collateral plus a bonus
type Liquidate struct {
	ActionHeader
	Asset       ledger.AssetID `json:"asset"`
	Target      ledger.Address `json:"target"`
	DebtToCover *uint256.Int   `json:"debt_to_cover"`
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}
