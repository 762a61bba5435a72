package event

import (
	"StableLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// RedeemCollateral withdraws deposited collateral back to the account's wallet
type RedeemCollateral struct {
	ActionHeader
	Asset  ledger.AssetID `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

func (r *RedeemCollateral) EventType() EventType {
	return EventTypeRedeemCollateral
}

// RedeemCollateralForStable burns stable debt first, then redeems collateral
type RedeemCollateralForStable struct {
	ActionHeader
	Asset            ledger.AssetID `json:"asset"`
	CollateralAmount *uint256.Int   `json:"collateral_amount"`
	BurnAmount       *uint256.Int   `json:"burn_amount"`
}

func (r *RedeemCollateralForStable) EventType() EventType {
	return EventTypeRedeemCollateralForStable
}
