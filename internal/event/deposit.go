package event

import (
	"StableLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// DepositCollateral locks Amount of Asset from the account's wallet
type DepositCollateral struct {
	ActionHeader
	Asset  ledger.AssetID `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

func (d *DepositCollateral) EventType() EventType {
	return EventTypeDepositCollateral
}

// DepositCollateralAndMint deposits and mints in one atomic action
type DepositCollateralAndMint struct {
	ActionHeader
	Asset            ledger.AssetID `json:"asset"`
	CollateralAmount *uint256.Int   `json:"collateral_amount"`
	MintAmount       *uint256.Int   `json:"mint_amount"`
}

func (d *DepositCollateralAndMint) EventType() EventType {
	return EventTypeDepositCollateralAndMint
}
