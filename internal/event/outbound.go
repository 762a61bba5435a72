package event

import (
	"StableLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// Outbound is a domain event emitted by the engine while applying an action.
// Outbound events of a rejected action are discarded with the rest of its effects.
type Outbound interface {
	Kind() string
}

type CollateralDeposited struct {
	Account ledger.Address `json:"account"`
	Asset   ledger.AssetID `json:"asset"`
	Amount  *uint256.Int   `json:"amount"`
}

func (CollateralDeposited) Kind() string { return "collateral_deposited" }

type CollateralRedeemed struct {
	From   ledger.Address `json:"from"`
	To     ledger.Address `json:"to"`
	Asset  ledger.AssetID `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

func (CollateralRedeemed) Kind() string { return "collateral_redeemed" }

type StableMinted struct {
	Account ledger.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func (StableMinted) Kind() string { return "stable_minted" }

type StableBurned struct {
	OnBehalfOf ledger.Address `json:"on_behalf_of"`
	From       ledger.Address `json:"from"`
	Amount     *uint256.Int   `json:"amount"`
}

func (StableBurned) Kind() string { return "stable_burned" }

type Liquidated struct {
	Liquidator           ledger.Address `json:"liquidator"`
	Target               ledger.Address `json:"target"`
	Asset                ledger.AssetID `json:"asset"`
	DebtCovered          *uint256.Int   `json:"debt_covered"`
	CollateralSeized     *uint256.Int   `json:"collateral_seized"`
	Bonus                *uint256.Int   `json:"bonus"`
	StartingHealthFactor *uint256.Int   `json:"starting_health_factor"`
	EndingHealthFactor   *uint256.Int   `json:"ending_health_factor"`
}

func (Liquidated) Kind() string { return "liquidated" }
