package event

import "github.com/holiman/uint256"

// MintStable mints Amount of the stable unit against deposited collateral
type MintStable struct {
	ActionHeader
	Amount *uint256.Int `json:"amount"`
}

func (m *MintStable) EventType() EventType {
	return EventTypeMintStable
}

// BurnStable repays Amount of the account's own debt
type BurnStable struct {
	ActionHeader
	Amount *uint256.Int `json:"amount"`
}

func (b *BurnStable) EventType() EventType {
	return EventTypeBurnStable
}
