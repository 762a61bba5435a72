package state

import (
	"StableLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// Position is one account's collateral deposits and outstanding debt. Accounts
// appear on first deposit and are never removed; zero balances persist.
type Position struct {
	Account    ledger.Address
	Collateral map[ledger.AssetID]*uint256.Int
	DebtMinted *uint256.Int
}

func newPosition(account ledger.Address) *Position {
	return &Position{
		Account:    account,
		Collateral: make(map[ledger.AssetID]*uint256.Int),
		DebtMinted: new(uint256.Int),
	}
}

// Clone returns a deep copy
func (p *Position) Clone() *Position {
	out := newPosition(p.Account)
	for asset, amount := range p.Collateral {
		out.Collateral[asset] = amount.Clone()
	}
	out.DebtMinted = p.DebtMinted.Clone()
	return out
}

// CollateralOf returns the deposited amount of one asset (zero if none)
func (p *Position) CollateralOf(asset ledger.AssetID) *uint256.Int {
	if v, ok := p.Collateral[asset]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// CanonicalBytes returns deterministic serialization for hashing. Assets are
// written in the given order so the output does not depend on map iteration.
func (p *Position) CanonicalBytes(assets []ledger.AssetID) []byte {
	buf := make([]byte, 0, 17+len(assets)*40+32)

	// scope (1 byte) + entity (16 bytes)
	buf = append(buf, byte(p.Account.Scope))
	buf = append(buf, p.Account.EntityID[:]...)

	for _, asset := range assets {
		// asset (length-prefixed)
		buf = append(buf, byte(len(asset)))
		buf = append(buf, []byte(asset)...)

		// amount (32 bytes BE)
		amount := p.CollateralOf(asset).Bytes32()
		buf = append(buf, amount[:]...)
	}

	debt := p.DebtMinted.Bytes32()
	buf = append(buf, debt[:]...)

	return buf
}
