package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatch verifies every entry in the batch is well-formed
func (v *InvariantValidator) ValidateBatch(batch *Batch) error {
	return batch.Validate()
}

// ValidateSupplyConservation verifies Σ balances == supply for every asset
func (v *InvariantValidator) ValidateSupplyConservation() error {
	totals := v.tracker.ComputeGlobalBalance()

	for asset, total := range totals {
		supply := v.tracker.GetSupply(asset)
		if !total.Eq(supply) {
			return fmt.Errorf("balances of %s sum to %s but supply is %s", asset, total.Dec(), supply.Dec())
		}
	}
	for _, asset := range v.tracker.Assets() {
		if _, ok := totals[asset]; !ok && !v.tracker.GetSupply(asset).IsZero() {
			return fmt.Errorf("supply of %s has no backing balances", asset)
		}
	}

	return nil
}

// ValidateCustody verifies the holder's balance of each asset equals what the
// holder's books say it should hold
func (v *InvariantValidator) ValidateCustody(holder Address, expected map[AssetID]*uint256.Int) error {
	for asset, want := range expected {
		have := v.tracker.GetBalance(NewAccountKey(holder, asset))
		if !have.Eq(want) {
			return fmt.Errorf("%s holds %s %s but books record %s",
				holder, have.Dec(), asset, want.Dec())
		}
	}
	return nil
}
