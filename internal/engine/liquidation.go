package engine

import (
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"

	"github.com/holiman/uint256"
)

// LiquidationResult describes a completed liquidation
type LiquidationResult struct {
	Liquidator           ledger.Address
	Target               ledger.Address
	Asset                ledger.AssetID
	DebtCovered          *uint256.Int // debtToCover clamped to the target's debt
	SeizedBase           *uint256.Int // collateral equal in value to DebtCovered
	Bonus                *uint256.Int // SeizedBase / LiquidationBonusDivisor
	TotalSeized          *uint256.Int
	StartingHealthFactor *uint256.Int
	EndingHealthFactor   *uint256.Int
}

// Liquidate burns debtToCover of the liquidator's stable unit against target's
// debt and pays the liquidator the equivalent collateral plus the bonus. Only
// accounts below MIN_HEALTH_FACTOR can be liquidated; the target's ratio must
// improve and the liquidator must stay healthy.
func (e *Engine) Liquidate(
	liquidator ledger.Address,
	asset ledger.AssetID,
	target ledger.Address,
	debtToCover *uint256.Int,
) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := e.atomically(func() error {
		var err error
		result, err = e.liquidate(liquidator, asset, target, debtToCover)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) liquidate(
	liquidator ledger.Address,
	asset ledger.AssetID,
	target ledger.Address,
	debtToCover *uint256.Int,
) (*LiquidationResult, error) {
	if err := requirePositive(debtToCover); err != nil {
		return nil, err
	}
	if _, err := e.collateralToken(asset); err != nil {
		return nil, err
	}

	// 1. Only under-collateralized accounts
	startingHF, err := e.healthFactorOf(target, true)
	if err != nil {
		return nil, err
	}
	if e.health.IsHealthy(startingHF) {
		return nil, ErrHealthFactorOk
	}

	// The debt ledger floors at zero: never cover more than is owed.
	cover := debtToCover.Clone()
	if debt := e.book.DebtOf(target); cover.Gt(debt) {
		cover = debt
	}

	// 2-4. Seized collateral plus bonus
	seizedBase, err := e.tokenAmountFromUsd(asset, cover, true)
	if err != nil {
		return nil, err
	}
	bonus := new(uint256.Int).Div(seizedBase, uint256.NewInt(e.params.LiquidationBonusDivisor))
	totalSeized, err := fpmath.Add(seizedBase, bonus)
	if err != nil {
		return nil, err
	}

	// 5. Target's collateral goes straight to the liquidator's wallet
	if err := e.redeemCollateral(asset, totalSeized, target, liquidator); err != nil {
		return nil, err
	}

	// 6. Liquidator pays the target's debt
	if err := e.burnStable(cover, target, liquidator); err != nil {
		return nil, err
	}

	// 7. The liquidation must have helped
	endingHF, err := e.healthFactorOf(target, true)
	if err != nil {
		return nil, err
	}
	if !endingHF.Gt(startingHF) {
		return nil, ErrHealthFactorNotImproved
	}

	// 8. And must not break the liquidator
	if err := e.revertIfHealthFactorIsBroken(liquidator); err != nil {
		return nil, err
	}

	result := &LiquidationResult{
		Liquidator:           liquidator,
		Target:               target,
		Asset:                asset,
		DebtCovered:          cover,
		SeizedBase:           seizedBase,
		Bonus:                bonus,
		TotalSeized:          totalSeized,
		StartingHealthFactor: startingHF,
		EndingHealthFactor:   endingHF,
	}

	e.emit(event.Liquidated{
		Liquidator:           liquidator,
		Target:               target,
		Asset:                asset,
		DebtCovered:          cover.Clone(),
		CollateralSeized:     totalSeized.Clone(),
		Bonus:                bonus.Clone(),
		StartingHealthFactor: startingHF.Clone(),
		EndingHealthFactor:   endingHF.Clone(),
	})

	return result, nil
}
