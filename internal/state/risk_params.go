package state

import (
	"fmt"

	fpmath "StableLedger/internal/math"

	"github.com/holiman/uint256"
)

// RiskParams are the fixed solvency parameters of the engine. They are
// configuration, read-only after construction.
type RiskParams struct {
	LiquidationThreshold    uint64 // Share of collateral value counted toward solvency (out of ThresholdPrecision)
	ThresholdPrecision      uint64 // Denominator of LiquidationThreshold
	LiquidationBonusDivisor uint64 // bonus = seized / divisor; 10 => 10%
	FeedDecimals            uint8  // Oracle answer precision
	ValueDecimals           uint8  // Internal fixed-point precision
}

// DefaultRiskParams: 200% over-collateralization, 10% liquidation bonus.
var DefaultRiskParams = RiskParams{
	LiquidationThreshold:    50,
	ThresholdPrecision:      100,
	LiquidationBonusDivisor: 10,
	FeedDecimals:            8,
	ValueDecimals:           18,
}

// ValidateRiskParams checks that risk parameters are within valid ranges:
// 0 < threshold <= precision, divisor > 0, feed decimals <= value decimals.
func ValidateRiskParams(params RiskParams) error {
	if params.ThresholdPrecision == 0 {
		return fmt.Errorf("threshold_precision must be > 0")
	}
	if params.LiquidationThreshold == 0 || params.LiquidationThreshold > params.ThresholdPrecision {
		return fmt.Errorf("liquidation_threshold must be in (0, %d], got %d",
			params.ThresholdPrecision, params.LiquidationThreshold)
	}
	if params.LiquidationBonusDivisor == 0 {
		return fmt.Errorf("liquidation_bonus divisor must be > 0")
	}
	if params.ValueDecimals == 0 || params.ValueDecimals > 36 {
		return fmt.Errorf("value_decimals must be in (0, 36], got %d", params.ValueDecimals)
	}
	if params.FeedDecimals > params.ValueDecimals {
		return fmt.Errorf("feed_decimals (%d) must be <= value_decimals (%d)",
			params.FeedDecimals, params.ValueDecimals)
	}
	return nil
}

// ValuePrecision is 10^ValueDecimals
func (p RiskParams) ValuePrecision() *uint256.Int {
	return fpmath.Pow10(uint64(p.ValueDecimals))
}

// FeedPrecisionAdjustment lifts a feed answer to ValueDecimals: 10^(18-8)
func (p RiskParams) FeedPrecisionAdjustment() *uint256.Int {
	return fpmath.Pow10(uint64(p.ValueDecimals - p.FeedDecimals))
}

// MinHealthFactor is a ratio of 1.0
func (p RiskParams) MinHealthFactor() *uint256.Int {
	return p.ValuePrecision()
}

// BonusPercent is the liquidation reward as a whole percentage (for display)
func (p RiskParams) BonusPercent() uint64 {
	return 100 / p.LiquidationBonusDivisor
}
