package state

import (
	fpmath "StableLedger/internal/math"

	"github.com/holiman/uint256"
)

// HealthStatus classifies a health factor
type HealthStatus int32

const (
	HealthStatusHealthy      HealthStatus = iota // hf >= MIN_HEALTH_FACTOR (or no debt)
	HealthStatusLiquidatable                     // hf < MIN_HEALTH_FACTOR
)

func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "Healthy"
	case HealthStatusLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}

// HealthCalculator is the pure solvency ratio function.
type HealthCalculator struct {
	params RiskParams
}

func NewHealthCalculator(params RiskParams) *HealthCalculator {
	return &HealthCalculator{params: params}
}

// HealthFactor = (collateralValueUsd * threshold / precision) * 1e18 / debt.
// No debt returns the maximum value. A ratio too large for 256 bits saturates
// to the maximum as well, so the function never fails.
func (hc *HealthCalculator) HealthFactor(debtMinted, collateralValueUsd *uint256.Int) *uint256.Int {
	if debtMinted.IsZero() {
		return fpmath.MaxValue()
	}

	adjusted, err := fpmath.MulDiv(
		collateralValueUsd,
		uint256.NewInt(hc.params.LiquidationThreshold),
		uint256.NewInt(hc.params.ThresholdPrecision),
		fpmath.RoundDown,
	)
	if err != nil {
		return fpmath.MaxValue()
	}

	hf, err := fpmath.MulDiv(adjusted, hc.params.ValuePrecision(), debtMinted, fpmath.RoundDown)
	if err != nil {
		return fpmath.MaxValue()
	}
	return hf
}

// Status classifies hf against MIN_HEALTH_FACTOR
func (hc *HealthCalculator) Status(hf *uint256.Int) HealthStatus {
	if hf.Lt(hc.params.MinHealthFactor()) {
		return HealthStatusLiquidatable
	}
	return HealthStatusHealthy
}

func (hc *HealthCalculator) IsHealthy(hf *uint256.Int) bool {
	return hc.Status(hf) == HealthStatusHealthy
}

func (hc *HealthCalculator) Params() RiskParams {
	return hc.params
}
