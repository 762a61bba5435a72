package engine

import (
	"StableLedger/internal/ledger"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/holiman/uint256"
)

// Queries never mutate state and read the latest oracle answer without the
// freshness check, so they cannot fail for a valid account and asset.

// AccountInformation returns the account's debt and total collateral value in USD.
func (e *Engine) AccountInformation(account ledger.Address) (debtMinted, collateralValueUsd *uint256.Int, err error) {
	value, err := e.collateralValue(account, false)
	if err != nil {
		return nil, nil, err
	}
	return e.book.DebtOf(account), value, nil
}

// AccountCollateralValue sums every accepted asset's USD value for the account.
func (e *Engine) AccountCollateralValue(account ledger.Address) (*uint256.Int, error) {
	return e.collateralValue(account, false)
}

// CollateralBalanceOf returns the deposited amount of one asset.
func (e *Engine) CollateralBalanceOf(account ledger.Address, asset ledger.AssetID) *uint256.Int {
	return e.book.CollateralOf(account, asset)
}

// DebtOf returns the account's outstanding minted stable unit.
func (e *Engine) DebtOf(account ledger.Address) *uint256.Int {
	return e.book.DebtOf(account)
}

// CollateralAssets lists accepted assets in registration order.
func (e *Engine) CollateralAssets() []ledger.AssetID {
	return e.registry.Assets()
}

func (e *Engine) PriceFeedOf(asset ledger.AssetID) (oracle.FeedID, bool) {
	return e.registry.FeedOf(asset)
}

func (e *Engine) IsAllowedAsset(asset ledger.AssetID) bool {
	return e.registry.IsAllowed(asset)
}

// UsdValue converts a token amount to USD (18 decimals), rounding down.
func (e *Engine) UsdValue(asset ledger.AssetID, amount *uint256.Int) (*uint256.Int, error) {
	return e.usdValue(asset, amount, false)
}

// TokenAmountFromUsd converts a USD amount (18 decimals) to token units, rounding down.
func (e *Engine) TokenAmountFromUsd(asset ledger.AssetID, usdAmount *uint256.Int) (*uint256.Int, error) {
	return e.tokenAmountFromUsd(asset, usdAmount, false)
}

// HealthFactorOf is the authoritative health factor query.
func (e *Engine) HealthFactorOf(account ledger.Address) (*uint256.Int, error) {
	return e.healthFactorOf(account, false)
}

// CalculateHealthFactor is the pure calculator over explicit inputs.
func (e *Engine) CalculateHealthFactor(debtMinted, collateralValueUsd *uint256.Int) *uint256.Int {
	return e.health.HealthFactor(debtMinted, collateralValueUsd)
}

// HealthStatusOf classifies the account against MIN_HEALTH_FACTOR.
func (e *Engine) HealthStatusOf(account ledger.Address) (state.HealthStatus, error) {
	hf, err := e.HealthFactorOf(account)
	if err != nil {
		return state.HealthStatusHealthy, err
	}
	return e.health.Status(hf), nil
}

func (e *Engine) Params() state.RiskParams {
	return e.params
}

func (e *Engine) MinHealthFactor() *uint256.Int {
	return e.params.MinHealthFactor()
}

// StableSupply is the circulating supply of the stable unit.
func (e *Engine) StableSupply() *uint256.Int {
	return e.stable.TotalSupply()
}

// Solvency compares the USD value of all collateral the engine holds with the
// stable unit supply.
type Solvency struct {
	CollateralValueUsd *uint256.Int
	StableSupply       *uint256.Int
}

func (s Solvency) IsSolvent() bool {
	return !s.CollateralValueUsd.Lt(s.StableSupply)
}

// SystemSolvency values the engine's token holdings at the latest prices.
func (e *Engine) SystemSolvency() (Solvency, error) {
	total := new(uint256.Int)
	for _, asset := range e.registry.Assets() {
		held := e.collateral[asset].BalanceOf(e.address)
		if held.IsZero() {
			continue
		}
		value, err := e.usdValue(asset, held, false)
		if err != nil {
			return Solvency{}, err
		}
		total.Add(total, value)
	}
	return Solvency{CollateralValueUsd: total, StableSupply: e.stable.TotalSupply()}, nil
}

// CollateralCustody is what the engine's books say it holds of each asset.
func (e *Engine) CollateralCustody() map[ledger.AssetID]*uint256.Int {
	out := make(map[ledger.AssetID]*uint256.Int, e.registry.Len())
	for _, asset := range e.registry.Assets() {
		out[asset] = e.book.TotalCollateral(asset)
	}
	return out
}
