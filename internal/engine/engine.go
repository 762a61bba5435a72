package engine

import (
	"errors"
	"fmt"

	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/holiman/uint256"
)

// CollateralToken is the asset transfer interface of one collateral token.
// Transfer moves from the engine's own balance.
type CollateralToken interface {
	TransferFrom(from, to ledger.Address, amount *uint256.Int) (bool, error)
	Transfer(to ledger.Address, amount *uint256.Int) (bool, error)
	BalanceOf(owner ledger.Address) *uint256.Int
}

// StableToken is the stable unit: transferable, mintable by the engine, and
// burnable from the engine's own balance.
type StableToken interface {
	CollateralToken
	Mint(to ledger.Address, amount *uint256.Int) (bool, error)
	Burn(amount *uint256.Int) error
	TotalSupply() *uint256.Int
}

// PriceSource is the oracle adapter as seen by the engine
type PriceSource interface {
	PriceOf(feed oracle.FeedID) (oracle.Price, error)
	FreshPriceOf(feed oracle.FeedID, now int64) (oracle.Price, error)
	Decimals() uint8
}

// Config is the construction-time configuration of an Engine
type Config struct {
	// Address is the engine's own holder identity on the token ledger
	Address ledger.Address

	// Parallel lists; unequal length fails with ErrConfigurationMismatch
	CollateralAssets []ledger.AssetID
	PriceFeeds       []oracle.FeedID

	// One token per collateral asset, plus the stable unit
	Collateral map[ledger.AssetID]CollateralToken
	Stable     StableToken

	Oracle PriceSource
	Params state.RiskParams

	// Shared undo log; every store the engine touches must record into it
	Log *ledger.ChangeLog
}

// Engine is the collateral, health factor and liquidation state machine.
// Not thread-safe; callers serialize access (see core.DeterministicCore).
type Engine struct {
	address    ledger.Address
	registry   *state.Registry
	collateral map[ledger.AssetID]CollateralToken
	stable     StableToken
	oracle     PriceSource
	params     state.RiskParams
	health     *state.HealthCalculator
	book       *state.PositionBook
	log        *ledger.ChangeLog

	blockTime int64
	events    []event.Outbound
}

func New(cfg Config) (*Engine, error) {
	registry, err := state.NewRegistry(cfg.CollateralAssets, cfg.PriceFeeds)
	if err != nil {
		return nil, err
	}
	if err := state.ValidateRiskParams(cfg.Params); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.Stable == nil || cfg.Oracle == nil {
		return nil, errors.New("engine: stable token and oracle are required")
	}
	if d := cfg.Oracle.Decimals(); d != cfg.Params.FeedDecimals {
		return nil, fmt.Errorf("%w: oracle answers with %d decimals, risk params expect %d",
			ErrConfigurationMismatch, d, cfg.Params.FeedDecimals)
	}
	if cfg.Address.IsZero() || cfg.Address.IsExternal() {
		return nil, errors.New("engine: engine address must be a holder address")
	}
	for _, asset := range registry.Assets() {
		if cfg.Collateral[asset] == nil {
			return nil, fmt.Errorf("%w: no token for %s", ErrConfigurationMismatch, asset)
		}
	}

	log := cfg.Log
	if log == nil {
		log = ledger.NewChangeLog()
	}

	return &Engine{
		address:    cfg.Address,
		registry:   registry,
		collateral: cfg.Collateral,
		stable:     cfg.Stable,
		oracle:     cfg.Oracle,
		params:     cfg.Params,
		health:     state.NewHealthCalculator(cfg.Params),
		book:       state.NewPositionBook(log),
		log:        log,
	}, nil
}

// SetBlockTime sets the time (epoch micros) actions are evaluated at; price
// freshness is measured against it.
func (e *Engine) SetBlockTime(ts int64) {
	e.blockTime = ts
}

func (e *Engine) BlockTime() int64 {
	return e.blockTime
}

func (e *Engine) Address() ledger.Address {
	return e.address
}

// Book exposes the position ledgers (snapshots, projections)
func (e *Engine) Book() *state.PositionBook {
	return e.book
}

// TakeEvents returns the events emitted since the last call. Call it only
// after the action has completed; events of a reverted action are gone.
func (e *Engine) TakeEvents() []event.Outbound {
	events := e.events
	e.events = nil
	return events
}

// atomically runs fn and reverts every recorded mutation if it fails.
func (e *Engine) atomically(fn func() error) (err error) {
	snap := e.log.Snapshot()
	defer func() {
		if err != nil {
			e.log.RevertToSnapshot(snap)
		}
	}()
	return fn()
}

func (e *Engine) emit(evt event.Outbound) {
	e.events = append(e.events, evt)
	e.log.Record(func() { e.events = e.events[:len(e.events)-1] })
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrNeedsMoreThanZero
	}
	return nil
}

func (e *Engine) collateralToken(asset ledger.AssetID) (CollateralToken, error) {
	if !e.registry.IsAllowed(asset) {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowedAsset, asset)
	}
	return e.collateral[asset], nil
}

// --- Valuation ---

// priceOf returns the asset price lifted to value precision. Actions read
// with fresh=true and fail on stale feeds; queries read the last answer.
func (e *Engine) priceOf(asset ledger.AssetID, fresh bool) (*uint256.Int, error) {
	feed, ok := e.registry.FeedOf(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowedAsset, asset)
	}

	var price oracle.Price
	var err error
	if fresh {
		price, err = e.oracle.FreshPriceOf(feed, e.blockTime)
	} else {
		price, err = e.oracle.PriceOf(feed)
	}
	if err != nil {
		if errors.Is(err, oracle.ErrStalePrice) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrice, err)
	}
	if price.Answer <= 0 {
		return nil, fmt.Errorf("%w: %s answered %d", ErrInvalidPrice, feed, price.Answer)
	}

	return fpmath.Mul(uint256.NewInt(uint64(price.Answer)), e.params.FeedPrecisionAdjustment())
}

// usdValue = price * FEED_PRECISION_ADJUSTMENT * amount / VALUE_PRECISION, rounded down
func (e *Engine) usdValue(asset ledger.AssetID, amount *uint256.Int, fresh bool) (*uint256.Int, error) {
	adjusted, err := e.priceOf(asset, fresh)
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(adjusted, amount, e.params.ValuePrecision(), fpmath.RoundDown)
}

// tokenAmountFromUsd = usd * VALUE_PRECISION / (price * FEED_PRECISION_ADJUSTMENT), rounded down
func (e *Engine) tokenAmountFromUsd(asset ledger.AssetID, usd *uint256.Int, fresh bool) (*uint256.Int, error) {
	adjusted, err := e.priceOf(asset, fresh)
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(usd, e.params.ValuePrecision(), adjusted, fpmath.RoundDown)
}

// collateralValue sums each registered asset's value in registration order.
// Assets with a zero balance contribute zero and are not priced.
func (e *Engine) collateralValue(account ledger.Address, fresh bool) (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, asset := range e.registry.Assets() {
		amount := e.book.CollateralOf(account, asset)
		if amount.IsZero() {
			continue
		}
		value, err := e.usdValue(asset, amount, fresh)
		if err != nil {
			return nil, err
		}
		if total, err = fpmath.Add(total, value); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (e *Engine) healthFactorOf(account ledger.Address, fresh bool) (*uint256.Int, error) {
	debt := e.book.DebtOf(account)
	if debt.IsZero() {
		return fpmath.MaxValue(), nil
	}
	value, err := e.collateralValue(account, fresh)
	if err != nil {
		return nil, err
	}
	return e.health.HealthFactor(debt, value), nil
}

func (e *Engine) revertIfHealthFactorIsBroken(account ledger.Address) error {
	hf, err := e.healthFactorOf(account, true)
	if err != nil {
		return err
	}
	if !e.health.IsHealthy(hf) {
		return &HealthFactorBrokenError{Account: account, HealthFactor: hf}
	}
	return nil
}
