package engine_test

import (
	"testing"
	"time"

	"StableLedger/internal/engine"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

const (
	weth ledger.AssetID = "WETH"
	wbtc ledger.AssetID = "WBTC"
	dsc  ledger.AssetID = "DSC"

	ethUsd oracle.FeedID = "ETH/USD"
	btcUsd oracle.FeedID = "BTC/USD"
)

var engineAddr = ledger.SystemAddress("engine")

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fpmath.Pow10(18))
}

func mustFixed(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := fpmath.ParseFixed(s, fpmath.ValueConfig)
	require.NoError(t, err)
	return v
}

func mustUnits(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	require.NoError(t, err)
	return v
}

// flakyToken wraps a ledger token and can be told to report failure.
type flakyToken struct {
	*ledger.Token
	failTransfer     bool
	failTransferFrom bool
	failMint         bool
}

func (f *flakyToken) Transfer(to ledger.Address, amount *uint256.Int) (bool, error) {
	if f.failTransfer {
		return false, nil
	}
	return f.Token.Transfer(to, amount)
}

func (f *flakyToken) TransferFrom(from, to ledger.Address, amount *uint256.Int) (bool, error) {
	if f.failTransferFrom {
		return false, nil
	}
	return f.Token.TransferFrom(from, to, amount)
}

func (f *flakyToken) Mint(to ledger.Address, amount *uint256.Int) (bool, error) {
	if f.failMint {
		return false, nil
	}
	return f.Token.Mint(to, amount)
}

type fixture struct {
	t       *testing.T
	log     *ledger.ChangeLog
	tracker *ledger.BalanceTracker
	prices  *oracle.PriceBook
	engine  *engine.Engine

	weth   *flakyToken
	wbtc   *flakyToken
	stable *flakyToken

	now   int64
	round int64
}

type fixtureOption func(cfg *engine.Config, heartbeat *time.Duration)

func withHeartbeat(d time.Duration) fixtureOption {
	return func(_ *engine.Config, heartbeat *time.Duration) { *heartbeat = d }
}

// newFixture builds an engine accepting WETH ($2000) and WBTC ($1000).
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	log := ledger.NewChangeLog()
	tracker := ledger.NewBalanceTracker(log, nil)
	prices := oracle.NewPriceBook()

	f := &fixture{
		t:       t,
		log:     log,
		tracker: tracker,
		prices:  prices,
		weth:    &flakyToken{Token: ledger.NewToken(tracker, weth, engineAddr)},
		wbtc:    &flakyToken{Token: ledger.NewToken(tracker, wbtc, engineAddr)},
		stable:  &flakyToken{Token: ledger.NewMintableToken(tracker, dsc, engineAddr)},
		now:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMicro(),
	}

	var heartbeat time.Duration
	cfg := engine.Config{
		Address:          engineAddr,
		CollateralAssets: []ledger.AssetID{weth, wbtc},
		PriceFeeds:       []oracle.FeedID{ethUsd, btcUsd},
		Collateral: map[ledger.AssetID]engine.CollateralToken{
			weth: f.weth,
			wbtc: f.wbtc,
		},
		Stable: f.stable,
		Params: state.DefaultRiskParams,
		Log:    log,
	}
	for _, opt := range opts {
		opt(&cfg, &heartbeat)
	}
	cfg.Oracle = oracle.NewAdapter(prices, heartbeat)

	e, err := engine.New(cfg)
	require.NoError(t, err)
	f.engine = e
	e.SetBlockTime(f.now)

	f.setPrice(ethUsd, 2000)
	f.setPrice(btcUsd, 1000)
	return f
}

// setPrice publishes a whole-dollar price at the fixture's current time.
func (f *fixture) setPrice(feed oracle.FeedID, dollars int64) {
	f.round++
	f.prices.Update(feed, oracle.RoundData{RoundID: f.round, Answer: dollars * 1e8, UpdatedAt: f.now})
}

func (f *fixture) newUser() ledger.Address {
	return ledger.UserAddress(uuid.New())
}

// fund credits a user's wallet with collateral from outside the system.
func (f *fixture) fund(account ledger.Address, token *flakyToken, amount *uint256.Int) {
	f.t.Helper()
	require.NoError(f.t, token.Fund(account, amount))
	f.log.Commit()
}

// depositAndMint sets up an account with collateral and debt.
func (f *fixture) depositAndMint(account ledger.Address, collateral, minted *uint256.Int) {
	f.t.Helper()
	f.fund(account, f.weth, collateral)
	require.NoError(f.t, f.engine.DepositCollateralAndMint(account, weth, collateral, minted))
	f.engine.TakeEvents()
	f.log.Commit()
}

// accountState captures everything an action could change for an account.
type accountState struct {
	Collateral   map[ledger.AssetID]string
	Debt         string
	WalletWeth   string
	WalletStable string
	Supply       string
	EngineWeth   string
}

func (f *fixture) stateOf(account ledger.Address) accountState {
	return accountState{
		Collateral: map[ledger.AssetID]string{
			weth: f.engine.CollateralBalanceOf(account, weth).Dec(),
			wbtc: f.engine.CollateralBalanceOf(account, wbtc).Dec(),
		},
		Debt:         f.engine.DebtOf(account).Dec(),
		WalletWeth:   f.weth.BalanceOf(account).Dec(),
		WalletStable: f.stable.BalanceOf(account).Dec(),
		Supply:       f.stable.TotalSupply().Dec(),
		EngineWeth:   f.weth.BalanceOf(engineAddr).Dec(),
	}
}
