package query_test

import (
	"context"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/engine"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"
	"StableLedger/internal/query"
	"StableLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weth ledger.AssetID = "WETH"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fpmath.Pow10(18))
}

// fixture is a core with one user holding 5 WETH deposited against 1000 DSC,
// and 5 WETH left in the wallet, at $2000/ETH.
func fixture(t *testing.T) (*query.QueryService, ledger.Address, *observability.Metrics) {
	t.Helper()
	c, err := core.NewDeterministicCore(0, nil, nil, core.Options{
		CollateralAssets: []ledger.AssetID{weth},
		PriceFeeds:       []oracle.FeedID{"ETH/USD"},
		Params:           state.DefaultRiskParams,
	})
	require.NoError(t, err)

	user := ledger.UserAddress(uuid.New())
	events := []event.Event{
		&event.PriceUpdate{Feed: "ETH/USD", Answer: 2000_00000000, RoundID: 1, UpdatedAt: now.UnixMicro()},
		&event.WalletFunded{FundingID: uuid.New(), Account: user, Asset: weth, Amount: ether(10), Timestamp: now},
		&event.DepositCollateralAndMint{
			ActionHeader:     event.ActionHeader{RequestID: uuid.New(), Account: user, Nonce: 0, Timestamp: now},
			Asset:            weth,
			CollateralAmount: ether(5),
			MintAmount:       ether(1000),
		},
	}
	for _, evt := range events {
		receipt, err := c.ProcessEvent(context.Background(), evt)
		require.NoError(t, err)
		require.Equal(t, event.OutcomeApplied, receipt.Outcome, receipt.ErrorCode)
	}

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	return query.NewQueryService(nil, c, metrics), user, metrics
}

func TestAccountInformation(t *testing.T) {
	qs, user, metrics := fixture(t)

	resp, err := qs.AccountInformation(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, "1000", resp.DebtMinted.Decimal)
	assert.Equal(t, "10000", resp.CollateralValueUsd.Decimal)
	// (10000 * 50%) / 1000
	assert.Equal(t, "5", resp.HealthFactor.Decimal)
	assert.Equal(t, "Healthy", resp.Status)
	assert.False(t, resp.NoDebt)
	assert.Equal(t, int64(2), resp.AsOfSequence)

	require.Len(t, resp.Collateral, 1)
	assert.Equal(t, "WETH", resp.Collateral[0].Asset)
	assert.Equal(t, ether(5).Dec(), resp.Collateral[0].Amount.Raw)
	assert.Equal(t, "10000", resp.Collateral[0].ValueUsd.Decimal)

	assert.Equal(t, float64(1), promtestutil.ToFloat64(
		metrics.QueryRequests.WithLabelValues("account_information", "ok")))
}

func TestHealthFactor(t *testing.T) {
	qs, user, _ := fixture(t)

	resp, err := qs.HealthFactor(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "5", resp.HealthFactor.Decimal)
	assert.Equal(t, "1", resp.MinHealthFactor.Decimal)
	assert.False(t, resp.Liquidatable)

	// An account with no debt reports the maximal factor
	fresh, err := qs.HealthFactor(context.Background(), ledger.UserAddress(uuid.New()))
	require.NoError(t, err)
	assert.True(t, fresh.NoDebt)
	assert.False(t, fresh.Liquidatable)
}

func TestConversions(t *testing.T) {
	qs, _, metrics := fixture(t)
	ctx := context.Background()

	usd, err := qs.UsdValue(ctx, weth, ether(1))
	require.NoError(t, err)
	assert.Equal(t, "2000", usd.UsdValue.Decimal)

	tokens, err := qs.TokenAmountFromUsd(ctx, weth, ether(100))
	require.NoError(t, err)
	assert.Equal(t, "0.05", tokens.TokenAmount.Decimal)

	_, err = qs.UsdValue(ctx, "WBTC", ether(1))
	require.ErrorIs(t, err, engine.ErrNotAllowedAsset)
	assert.Equal(t, "NotAllowedAsset", query.ErrorCode(err))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(
		metrics.QueryErrors.WithLabelValues("usd_value", "NotAllowedAsset")))
}

func TestSolvencyAndPrices(t *testing.T) {
	qs, _, _ := fixture(t)
	ctx := context.Background()

	solvency, err := qs.Solvency(ctx)
	require.NoError(t, err)
	assert.True(t, solvency.Solvent)
	assert.Equal(t, "10000", solvency.CollateralValueUsd.Decimal)
	assert.Equal(t, "1000", solvency.StableSupply.Decimal)
	assert.Equal(t, "5", solvency.Custody["WETH"].Decimal)

	prices, err := qs.Prices(ctx)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, "ETH/USD", prices[0].Feed)
	assert.Equal(t, "WETH", prices[0].Asset)
	assert.Equal(t, "2000", prices[0].Answer.Decimal)
	assert.Equal(t, int64(1), prices[0].RoundID)
	assert.True(t, prices[0].UpdatedAt.Equal(now))
}

func TestTokenBalances(t *testing.T) {
	qs, user, _ := fixture(t)

	balances, err := qs.TokenBalances(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, balances, 2)

	byAsset := make(map[string]string)
	for _, b := range balances {
		byAsset[b.Asset] = b.Balance.Decimal
	}
	assert.Equal(t, "5", byAsset["WETH"])
	assert.Equal(t, "1000", byAsset["DSC"])
}

func TestHistoryNeedsDatabase(t *testing.T) {
	qs, user, _ := fixture(t)
	ctx := context.Background()

	_, err := qs.JournalHistory(ctx, user, query.Page{})
	assert.ErrorIs(t, err, query.ErrNoHistory)

	_, err = qs.Event(ctx, 0)
	assert.ErrorIs(t, err, query.ErrNoHistory)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
	assert.Equal(t, int64(2), report.LiveSequence)
}
