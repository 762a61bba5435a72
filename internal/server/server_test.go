package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"
	"StableLedger/internal/query"
	"StableLedger/internal/server"
	"StableLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weth ledger.AssetID = "WETH"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fpmath.Pow10(18))
}

type fakeSnapshots struct {
	seq int64
	err error
}

func (f *fakeSnapshots) Take(context.Context) (int64, error) { return f.seq, f.err }

type fakeResync struct{ calls int }

func (f *fakeResync) Resync(context.Context) error {
	f.calls++
	return nil
}

type harness struct {
	srv     *server.GRPCServer
	http    *httptest.Server
	user    ledger.Address
	resync  *fakeResync
	healthz *observability.HealthChecker
}

// newHarness serves a core holding one user with 10 WETH in the wallet at
// $2000/ETH.
func newHarness(t *testing.T) *harness {
	t.Helper()
	c, err := core.NewDeterministicCore(0, nil, nil, core.Options{
		CollateralAssets: []ledger.AssetID{weth},
		PriceFeeds:       []oracle.FeedID{"ETH/USD"},
		Params:           state.DefaultRiskParams,
	})
	require.NoError(t, err)

	user := ledger.UserAddress(uuid.New())
	for _, evt := range []event.Event{
		&event.PriceUpdate{Feed: "ETH/USD", Answer: 2000_00000000, RoundID: 1, UpdatedAt: now.UnixMicro()},
		&event.WalletFunded{FundingID: uuid.New(), Account: user, Asset: weth, Amount: ether(10), Timestamp: now},
	} {
		receipt, err := c.ProcessEvent(context.Background(), evt)
		require.NoError(t, err)
		require.Equal(t, event.OutcomeApplied, receipt.Outcome, receipt.ErrorCode)
	}

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	h := &harness{
		user:    user,
		resync:  &fakeResync{},
		healthz: observability.NewHealthChecker(),
	}
	h.srv = server.NewGRPCServer("127.0.0.1:0", "127.0.0.1:0", &server.ServerDeps{
		Query:         query.NewQueryService(nil, c, metrics),
		Commands:      ingestion.NewCommandService(c),
		Snapshots:     &fakeSnapshots{seq: 2},
		Projections:   h.resync,
		HealthChecker: h.healthz,
	})
	handler, err := h.srv.Handler()
	require.NoError(t, err)
	h.http = httptest.NewServer(handler)
	t.Cleanup(h.http.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body interface{}, header map[string]string) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.http.URL+path, reader)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func (h *harness) depositAndMint(nonce int64, collateral, mint uint64) map[string]interface{} {
	return map[string]interface{}{
		"request_id":        uuid.NewString(),
		"account":           h.user.String(),
		"nonce":             nonce,
		"timestamp":         now.Format(time.RFC3339),
		"asset":             "WETH",
		"collateral_amount": ether(collateral).Dec(),
		"mint_amount":       ether(mint).Dec(),
	}
}

func TestSubmitCommand(t *testing.T) {
	h := newHarness(t)
	body := h.depositAndMint(0, 5, 1000)

	status, resp := h.do(t, http.MethodPost, "/v1/commands/DepositCollateralAndMint", body, nil)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, "applied", resp["outcome"])
	assert.Equal(t, float64(2), resp["sequence"])

	// Same request id is acknowledged without a new sequence
	status, resp = h.do(t, http.MethodPost, "/v1/commands/DepositCollateralAndMint", body, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["duplicate"])
	assert.Nil(t, resp["sequence"])

	// Minting past the threshold is recorded as a rejection
	status, resp = h.do(t, http.MethodPost, "/v1/commands/DepositCollateralAndMint", h.depositAndMint(1, 1, 100000), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "rejected", resp["outcome"])
	assert.Equal(t, "HealthFactorBroken", resp["error_code"])
}

func TestSubmitCommand_BadInput(t *testing.T) {
	h := newHarness(t)

	status, resp := h.do(t, http.MethodPost, "/v1/commands/Teleport", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidArgument", resp["code"])

	body := h.depositAndMint(0, 1, 1)
	body["surprise"] = true
	status, _ = h.do(t, http.MethodPost, "/v1/commands/DepositCollateralAndMint", body, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// A nonce from the future leaves a gap in the account's sequence
	status, resp = h.do(t, http.MethodPost, "/v1/commands/DepositCollateralAndMint", h.depositAndMint(5, 1, 1), nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "SequenceConflict", resp["error_code"])
}

func TestAccountEndpoints(t *testing.T) {
	h := newHarness(t)
	status, _ := h.do(t, http.MethodPost, "/v1/commands/DepositCollateralAndMint", h.depositAndMint(0, 5, 1000), nil)
	require.Equal(t, http.StatusOK, status)

	status, resp := h.do(t, http.MethodGet, "/v1/accounts/"+h.user.String(), nil, nil)
	require.Equal(t, http.StatusOK, status, resp)
	debt := resp["debt_minted"].(map[string]interface{})
	assert.Equal(t, "1000", debt["decimal"])

	status, resp = h.do(t, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/health-factor", h.user), nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "5", resp["health_factor"].(map[string]interface{})["decimal"])

	status, _ = h.do(t, http.MethodGet, "/v1/accounts/not-an-address", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodGet, "/v1/accounts/external", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// History lives in Postgres, which this server does not have
	status, resp = h.do(t, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/journal?limit=10", h.user), nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "Unavailable", resp["code"])

	status, _ = h.do(t, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/journal?limit=ten", h.user), nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCallerHealthFactor(t *testing.T) {
	h := newHarness(t)

	status, resp := h.do(t, http.MethodGet, "/v1/me/health-factor", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthenticated", resp["code"])

	status, resp = h.do(t, http.MethodGet, "/v1/me/health-factor", nil,
		map[string]string{server.AccountHeader: h.user.String()})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["no_debt"])
}

func TestConversionEndpoints(t *testing.T) {
	h := newHarness(t)

	status, resp := h.do(t, http.MethodGet, "/v1/assets/WETH/usd-value?amount="+ether(1).Dec(), nil, nil)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, "2000", resp["usd_value"].(map[string]interface{})["decimal"])

	status, resp = h.do(t, http.MethodGet, "/v1/assets/WETH/token-amount?usd="+ether(100).Hex(), nil, nil)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, "0.05", resp["token_amount"].(map[string]interface{})["decimal"])

	status, resp = h.do(t, http.MethodGet, "/v1/assets/WETH/token-amount?usd=100&format=decimal", nil, nil)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, "0.05", resp["token_amount"].(map[string]interface{})["decimal"])
	assert.Equal(t, ether(100).Dec(), resp["usd_value"].(map[string]interface{})["raw"])

	status, resp = h.do(t, http.MethodGet, "/v1/assets/WBTC/usd-value?amount=1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "NotAllowedAsset", resp["code"])

	status, _ = h.do(t, http.MethodGet, "/v1/assets/WETH/usd-value", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSystemEndpoints(t *testing.T) {
	h := newHarness(t)

	status, resp := h.do(t, http.MethodGet, "/v1/solvency", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["solvent"])

	status, resp = h.do(t, http.MethodGet, "/v1/admin/integrity", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["is_healthy"])
	assert.Equal(t, float64(1), resp["live_sequence"])

	status, resp = h.do(t, http.MethodPost, "/v1/admin/snapshots", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), resp["sequence"])

	status, _ = h.do(t, http.MethodPost, "/v1/admin/projections/resync", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, h.resync.calls)

	status, _ = h.do(t, http.MethodGet, "/v1/events/-3", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReadiness(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	h.srv.SetReady(true)
	assert.True(t, h.healthz.IsReady())
	status, resp := h.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", resp["status"])

	status, _ = h.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSnapshotFailureIsInternal(t *testing.T) {
	failing := server.NewGRPCServer("127.0.0.1:0", "127.0.0.1:0", &server.ServerDeps{
		Snapshots: &fakeSnapshots{err: errors.New("disk full")},
	})
	handler, err := failing.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/snapshots", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/projections/resync", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
