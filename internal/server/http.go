package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"StableLedger/internal/core"
	"StableLedger/internal/engine"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/holiman/uint256"
)

// AccountHeader names the caller on the zero-argument health factor alias.
const AccountHeader = "X-Account-ID"

const maxCommandBody = 1 << 20

// SnapshotTaker takes an on-demand snapshot.
type SnapshotTaker interface {
	Take(ctx context.Context) (int64, error)
}

// ProjectionResyncer rebuilds the read models from live state.
type ProjectionResyncer interface {
	Resync(ctx context.Context) error
}

// CommandResponse reports how a submitted command was processed.
type CommandResponse struct {
	EventType      string                    `json:"event_type"`
	IdempotencyKey string                    `json:"idempotency_key"`
	Sequence       *int64                    `json:"sequence,omitempty"`
	Outcome        string                    `json:"outcome,omitempty"`
	ErrorCode      string                    `json:"error_code,omitempty"`
	Error          string                    `json:"error,omitempty"`
	Duplicate      bool                      `json:"duplicate,omitempty"`
	Ignored        bool                      `json:"ignored,omitempty"`
	Liquidation    *engine.LiquidationResult `json:"liquidation,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RegisterRoutes exposes commands, queries and admin operations as JSON on
// the gateway mux.
func RegisterRoutes(mux *runtime.ServeMux, deps *ServerDeps) error {
	h := &handlers{deps: deps}
	routes := []struct {
		method, pattern string
		fn              runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/commands/{type}", h.submitCommand},

		{http.MethodGet, "/v1/accounts/{account}", h.accountInformation},
		{http.MethodGet, "/v1/accounts/{account}/health-factor", h.healthFactor},
		{http.MethodGet, "/v1/accounts/{account}/balances", h.tokenBalances},
		{http.MethodGet, "/v1/accounts/{account}/journal", h.journalHistory},
		{http.MethodGet, "/v1/accounts/{account}/position", h.projectedPosition},
		{http.MethodGet, "/v1/me/health-factor", h.callerHealthFactor},

		{http.MethodGet, "/v1/assets/{asset}/usd-value", h.usdValue},
		{http.MethodGet, "/v1/assets/{asset}/token-amount", h.tokenAmountFromUsd},
		{http.MethodGet, "/v1/solvency", h.solvency},
		{http.MethodGet, "/v1/prices", h.prices},
		{http.MethodGet, "/v1/liquidations", h.liquidations},
		{http.MethodGet, "/v1/events/{sequence}", h.event},

		{http.MethodGet, "/v1/admin/integrity", h.integrity},
		{http.MethodPost, "/v1/admin/snapshots", h.takeSnapshot},
		{http.MethodPost, "/v1/admin/projections/resync", h.resyncProjections},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.fn); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

type handlers struct {
	deps *ServerDeps
}

func (h *handlers) submitCommand(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if h.deps.Commands == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", errors.New("command intake disabled"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", err)
		return
	}

	evt, receipt, err := h.deps.Commands.Submit(r.Context(), params["type"], body)
	if evt == nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", err)
		return
	}

	resp := CommandResponse{
		EventType:      params["type"],
		IdempotencyKey: evt.IdempotencyKey(),
	}
	if err != nil {
		resp.Error = err.Error()
		switch {
		case errors.Is(err, core.ErrSequenceGap), errors.Is(err, core.ErrOutOfOrder):
			resp.ErrorCode = "SequenceConflict"
			writeJSON(w, http.StatusConflict, resp)
		case errors.Is(err, core.ErrUnknownEvent):
			resp.ErrorCode = "Unsupported"
			writeJSON(w, http.StatusBadRequest, resp)
		default:
			resp.ErrorCode = "Internal"
			writeJSON(w, http.StatusInternalServerError, resp)
		}
		return
	}

	resp.Duplicate = receipt.Duplicate
	resp.Ignored = receipt.Ignored
	if !receipt.Duplicate && !receipt.Ignored {
		seq := receipt.Sequence
		resp.Sequence = &seq
		resp.Outcome = receipt.Outcome.String()
		resp.ErrorCode = receipt.ErrorCode
		if receipt.Err != nil {
			resp.Error = receipt.Err.Error()
		}
		resp.Liquidation = receipt.Result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) accountInformation(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, ok := accountParam(w, params["account"])
	if !ok {
		return
	}
	resp, err := h.deps.Query.AccountInformation(r.Context(), account)
	respond(w, resp, err)
}

func (h *handlers) healthFactor(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, ok := accountParam(w, params["account"])
	if !ok {
		return
	}
	resp, err := h.deps.Query.HealthFactor(r.Context(), account)
	respond(w, resp, err)
}

// callerHealthFactor resolves the caller from the request header and defers
// to the account-parameterized query.
func (h *handlers) callerHealthFactor(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	caller := r.Header.Get(AccountHeader)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", fmt.Errorf("%s header is required", AccountHeader))
		return
	}
	account, ok := accountParam(w, caller)
	if !ok {
		return
	}
	resp, err := h.deps.Query.HealthFactor(r.Context(), account)
	respond(w, resp, err)
}

func (h *handlers) tokenBalances(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, ok := accountParam(w, params["account"])
	if !ok {
		return
	}
	resp, err := h.deps.Query.TokenBalances(r.Context(), account)
	respond(w, resp, err)
}

func (h *handlers) journalHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, ok := accountParam(w, params["account"])
	if !ok {
		return
	}
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	resp, err := h.deps.Query.JournalHistory(r.Context(), account, page)
	respond(w, resp, err)
}

func (h *handlers) projectedPosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	account, ok := accountParam(w, params["account"])
	if !ok {
		return
	}
	resp, err := h.deps.Query.ProjectedPosition(r.Context(), account)
	respond(w, resp, err)
}

func (h *handlers) usdValue(w http.ResponseWriter, r *http.Request, params map[string]string) {
	amount, ok := amountParam(w, r, "amount")
	if !ok {
		return
	}
	resp, err := h.deps.Query.UsdValue(r.Context(), ledger.AssetID(params["asset"]), amount)
	respond(w, resp, err)
}

func (h *handlers) tokenAmountFromUsd(w http.ResponseWriter, r *http.Request, params map[string]string) {
	usd, ok := amountParam(w, r, "usd")
	if !ok {
		return
	}
	resp, err := h.deps.Query.TokenAmountFromUsd(r.Context(), ledger.AssetID(params["asset"]), usd)
	respond(w, resp, err)
}

func (h *handlers) solvency(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := h.deps.Query.Solvency(r.Context())
	respond(w, resp, err)
}

func (h *handlers) prices(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := h.deps.Query.Prices(r.Context())
	respond(w, resp, err)
}

func (h *handlers) liquidations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	var target *ledger.Address
	if raw := r.URL.Query().Get("target"); raw != "" {
		account, ok := accountParam(w, raw)
		if !ok {
			return
		}
		target = &account
	}
	resp, err := h.deps.Query.Liquidations(r.Context(), target, page)
	respond(w, resp, err)
}

func (h *handlers) event(w http.ResponseWriter, r *http.Request, params map[string]string) {
	seq, err := strconv.ParseInt(params["sequence"], 10, 64)
	if err != nil || seq < 0 {
		writeError(w, http.StatusBadRequest, "InvalidArgument", fmt.Errorf("invalid sequence %q", params["sequence"]))
		return
	}
	resp, err := h.deps.Query.Event(r.Context(), seq)
	respond(w, resp, err)
}

func (h *handlers) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := h.deps.Query.VerifyIntegrity(r.Context())
	respond(w, resp, err)
}

func (h *handlers) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.deps.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", errors.New("snapshots disabled"))
		return
	}
	seq, err := h.deps.Snapshots.Take(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
}

func (h *handlers) resyncProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.deps.Projections == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", errors.New("projections disabled"))
		return
	}
	if err := h.deps.Projections.Resync(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resynced": true})
}

// --- helpers ---

func accountParam(w http.ResponseWriter, raw string) (ledger.Address, bool) {
	account, err := ledger.ParseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", err)
		return ledger.Address{}, false
	}
	if account.IsExternal() {
		writeError(w, http.StatusBadRequest, "InvalidArgument", errors.New("the external account has no position"))
		return ledger.Address{}, false
	}
	return account, true
}

// amountParam reads raw base units (decimal or 0x hex), or an 18-decimal
// human amount when format=decimal.
func amountParam(w http.ResponseWriter, r *http.Request, name string) (*uint256.Int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "InvalidArgument", fmt.Errorf("%s is required", name))
		return nil, false
	}
	var (
		amount *uint256.Int
		err    error
	)
	if r.URL.Query().Get("format") == "decimal" {
		amount, err = fpmath.ParseFixed(raw, fpmath.ValueConfig)
	} else {
		amount, err = ingestion.Amount(raw)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", fmt.Errorf("%s: %w", name, err))
		return nil, false
	}
	return amount, true
}

func pageParams(w http.ResponseWriter, r *http.Request) (query.Page, bool) {
	var page query.Page
	q := r.URL.Query()
	if raw := q.Get("before"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidArgument", fmt.Errorf("invalid before %q", raw))
			return page, false
		}
		page.Before = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidArgument", fmt.Errorf("invalid limit %q", raw))
			return page, false
		}
		page.Limit = v
	}
	return page, true
}

func respond(w http.ResponseWriter, resp interface{}, err error) {
	if err != nil {
		code := query.ErrorCode(err)
		writeError(w, statusOf(code), code, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusOf(code string) int {
	switch code {
	case "NotFound":
		return http.StatusNotFound
	case "InvalidArgument", "NotAllowedAsset", "NeedsMoreThanZero":
		return http.StatusBadRequest
	case "Unavailable":
		return http.StatusServiceUnavailable
	case "Canceled":
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
