package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/engine"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/observability"
	"StableLedger/internal/state"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotFound        = errors.New("query: not found")
	ErrInvalidArgument = errors.New("query: invalid argument")
	ErrNoHistory       = errors.New("query: history store not configured")
)

// LiveState is the read side of the deterministic core.
type LiveState interface {
	Read(fn func(v core.View) error) error
	VerifyInvariants() error
}

// QueryService answers the engine's query surface from live state and serves
// history from the Postgres event log and projections. Every response carries
// as_of_sequence for freshness semantics.
type QueryService struct {
	db      *sql.DB
	live    LiveState
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewQueryService builds a service. db may be nil, in which case only live
// queries are available.
func NewQueryService(db *sql.DB, live LiveState, metrics *observability.Metrics) *QueryService {
	return &QueryService{
		db:      db,
		live:    live,
		metrics: metrics,
		tracer:  observability.Tracer("query"),
	}
}

// AccountInformation returns debt, collateral value, health and the
// per-asset deposits of one account.
func (qs *QueryService) AccountInformation(ctx context.Context, account ledger.Address) (*AccountResponse, error) {
	var resp *AccountResponse
	err := qs.observe(ctx, "account_information", func(ctx context.Context) error {
		return qs.live.Read(func(v core.View) error {
			debt, value, err := v.Engine.AccountInformation(account)
			if err != nil {
				return err
			}
			hf := v.Engine.CalculateHealthFactor(debt, value)

			collateral := make([]CollateralBalance, 0, len(v.Engine.CollateralAssets()))
			for _, asset := range v.Engine.CollateralAssets() {
				amount := v.Engine.CollateralBalanceOf(account, asset)
				usd, err := v.Engine.UsdValue(asset, amount)
				if err != nil {
					return err
				}
				collateral = append(collateral, CollateralBalance{
					Asset:    string(asset),
					Amount:   valueAmount(amount),
					ValueUsd: valueAmount(usd),
				})
			}

			resp = &AccountResponse{
				Account:            account.String(),
				DebtMinted:         valueAmount(debt),
				CollateralValueUsd: valueAmount(value),
				HealthFactor:       valueAmount(hf),
				NoDebt:             debt.IsZero(),
				Status:             statusOf(hf, v.Engine.MinHealthFactor()).String(),
				Collateral:         collateral,
				AsOfSequence:       v.Sequence,
			}
			return nil
		})
	})
	return resp, err
}

// HealthFactor is the authoritative account-parameterized health query.
func (qs *QueryService) HealthFactor(ctx context.Context, account ledger.Address) (*HealthFactorResponse, error) {
	var resp *HealthFactorResponse
	err := qs.observe(ctx, "health_factor", func(ctx context.Context) error {
		return qs.live.Read(func(v core.View) error {
			hf, err := v.Engine.HealthFactorOf(account)
			if err != nil {
				return err
			}
			minHF := v.Engine.MinHealthFactor()
			resp = &HealthFactorResponse{
				Account:         account.String(),
				HealthFactor:    valueAmount(hf),
				NoDebt:          v.Engine.DebtOf(account).IsZero(),
				MinHealthFactor: valueAmount(minHF),
				Liquidatable:    hf.Lt(minHF),
				AsOfSequence:    v.Sequence,
			}
			return nil
		})
	})
	return resp, err
}

// UsdValue converts a token amount to USD at the latest price.
func (qs *QueryService) UsdValue(ctx context.Context, asset ledger.AssetID, amount *uint256.Int) (*ConversionResponse, error) {
	var resp *ConversionResponse
	err := qs.observe(ctx, "usd_value", func(ctx context.Context) error {
		return qs.live.Read(func(v core.View) error {
			if !v.Engine.IsAllowedAsset(asset) {
				return fmt.Errorf("%w: %s", engine.ErrNotAllowedAsset, asset)
			}
			usd, err := v.Engine.UsdValue(asset, amount)
			if err != nil {
				return err
			}
			resp = &ConversionResponse{
				Asset:        string(asset),
				TokenAmount:  valueAmount(amount),
				UsdValue:     valueAmount(usd),
				AsOfSequence: v.Sequence,
			}
			return nil
		})
	})
	return resp, err
}

// TokenAmountFromUsd converts a USD amount to token units at the latest price.
func (qs *QueryService) TokenAmountFromUsd(ctx context.Context, asset ledger.AssetID, usd *uint256.Int) (*ConversionResponse, error) {
	var resp *ConversionResponse
	err := qs.observe(ctx, "token_amount_from_usd", func(ctx context.Context) error {
		return qs.live.Read(func(v core.View) error {
			if !v.Engine.IsAllowedAsset(asset) {
				return fmt.Errorf("%w: %s", engine.ErrNotAllowedAsset, asset)
			}
			amount, err := v.Engine.TokenAmountFromUsd(asset, usd)
			if err != nil {
				return err
			}
			resp = &ConversionResponse{
				Asset:        string(asset),
				TokenAmount:  valueAmount(amount),
				UsdValue:     valueAmount(usd),
				AsOfSequence: v.Sequence,
			}
			return nil
		})
	})
	return resp, err
}

// Solvency reports engine-held collateral value against the stable supply.
func (qs *QueryService) Solvency(ctx context.Context) (*SolvencyResponse, error) {
	var resp *SolvencyResponse
	err := qs.observe(ctx, "solvency", func(ctx context.Context) error {
		return qs.live.Read(func(v core.View) error {
			solvency, err := v.Engine.SystemSolvency()
			if err != nil {
				return err
			}
			custody := make(map[string]Amount)
			for asset, held := range v.Engine.CollateralCustody() {
				custody[string(asset)] = valueAmount(held)
			}
			resp = &SolvencyResponse{
				CollateralValueUsd: valueAmount(solvency.CollateralValueUsd),
				StableSupply:       valueAmount(solvency.StableSupply),
				Solvent:            solvency.IsSolvent(),
				Custody:            custody,
				AsOfSequence:       v.Sequence,
			}
			return nil
		})
	})
	return resp, err
}

// Prices lists the latest round of every feed, sorted by feed.
func (qs *QueryService) Prices(ctx context.Context) ([]PriceResponse, error) {
	var resp []PriceResponse
	err := qs.observe(ctx, "prices", func(ctx context.Context) error {
		return qs.live.Read(func(v core.View) error {
			assetOf := make(map[string]string)
			for _, asset := range v.Engine.CollateralAssets() {
				if feed, ok := v.Engine.PriceFeedOf(asset); ok {
					assetOf[string(feed)] = string(asset)
				}
			}
			for feed, round := range v.Prices.All() {
				answer := uint256.NewInt(0)
				if round.Answer > 0 {
					answer.SetUint64(uint64(round.Answer))
				}
				resp = append(resp, PriceResponse{
					Feed:         string(feed),
					Asset:        assetOf[string(feed)],
					Answer:       newAmount(answer, fpmath.FeedConfig),
					RoundID:      round.RoundID,
					UpdatedAt:    time.UnixMicro(round.UpdatedAt).UTC(),
					AsOfSequence: v.Sequence,
				})
			}
			sort.Slice(resp, func(i, j int) bool { return resp[i].Feed < resp[j].Feed })
			return nil
		})
	})
	return resp, err
}

// --- helpers ---

func statusOf(hf, minHF *uint256.Int) state.HealthStatus {
	if hf.Lt(minHF) {
		return state.HealthStatusLiquidatable
	}
	return state.HealthStatusHealthy
}

// observe wraps one query in a span and the query metrics.
func (qs *QueryService) observe(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	ctx, span := qs.tracer.Start(ctx, "query."+endpoint, trace.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if qs.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			qs.metrics.QueryErrors.WithLabelValues(endpoint, ErrorCode(err)).Inc()
		}
		qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	return err
}

// ErrorCode names a query error for metrics and API responses.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case errors.Is(err, ErrNoHistory):
		return "Unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	default:
		return engine.Code(err)
	}
}
