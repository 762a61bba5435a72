package query

import (
	"encoding/json"
	"time"

	fpmath "StableLedger/internal/math"

	"github.com/holiman/uint256"
)

// Amount is a fixed-point value rendered twice: the exact raw integer and a
// human decimal at the value's precision.
type Amount struct {
	Raw     string `json:"raw"`
	Decimal string `json:"decimal"`
}

func newAmount(v *uint256.Int, cfg fpmath.DecimalConfig) Amount {
	if v == nil {
		v = new(uint256.Int)
	}
	return Amount{Raw: v.Dec(), Decimal: fpmath.FormatFixed(v, cfg)}
}

func valueAmount(v *uint256.Int) Amount {
	return newAmount(v, fpmath.ValueConfig)
}

// CollateralBalance is one deposited asset of a position.
type CollateralBalance struct {
	Asset    string `json:"asset"`
	Amount   Amount `json:"amount"`
	ValueUsd Amount `json:"value_usd"`
}

// AccountResponse is the live view of one account's position.
type AccountResponse struct {
	Account            string              `json:"account"`
	DebtMinted         Amount              `json:"debt_minted"`
	CollateralValueUsd Amount              `json:"collateral_value_usd"`
	HealthFactor       Amount              `json:"health_factor"`
	NoDebt             bool                `json:"no_debt"`
	Status             string              `json:"status"`
	Collateral         []CollateralBalance `json:"collateral"`
	AsOfSequence       int64               `json:"as_of_sequence"`
}

// HealthFactorResponse answers the health factor query.
type HealthFactorResponse struct {
	Account         string `json:"account"`
	HealthFactor    Amount `json:"health_factor"`
	NoDebt          bool   `json:"no_debt"`
	MinHealthFactor Amount `json:"min_health_factor"`
	Liquidatable    bool   `json:"liquidatable"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// ConversionResponse is a token/USD conversion at the latest price.
type ConversionResponse struct {
	Asset        string `json:"asset"`
	TokenAmount  Amount `json:"token_amount"`
	UsdValue     Amount `json:"usd_value"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// SolvencyResponse compares engine-held collateral with the stable supply.
type SolvencyResponse struct {
	CollateralValueUsd Amount            `json:"collateral_value_usd"`
	StableSupply       Amount            `json:"stable_supply"`
	Solvent            bool              `json:"solvent"`
	Custody            map[string]Amount `json:"custody"`
	AsOfSequence       int64             `json:"as_of_sequence"`
}

// PriceResponse is the latest round of one feed.
type PriceResponse struct {
	Feed         string    `json:"feed"`
	Asset        string    `json:"asset,omitempty"`
	Answer       Amount    `json:"answer"`
	RoundID      int64     `json:"round_id"`
	UpdatedAt    time.Time `json:"updated_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// TokenBalanceResponse is a wallet balance from the token ledger.
type TokenBalanceResponse struct {
	Account      string `json:"account"`
	Asset        string `json:"asset"`
	Balance      Amount `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string    `json:"journal_id"`
	BatchID       string    `json:"batch_id"`
	EventRef      string    `json:"event_ref"`
	Sequence      int64     `json:"sequence"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	AssetID       string    `json:"asset_id"`
	Amount        string    `json:"amount"`
	JournalType   string    `json:"journal_type"`
	Timestamp     time.Time `json:"timestamp"`
}

// LiquidationRecord is one completed liquidation from the projection.
type LiquidationRecord struct {
	Sequence             int64     `json:"sequence"`
	Liquidator           string    `json:"liquidator"`
	Target               string    `json:"target"`
	Asset                string    `json:"asset"`
	DebtCovered          Amount    `json:"debt_covered"`
	CollateralSeized     string    `json:"collateral_seized"`
	Bonus                string    `json:"bonus"`
	StartingHealthFactor Amount    `json:"starting_health_factor"`
	EndingHealthFactor   Amount    `json:"ending_health_factor"`
	Timestamp            time.Time `json:"timestamp"`
}

// EventRecord is one entry of the event log.
type EventRecord struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Outcome        string          `json:"outcome"`
	ErrorCode      string          `json:"error_code,omitempty"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ProjectedPosition is the read-model view of a position, which may trail
// live state by the projection lag.
type ProjectedPosition struct {
	Account      string            `json:"account"`
	Collateral   map[string]string `json:"collateral"`
	Debt         string            `json:"debt"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	InvariantError  string  `json:"invariant_error,omitempty"`
	LiveSequence    int64   `json:"live_sequence"`
	ProjectionLag   int64   `json:"projection_lag"`
}
