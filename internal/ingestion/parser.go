package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"StableLedger/internal/event"
	"StableLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingField     = errors.New("missing required field")
)

// ParseRawEvent converts a raw NATS message into a typed event.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	return ParseEvent(eventType, raw.Data)
}

// ParseEvent decodes the JSON wire form of an event. It is also the decoder for
// EventEnvelope.Payload, so the event log can be replayed through it.
func ParseEvent(eventType string, data []byte) (event.Event, error) {
	var evt event.Event
	switch event.ParseEventType(eventType) {
	case event.EventTypeWalletFunded:
		evt = &event.WalletFunded{}
	case event.EventTypePriceUpdate:
		evt = &event.PriceUpdate{}
	case event.EventTypeDepositCollateral:
		evt = &event.DepositCollateral{}
	case event.EventTypeDepositCollateralAndMint:
		evt = &event.DepositCollateralAndMint{}
	case event.EventTypeRedeemCollateral:
		evt = &event.RedeemCollateral{}
	case event.EventTypeRedeemCollateralForStable:
		evt = &event.RedeemCollateralForStable{}
	case event.EventTypeMintStable:
		evt = &event.MintStable{}
	case event.EventTypeBurnStable:
		evt = &event.BurnStable{}
	case event.EventTypeLiquidate:
		evt = &event.Liquidate{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(evt); err != nil {
		return nil, fmt.Errorf("parse %s: %w", eventType, err)
	}
	if err := validate(evt); err != nil {
		return nil, fmt.Errorf("parse %s: %w", eventType, err)
	}
	return evt, nil
}

// validate checks structural completeness only. Domain rules such as
// zero amounts or unknown assets are decided by the engine and recorded as
// rejected outcomes.
func validate(evt event.Event) error {
	switch e := evt.(type) {
	case *event.WalletFunded:
		if e.FundingID == uuid.Nil {
			return missing("funding_id")
		}
		if err := userAccount("account", e.Account); err != nil {
			return err
		}
		if e.Timestamp.IsZero() {
			return missing("timestamp")
		}
		return requireAll(field{"asset", e.Asset != ""}, field{"amount", e.Amount != nil})

	case *event.PriceUpdate:
		if e.Feed == "" {
			return missing("feed")
		}
		if e.RoundID <= 0 {
			return fmt.Errorf("round_id must be positive, got %d", e.RoundID)
		}
		if e.UpdatedAt <= 0 {
			return missing("updated_at")
		}
		return nil

	case *event.DepositCollateral:
		return checkAction(&e.ActionHeader,
			field{"asset", e.Asset != ""}, field{"amount", e.Amount != nil})
	case *event.DepositCollateralAndMint:
		return checkAction(&e.ActionHeader,
			field{"asset", e.Asset != ""},
			field{"collateral_amount", e.CollateralAmount != nil},
			field{"mint_amount", e.MintAmount != nil})
	case *event.RedeemCollateral:
		return checkAction(&e.ActionHeader,
			field{"asset", e.Asset != ""}, field{"amount", e.Amount != nil})
	case *event.RedeemCollateralForStable:
		return checkAction(&e.ActionHeader,
			field{"asset", e.Asset != ""},
			field{"collateral_amount", e.CollateralAmount != nil},
			field{"burn_amount", e.BurnAmount != nil})
	case *event.MintStable:
		return checkAction(&e.ActionHeader, field{"amount", e.Amount != nil})
	case *event.BurnStable:
		return checkAction(&e.ActionHeader, field{"amount", e.Amount != nil})
	case *event.Liquidate:
		if err := userAccount("target", e.Target); err != nil {
			return err
		}
		return checkAction(&e.ActionHeader,
			field{"asset", e.Asset != ""}, field{"debt_to_cover", e.DebtToCover != nil})
	}
	return nil
}

type field struct {
	name    string
	present bool
}

func checkAction(h *event.ActionHeader, fields ...field) error {
	if h.RequestID == uuid.Nil {
		return missing("request_id")
	}
	if err := userAccount("account", h.Account); err != nil {
		return err
	}
	if h.Nonce < 0 {
		return fmt.Errorf("nonce must not be negative, got %d", h.Nonce)
	}
	if h.Timestamp.IsZero() {
		return missing("timestamp")
	}
	return requireAll(fields...)
}

func requireAll(fields ...field) error {
	for _, f := range fields {
		if !f.present {
			return missing(f.name)
		}
	}
	return nil
}

// Only user wallets act or get funded; system holders are never addressed
// from outside.
func userAccount(name string, addr ledger.Address) error {
	if addr.IsZero() {
		return missing(name)
	}
	if addr.Scope != ledger.AccountScopeUser {
		return fmt.Errorf("%s must be a user address, got %s", name, addr)
	}
	return nil
}

func missing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}

// Amount parses a decimal or 0x-prefixed hex base-unit amount.
func Amount(s string) (*uint256.Int, error) {
	v := new(uint256.Int)
	if err := v.UnmarshalText([]byte(s)); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}
