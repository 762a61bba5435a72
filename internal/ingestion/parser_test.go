package ingestion_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"StableLedger/internal/event"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rawFromJSON(t *testing.T, eventType string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func TestParseDepositCollateralAndMint(t *testing.T) {
	userID := "660e8400-e29b-41d4-a716-446655440001"
	payload := map[string]interface{}{
		"request_id":        "550e8400-e29b-41d4-a716-446655440000",
		"account":           "user:" + userID,
		"nonce":             3,
		"timestamp":         "2026-03-01T12:00:00Z",
		"asset":             "WETH",
		"collateral_amount": "10000000000000000000",
		"mint_amount":       "0x56bc75e2d63100000",
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "DepositCollateralAndMint", payload), "DepositCollateralAndMint")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dm, ok := evt.(*event.DepositCollateralAndMint)
	if !ok {
		t.Fatalf("expected *event.DepositCollateralAndMint, got %T", evt)
	}
	if dm.Account != ledger.UserAddress(uuid.MustParse(userID)) {
		t.Errorf("account: got %s", dm.Account)
	}
	if dm.Nonce != 3 {
		t.Errorf("nonce: got %d, want 3", dm.Nonce)
	}
	if dm.CollateralAmount.Dec() != "10000000000000000000" {
		t.Errorf("collateral_amount: got %s", dm.CollateralAmount.Dec())
	}
	// 100e18 in hex
	if dm.MintAmount.Dec() != "100000000000000000000" {
		t.Errorf("mint_amount: got %s", dm.MintAmount.Dec())
	}
	if !dm.Timestamp.Equal(ts) {
		t.Errorf("timestamp: got %v", dm.Timestamp)
	}
	if dm.Partition() != "account:user:"+userID {
		t.Errorf("partition: got %s", dm.Partition())
	}
	if dm.EventType() != event.EventTypeDepositCollateralAndMint {
		t.Errorf("event type: got %v", dm.EventType())
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"feed":       "ETH/USD",
		"answer":     int64(200_000_000_000),
		"round_id":   int64(42),
		"updated_at": ts.UnixMicro(),
	}

	evt, err := ingestion.ParseEvent("PriceUpdate", rawFromJSON(t, "PriceUpdate", payload).Data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pu := evt.(*event.PriceUpdate)
	if pu.Answer != 200_000_000_000 || pu.RoundID != 42 {
		t.Errorf("got answer=%d round=%d", pu.Answer, pu.RoundID)
	}
	if pu.IdempotencyKey() != "ETH/USD:price:42" {
		t.Errorf("idempotency key: got %s", pu.IdempotencyKey())
	}
	if !pu.EventTime().Equal(ts) {
		t.Errorf("event time: got %v", pu.EventTime())
	}
}

// The event log stores json.Marshal of the typed event; replay decodes it
// through ParseEvent and must get the same command back.
func TestParseEvent_DecodesLoggedPayload(t *testing.T) {
	header := event.ActionHeader{
		RequestID: uuid.New(),
		Account:   ledger.UserAddress(uuid.New()),
		Nonce:     7,
		Timestamp: ts,
	}
	events := []event.Event{
		&event.WalletFunded{
			FundingID: uuid.New(),
			Account:   header.Account,
			Asset:     "WETH",
			Amount:    uint256.NewInt(5),
			Sequence:  9,
			Timestamp: ts,
		},
		&event.Liquidate{
			ActionHeader: header,
			Asset:        "WETH",
			Target:       ledger.UserAddress(uuid.New()),
			DebtToCover:  uint256.MustFromDecimal("100000000000000000000"),
		},
		&event.RedeemCollateralForStable{
			ActionHeader:     header,
			Asset:            "WBTC",
			CollateralAmount: uint256.NewInt(1),
			BurnAmount:       uint256.NewInt(0),
		},
	}

	for _, want := range events {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal %T: %v", want, err)
		}
		got, err := ingestion.ParseEvent(want.EventType().String(), data)
		if err != nil {
			t.Fatalf("parse %T: %v", want, err)
		}
		again, _ := json.Marshal(got)
		if string(again) != string(data) {
			t.Errorf("%T: payload changed\n got %s\nwant %s", want, again, data)
		}
		if got.IdempotencyKey() != want.IdempotencyKey() {
			t.Errorf("%T: idempotency key %s != %s", want, got.IdempotencyKey(), want.IdempotencyKey())
		}
	}
}

func TestParseEvent_MissingFields(t *testing.T) {
	account := "user:" + uuid.NewString()
	tests := []struct {
		name      string
		eventType string
		payload   map[string]interface{}
		field     string
	}{
		{
			name:      "missing request id",
			eventType: "MintStable",
			payload:   map[string]interface{}{"account": account, "nonce": 0, "timestamp": ts, "amount": "1"},
			field:     "request_id",
		},
		{
			name:      "missing amount",
			eventType: "MintStable",
			payload:   map[string]interface{}{"request_id": uuid.NewString(), "account": account, "nonce": 0, "timestamp": ts},
			field:     "amount",
		},
		{
			name:      "missing timestamp",
			eventType: "BurnStable",
			payload:   map[string]interface{}{"request_id": uuid.NewString(), "account": account, "nonce": 0, "amount": "1"},
			field:     "timestamp",
		},
		{
			name:      "missing target",
			eventType: "Liquidate",
			payload: map[string]interface{}{
				"request_id": uuid.NewString(), "account": account, "nonce": 0, "timestamp": ts,
				"asset": "WETH", "debt_to_cover": "1",
			},
			field: "target",
		},
		{
			name:      "missing funding id",
			eventType: "WalletFunded",
			payload:   map[string]interface{}{"account": account, "asset": "WETH", "amount": "1", "sequence": 0, "timestamp": ts},
			field:     "funding_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseEvent(tt.eventType, rawFromJSON(t, tt.eventType, tt.payload).Data)
			if !errors.Is(err, ingestion.ErrMissingField) {
				t.Fatalf("expected ErrMissingField, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestParseEvent_ZeroAmountReachesEngine(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": uuid.NewString(),
		"account":    "user:" + uuid.NewString(),
		"nonce":      0,
		"timestamp":  ts,
		"amount":     "0",
	}
	evt, err := ingestion.ParseEvent("MintStable", rawFromJSON(t, "MintStable", payload).Data)
	if err != nil {
		t.Fatalf("zero amount is a domain rejection, not a decode error: %v", err)
	}
	if !evt.(*event.MintStable).Amount.IsZero() {
		t.Error("expected zero amount")
	}
}

func TestParseEvent_Rejects(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		_, err := ingestion.ParseEvent("TradeFill", []byte(`{}`))
		if !errors.Is(err, ingestion.ErrUnknownEventType) {
			t.Fatalf("expected ErrUnknownEventType, got %v", err)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := ingestion.ParseEvent("PriceUpdate",
			[]byte(`{"feed":"ETH/USD","answer":1,"round_id":1,"updated_at":1,"extra":true}`))
		if err == nil {
			t.Fatal("expected error for unknown field")
		}
	})

	t.Run("system account", func(t *testing.T) {
		payload := map[string]interface{}{
			"request_id": uuid.NewString(),
			"account":    "system:engine",
			"nonce":      0,
			"timestamp":  ts,
			"amount":     "1",
		}
		_, err := ingestion.ParseEvent("BurnStable", rawFromJSON(t, "BurnStable", payload).Data)
		if err == nil || !strings.Contains(err.Error(), "user address") {
			t.Fatalf("expected user address error, got %v", err)
		}
	})

	t.Run("non-positive round", func(t *testing.T) {
		_, err := ingestion.ParseEvent("PriceUpdate",
			[]byte(`{"feed":"ETH/USD","answer":1,"round_id":0,"updated_at":1}`))
		if err == nil {
			t.Fatal("expected error for round 0")
		}
	})

	t.Run("malformed amount", func(t *testing.T) {
		_, err := ingestion.Amount("12abc")
		if err == nil {
			t.Fatal("expected error")
		}
	})
}
