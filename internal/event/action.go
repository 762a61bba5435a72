package event

import (
	"time"

	"StableLedger/internal/ledger"

	"github.com/google/uuid"
)

// ActionHeader is carried by every account-originated command. The nonce is
// the account's own sequence; the core rejects gaps and replays.
type ActionHeader struct {
	RequestID uuid.UUID      `json:"request_id"`
	Account   ledger.Address `json:"account"`
	Nonce     int64          `json:"nonce"`
	Timestamp time.Time      `json:"timestamp"`
}

func (h *ActionHeader) IdempotencyKey() string {
	return h.RequestID.String()
}

func (h *ActionHeader) Partition() string {
	return AccountPartition(h.Account)
}

func (h *ActionHeader) SourceSequence() int64 {
	return h.Nonce
}

func (h *ActionHeader) EventTime() time.Time {
	return h.Timestamp
}

func AccountPartition(account ledger.Address) string {
	return "account:" + account.String()
}
