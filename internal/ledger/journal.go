package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeFund     JournalType = iota // external -> wallet
	JournalTypeTransfer                    // wallet -> wallet
	JournalTypeMint                        // external -> wallet, stable unit only
	JournalTypeBurn                        // wallet -> external
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeFund:
		return "fund"
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID    // Unique identifier
	BatchID       uuid.UUID    // Groups the entries of one action
	EventRef      string       // Idempotency key of source event
	Sequence      int64        // Global event sequence
	DebitAccount  AccountKey   // Account receiving debit (balance increases)
	CreditAccount AccountKey   // Account receiving credit (balance decreases)
	AssetID       AssetID      // Asset being transferred
	Amount        *uint256.Int // Raw token units (ALWAYS positive)
	JournalType   JournalType  // Entry type
	Timestamp     int64        // Versioned input timestamp (epoch microseconds)
}

// Batch represents the set of journal entries produced by one action
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each entry is balanced by construction: one positive amount moves from the
// credit account to the debit account of the same asset. External-side legs
// change supply instead of a tracked balance.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if err := j.Validate(); err != nil {
			return err
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
	}
	return nil
}

// Validate checks a single entry
func (j *Journal) Validate() error {
	if j.Amount == nil || j.Amount.IsZero() {
		return fmt.Errorf("journal %s: %w", j.JournalID, ErrNonPositiveAmount)
	}
	if j.DebitAccount == j.CreditAccount {
		return fmt.Errorf("journal %s: %w", j.JournalID, ErrSelfTransfer)
	}
	if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
		return fmt.Errorf("journal %s mixes assets %s/%s/%s",
			j.JournalID, j.DebitAccount.AssetID, j.CreditAccount.AssetID, j.AssetID)
	}
	if j.DebitAccount.Owner.IsExternal() && j.CreditAccount.Owner.IsExternal() {
		return fmt.Errorf("journal %s has external on both sides", j.JournalID)
	}
	return nil
}

func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Journals) == 0
}
