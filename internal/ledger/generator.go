package ledger

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator stamps journal entries with the context of the event that
// produced them.
type JournalGenerator struct {
	sequence  int64
	eventRef  string
	timestamp int64
	batch     *Batch
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence}
}

// Begin opens a new batch for the event about to be applied.
func (jg *JournalGenerator) Begin(eventRef string, sequence int64, timestamp int64) {
	jg.sequence = sequence
	jg.eventRef = eventRef
	jg.timestamp = timestamp
	jg.batch = &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// Take returns the current batch and closes it.
func (jg *JournalGenerator) Take() *Batch {
	batch := jg.currentBatch()
	jg.batch = nil
	return batch
}

// NewJournal builds an entry moving amount from credit to debit.
func (jg *JournalGenerator) NewJournal(
	debit, credit AccountKey,
	amount *uint256.Int,
	journalType JournalType,
) Journal {
	batch := jg.currentBatch()
	return Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      jg.eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount.Clone(),
		JournalType:   journalType,
		Timestamp:     jg.timestamp,
	}
}

func (jg *JournalGenerator) currentBatch() *Batch {
	if jg.batch == nil {
		jg.Begin(jg.eventRef, jg.sequence, jg.timestamp)
	}
	return jg.batch
}

func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}
