package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrNonPositiveAmount   = errors.New("ledger: amount must be positive")
	ErrSelfTransfer        = errors.New("ledger: debit and credit account are the same")
	ErrBalanceOverflow     = errors.New("ledger: balance overflow")
)

// BalanceTracker maintains in-memory token balances and per-asset supply.
// Every mutation is recorded in the shared ChangeLog so a failed action can be
// rolled back together with the engine's own bookkeeping.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
	supply   map[AssetID]*uint256.Int
	gen      *JournalGenerator
	log      *ChangeLog
}

func NewBalanceTracker(log *ChangeLog, gen *JournalGenerator) *BalanceTracker {
	if gen == nil {
		gen = NewJournalGenerator(0)
	}
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
		supply:   make(map[AssetID]*uint256.Int),
		gen:      gen,
		log:      log,
	}
}

func (bt *BalanceTracker) Generator() *JournalGenerator {
	return bt.gen
}

// Move builds and applies a single journal entry for a token movement.
func (bt *BalanceTracker) Move(from, to Address, asset AssetID, amount *uint256.Int, journalType JournalType) error {
	if amount == nil || amount.IsZero() {
		return ErrNonPositiveAmount
	}
	j := bt.gen.NewJournal(NewAccountKey(to, asset), NewAccountKey(from, asset), amount, journalType)
	return bt.ApplyJournal(j)
}

// ApplyJournal applies a single journal entry to balances. The entry is either
// applied in full or not at all.
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	if err := j.Validate(); err != nil {
		return err
	}

	var newCredit, newDebit, newSupply *uint256.Int

	if !j.CreditAccount.Owner.IsExternal() {
		have := bt.GetBalance(j.CreditAccount)
		remaining, underflow := new(uint256.Int).SubOverflow(have, j.Amount)
		if underflow {
			return fmt.Errorf("%w: %s has %s, needs %s",
				ErrInsufficientBalance, j.CreditAccount.AccountPath(), have.Dec(), j.Amount.Dec())
		}
		newCredit = remaining
	}

	if !j.DebitAccount.Owner.IsExternal() {
		sum, overflow := new(uint256.Int).AddOverflow(bt.GetBalance(j.DebitAccount), j.Amount)
		if overflow {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, j.DebitAccount.AccountPath())
		}
		newDebit = sum
	}

	supply := bt.GetSupply(j.AssetID)
	switch {
	case j.CreditAccount.Owner.IsExternal():
		sum, overflow := new(uint256.Int).AddOverflow(supply, j.Amount)
		if overflow {
			return fmt.Errorf("%w: supply of %s", ErrBalanceOverflow, j.AssetID)
		}
		newSupply = sum
	case j.DebitAccount.Owner.IsExternal():
		remaining, underflow := new(uint256.Int).SubOverflow(supply, j.Amount)
		if underflow {
			return fmt.Errorf("%w: supply of %s", ErrInsufficientBalance, j.AssetID)
		}
		newSupply = remaining
	}

	if newCredit != nil {
		bt.setBalance(j.CreditAccount, newCredit)
	}
	if newDebit != nil {
		bt.setBalance(j.DebitAccount, newDebit)
	}
	if newSupply != nil {
		bt.setSupply(j.AssetID, newSupply)
	}

	batch := bt.gen.currentBatch()
	batch.Journals = append(batch.Journals, j)
	bt.record(func() {
		batch.Journals = batch.Journals[:len(batch.Journals)-1]
	})

	return nil
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		if err := bt.ApplyJournal(j); err != nil {
			return err
		}
	}

	return nil
}

func (bt *BalanceTracker) setBalance(key AccountKey, v *uint256.Int) {
	prev, existed := bt.balances[key]
	bt.balances[key] = v
	bt.record(func() {
		if existed {
			bt.balances[key] = prev
		} else {
			delete(bt.balances, key)
		}
	})
}

func (bt *BalanceTracker) setSupply(asset AssetID, v *uint256.Int) {
	prev, existed := bt.supply[asset]
	bt.supply[asset] = v
	bt.record(func() {
		if existed {
			bt.supply[asset] = prev
		} else {
			delete(bt.supply, asset)
		}
	})
}

func (bt *BalanceTracker) record(undo func()) {
	if bt.log != nil {
		bt.log.Record(undo)
	}
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if v, ok := bt.balances[key]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// GetSupply returns a copy of the circulating supply of an asset
func (bt *BalanceTracker) GetSupply(asset AssetID) *uint256.Int {
	if v, ok := bt.supply[asset]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// ComputeGlobalBalance sums all tracked balances per asset (must equal supply)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*uint256.Int {
	totals := make(map[AssetID]*uint256.Int)

	for key, balance := range bt.balances {
		total, ok := totals[key.AssetID]
		if !ok {
			total = new(uint256.Int)
			totals[key.AssetID] = total
		}
		total.Add(total, balance)
	}

	return totals
}

// Assets returns every asset with a supply entry, sorted
func (bt *BalanceTracker) Assets() []AssetID {
	assets := make([]AssetID, 0, len(bt.supply))
	for asset := range bt.supply {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	return assets
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	snapshot := make(map[AccountKey]*uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v.Clone()
	}
	return snapshot
}

// SupplySnapshot returns a copy of all supplies
func (bt *BalanceTracker) SupplySnapshot() map[AssetID]*uint256.Int {
	snapshot := make(map[AssetID]*uint256.Int, len(bt.supply))
	for k, v := range bt.supply {
		snapshot[k] = v.Clone()
	}
	return snapshot
}

// SetBalance directly sets a balance (restore path only, not journaled)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *uint256.Int) {
	bt.balances[key] = balance.Clone()
}

// SetSupply directly sets a supply (restore path only, not journaled)
func (bt *BalanceTracker) SetSupply(asset AssetID, supply *uint256.Int) {
	bt.supply[asset] = supply.Clone()
}
