package state

import (
	"errors"
	"fmt"
	"sort"

	"StableLedger/internal/ledger"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientCollateral = errors.New("collateral balance too low")
	ErrInsufficientDebt       = errors.New("burn exceeds outstanding debt")
	ErrLedgerOverflow         = errors.New("ledger amount overflow")
)

// PositionBook is the collateral ledger and debt ledger of every account.
// Mutations are recorded in the shared ChangeLog.
// Not thread-safe; only accessed from the single-threaded deterministic core.
type PositionBook struct {
	positions map[ledger.Address]*Position
	log       *ledger.ChangeLog
}

func NewPositionBook(log *ledger.ChangeLog) *PositionBook {
	return &PositionBook{
		positions: make(map[ledger.Address]*Position),
		log:       log,
	}
}

// GetPosition returns a copy of the account's position, or nil if the account
// has never been touched
func (pb *PositionBook) GetPosition(account ledger.Address) *Position {
	pos := pb.positions[account]
	if pos == nil {
		return nil
	}
	return pos.Clone()
}

func (pb *PositionBook) CollateralOf(account ledger.Address, asset ledger.AssetID) *uint256.Int {
	if pos := pb.positions[account]; pos != nil {
		return pos.CollateralOf(asset)
	}
	return new(uint256.Int)
}

func (pb *PositionBook) DebtOf(account ledger.Address) *uint256.Int {
	if pos := pb.positions[account]; pos != nil {
		return pos.DebtMinted.Clone()
	}
	return new(uint256.Int)
}

// AddCollateral increases collateral[account][asset]
func (pb *PositionBook) AddCollateral(account ledger.Address, asset ledger.AssetID, amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(pb.CollateralOf(account, asset), amount)
	if overflow {
		return fmt.Errorf("%w: collateral %s of %s", ErrLedgerOverflow, asset, account)
	}
	pb.setCollateral(account, asset, sum)
	return nil
}

// RemoveCollateral decreases collateral[account][asset]; it fails rather than
// going below zero
func (pb *PositionBook) RemoveCollateral(account ledger.Address, asset ledger.AssetID, amount *uint256.Int) error {
	have := pb.CollateralOf(account, asset)
	remaining, underflow := new(uint256.Int).SubOverflow(have, amount)
	if underflow {
		return fmt.Errorf("%w: %s has %s %s, needs %s",
			ErrInsufficientCollateral, account, have.Dec(), asset, amount.Dec())
	}
	pb.setCollateral(account, asset, remaining)
	return nil
}

// AddDebt increases debtMinted
func (pb *PositionBook) AddDebt(account ledger.Address, amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(pb.DebtOf(account), amount)
	if overflow {
		return fmt.Errorf("%w: debt of %s", ErrLedgerOverflow, account)
	}
	pb.setDebt(account, sum)
	return nil
}

// RemoveDebt decreases debtMinted; burning more than is owed fails
func (pb *PositionBook) RemoveDebt(account ledger.Address, amount *uint256.Int) error {
	have := pb.DebtOf(account)
	remaining, underflow := new(uint256.Int).SubOverflow(have, amount)
	if underflow {
		return fmt.Errorf("%w: %s owes %s, burning %s", ErrInsufficientDebt, account, have.Dec(), amount.Dec())
	}
	pb.setDebt(account, remaining)
	return nil
}

func (pb *PositionBook) getOrCreate(account ledger.Address) *Position {
	pos := pb.positions[account]
	if pos == nil {
		pos = newPosition(account)
		pb.positions[account] = pos
		pb.record(func() { delete(pb.positions, account) })
	}
	return pos
}

func (pb *PositionBook) setCollateral(account ledger.Address, asset ledger.AssetID, v *uint256.Int) {
	pos := pb.getOrCreate(account)
	prev, existed := pos.Collateral[asset]
	pos.Collateral[asset] = v
	pb.record(func() {
		if existed {
			pos.Collateral[asset] = prev
		} else {
			delete(pos.Collateral, asset)
		}
	})
}

func (pb *PositionBook) setDebt(account ledger.Address, v *uint256.Int) {
	pos := pb.getOrCreate(account)
	prev := pos.DebtMinted
	pos.DebtMinted = v
	pb.record(func() { pos.DebtMinted = prev })
}

func (pb *PositionBook) record(undo func()) {
	if pb.log != nil {
		pb.log.Record(undo)
	}
}

// Accounts returns every known account, sorted by address string
func (pb *PositionBook) Accounts() []ledger.Address {
	accounts := make([]ledger.Address, 0, len(pb.positions))
	for account := range pb.positions {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].String() < accounts[j].String()
	})
	return accounts
}

// GetAllPositions returns copies of all positions in Accounts order
func (pb *PositionBook) GetAllPositions() []*Position {
	accounts := pb.Accounts()
	out := make([]*Position, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, pb.positions[account].Clone())
	}
	return out
}

// TotalCollateral sums one asset's deposits across all accounts
func (pb *PositionBook) TotalCollateral(asset ledger.AssetID) *uint256.Int {
	total := new(uint256.Int)
	for _, pos := range pb.positions {
		if v, ok := pos.Collateral[asset]; ok {
			total.Add(total, v)
		}
	}
	return total
}

// TotalDebt sums debt across all accounts
func (pb *PositionBook) TotalDebt() *uint256.Int {
	total := new(uint256.Int)
	for _, pos := range pb.positions {
		total.Add(total, pos.DebtMinted)
	}
	return total
}

// SetPosition restores a position directly (restore path only, not journaled)
func (pb *PositionBook) SetPosition(pos *Position) {
	pb.positions[pos.Account] = pos.Clone()
}
