package ledger

import (
	"errors"

	"github.com/holiman/uint256"
)

var ErrNotMintable = errors.New("ledger: token is not mintable by this holder")

// Token is one holder's handle on a ledger asset: Transfer and Burn act on the
// holder's own balance, TransferFrom moves between any two wallets on the
// holder's behalf. Each call reports success as a bool plus the reason.
type Token struct {
	tracker  *BalanceTracker
	asset    AssetID
	holder   Address
	mintable bool
}

// NewToken returns a handle for a collateral asset
func NewToken(tracker *BalanceTracker, asset AssetID, holder Address) *Token {
	return &Token{tracker: tracker, asset: asset, holder: holder}
}

// NewMintableToken returns a handle whose holder owns the asset's issuance
func NewMintableToken(tracker *BalanceTracker, asset AssetID, owner Address) *Token {
	return &Token{tracker: tracker, asset: asset, holder: owner, mintable: true}
}

func (t *Token) Asset() AssetID {
	return t.asset
}

func (t *Token) Holder() Address {
	return t.holder
}

func (t *Token) BalanceOf(owner Address) *uint256.Int {
	return t.tracker.GetBalance(NewAccountKey(owner, t.asset))
}

func (t *Token) TotalSupply() *uint256.Int {
	return t.tracker.GetSupply(t.asset)
}

// TransferFrom moves amount between wallets. A zero amount is a successful no-op.
func (t *Token) TransferFrom(from, to Address, amount *uint256.Int) (bool, error) {
	if amount != nil && amount.IsZero() {
		return true, nil
	}
	if err := t.tracker.Move(from, to, t.asset, amount, JournalTypeTransfer); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Token) Transfer(to Address, amount *uint256.Int) (bool, error) {
	return t.TransferFrom(t.holder, to, amount)
}

func (t *Token) Mint(to Address, amount *uint256.Int) (bool, error) {
	if !t.mintable {
		return false, ErrNotMintable
	}
	if amount != nil && amount.IsZero() {
		return true, nil
	}
	if err := t.tracker.Move(ExternalAddress, to, t.asset, amount, JournalTypeMint); err != nil {
		return false, err
	}
	return true, nil
}

// Burn destroys amount from the holder's own balance.
func (t *Token) Burn(amount *uint256.Int) error {
	if !t.mintable {
		return ErrNotMintable
	}
	if amount != nil && amount.IsZero() {
		return nil
	}
	return t.tracker.Move(t.holder, ExternalAddress, t.asset, amount, JournalTypeBurn)
}

// Fund credits a wallet from outside the ledger (bridged-in collateral).
func (t *Token) Fund(to Address, amount *uint256.Int) error {
	if t.mintable {
		return ErrNotMintable
	}
	return t.tracker.Move(ExternalAddress, to, t.asset, amount, JournalTypeFund)
}
