package engine

import (
	"errors"
	"fmt"

	"StableLedger/internal/event"
	"StableLedger/internal/ledger"

	"github.com/holiman/uint256"
)

// Every exported action runs atomically: on any error all ledger, token and
// event effects of the call are rolled back. Ledgers are updated before any
// token transfer, and health is re-checked after the transfers.

// DepositCollateral locks amount of asset from the account's wallet.
func (e *Engine) DepositCollateral(account ledger.Address, asset ledger.AssetID, amount *uint256.Int) error {
	return e.atomically(func() error {
		return e.depositCollateral(account, asset, amount)
	})
}

// MintStable mints amount of the stable unit to the account against its collateral.
func (e *Engine) MintStable(account ledger.Address, amount *uint256.Int) error {
	return e.atomically(func() error {
		return e.mintStable(account, amount)
	})
}

// DepositCollateralAndMint deposits then mints; either half failing reverts both.
func (e *Engine) DepositCollateralAndMint(
	account ledger.Address,
	asset ledger.AssetID,
	collateralAmount, mintAmount *uint256.Int,
) error {
	return e.atomically(func() error {
		if err := e.depositCollateral(account, asset, collateralAmount); err != nil {
			return err
		}
		return e.mintStable(account, mintAmount)
	})
}

// RedeemCollateral withdraws collateral to the account's wallet.
func (e *Engine) RedeemCollateral(account ledger.Address, asset ledger.AssetID, amount *uint256.Int) error {
	return e.atomically(func() error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		if err := e.redeemCollateral(asset, amount, account, account); err != nil {
			return err
		}
		return e.revertIfHealthFactorIsBroken(account)
	})
}

// RedeemCollateralForStable burns debt first, which improves the ratio, and
// then redeems collateral.
func (e *Engine) RedeemCollateralForStable(
	account ledger.Address,
	asset ledger.AssetID,
	collateralAmount, burnAmount *uint256.Int,
) error {
	return e.atomically(func() error {
		if err := requirePositive(collateralAmount); err != nil {
			return err
		}
		if err := requirePositive(burnAmount); err != nil {
			return err
		}
		if err := e.burnStable(burnAmount, account, account); err != nil {
			return err
		}
		if err := e.redeemCollateral(asset, collateralAmount, account, account); err != nil {
			return err
		}
		return e.revertIfHealthFactorIsBroken(account)
	})
}

// BurnStable repays amount of the account's own debt.
func (e *Engine) BurnStable(account ledger.Address, amount *uint256.Int) error {
	return e.atomically(func() error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		if err := e.burnStable(amount, account, account); err != nil {
			return err
		}
		// Burning cannot lower the ratio; checked anyway.
		return e.revertIfHealthFactorIsBroken(account)
	})
}

func (e *Engine) depositCollateral(account ledger.Address, asset ledger.AssetID, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	token, err := e.collateralToken(asset)
	if err != nil {
		return err
	}
	// Every deposited asset must be priceable; freshness is not checked
	if _, err := e.priceOf(asset, false); err != nil {
		return err
	}

	if err := e.book.AddCollateral(account, asset, amount); err != nil {
		return err
	}

	ok, err := token.TransferFrom(account, e.address, amount)
	if err := transferResult("deposit", ok, err); err != nil {
		return err
	}

	e.emit(event.CollateralDeposited{Account: account, Asset: asset, Amount: amount.Clone()})
	return nil
}

func (e *Engine) mintStable(account ledger.Address, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}

	if err := e.book.AddDebt(account, amount); err != nil {
		return err
	}

	ok, err := e.stable.Mint(account, amount)
	if !ok || err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailed, causeOf(ok, err))
	}

	if err := e.revertIfHealthFactorIsBroken(account); err != nil {
		return err
	}

	e.emit(event.StableMinted{Account: account, Amount: amount.Clone()})
	return nil
}

// redeemCollateral decrements from's ledger before sending the tokens to to.
func (e *Engine) redeemCollateral(asset ledger.AssetID, amount *uint256.Int, from, to ledger.Address) error {
	token, err := e.collateralToken(asset)
	if err != nil {
		return err
	}

	if err := e.book.RemoveCollateral(from, asset, amount); err != nil {
		return err
	}

	ok, err := token.Transfer(to, amount)
	if err := transferResult("redeem", ok, err); err != nil {
		return err
	}

	e.emit(event.CollateralRedeemed{From: from, To: to, Asset: asset, Amount: amount.Clone()})
	return nil
}

// burnStable reduces onBehalfOf's debt, pulls the stable unit from payer into
// the engine and burns it.
func (e *Engine) burnStable(amount *uint256.Int, onBehalfOf, payer ledger.Address) error {
	if err := e.book.RemoveDebt(onBehalfOf, amount); err != nil {
		return err
	}

	ok, err := e.stable.TransferFrom(payer, e.address, amount)
	if err := transferResult("burn", ok, err); err != nil {
		return err
	}

	if err := e.stable.Burn(amount); err != nil {
		return fmt.Errorf("%w: burn: %v", ErrMintFailed, err)
	}

	e.emit(event.StableBurned{OnBehalfOf: onBehalfOf, From: payer, Amount: amount.Clone()})
	return nil
}

func transferResult(op string, ok bool, err error) error {
	if ok && err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrTransferFailed, op, causeOf(ok, err))
}

func causeOf(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("token returned false")
	}
	return nil
}
