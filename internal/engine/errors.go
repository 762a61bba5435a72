package engine

import (
	"errors"
	"fmt"

	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/holiman/uint256"
)

var (
	ErrConfigurationMismatch   = state.ErrConfigurationMismatch
	ErrNeedsMoreThanZero       = errors.New("engine: amount must be more than zero")
	ErrNotAllowedAsset         = errors.New("engine: asset is not accepted as collateral")
	ErrTransferFailed          = errors.New("engine: transfer failed")
	ErrMintFailed              = errors.New("engine: mint failed")
	ErrHealthFactorBroken      = errors.New("engine: health factor below minimum")
	ErrHealthFactorOk          = errors.New("engine: health factor is ok")
	ErrHealthFactorNotImproved = errors.New("engine: health factor not improved")
	ErrInvalidPrice            = errors.New("engine: invalid price")

	ErrStalePrice             = oracle.ErrStalePrice
	ErrUnknownFeed            = oracle.ErrUnknownFeed
	ErrDivideByZero           = fpmath.ErrDivideByZero
	ErrOverflow               = fpmath.ErrOverflow
	ErrInsufficientCollateral = state.ErrInsufficientCollateral
	ErrInsufficientDebt       = state.ErrInsufficientDebt
)

// ErrZeroAmount is the ledger-level name of ErrNeedsMoreThanZero
var ErrZeroAmount = ErrNeedsMoreThanZero

// HealthFactorBrokenError carries the health factor an action would have left.
type HealthFactorBrokenError struct {
	Account      ledger.Address
	HealthFactor *uint256.Int
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("%s: %s at %s", ErrHealthFactorBroken, e.Account,
		fpmath.FormatFixed(e.HealthFactor, fpmath.ValueConfig))
}

func (e *HealthFactorBrokenError) Unwrap() error {
	return ErrHealthFactorBroken
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrConfigurationMismatch, "ConfigurationMismatch"},
	{ErrNeedsMoreThanZero, "NeedsMoreThanZero"},
	{ErrNotAllowedAsset, "NotAllowedAsset"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrMintFailed, "MintFailed"},
	{ErrHealthFactorBroken, "HealthFactorBroken"},
	{ErrHealthFactorOk, "HealthFactorOk"},
	{ErrHealthFactorNotImproved, "HealthFactorNotImproved"},
	{ErrStalePrice, "StalePrice"},
	{ErrUnknownFeed, "UnknownFeed"},
	{ErrInvalidPrice, "InvalidPrice"},
	{ErrDivideByZero, "DivideByZero"},
	{ErrOverflow, "Overflow"},
	{ErrInsufficientCollateral, "InsufficientCollateral"},
	{ErrInsufficientDebt, "InsufficientDebt"},
}

// Code returns the stable name of an engine error for logs, metrics and the
// event log. Unknown errors map to "Internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
