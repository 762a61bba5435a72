package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")
	ErrOverflow     = errors.New("fixedpoint: result exceeds 256 bits")
	ErrNegative     = errors.New("fixedpoint: negative amount")
	ErrFractional   = errors.New("fixedpoint: amount has more decimals than allowed")
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int32        // Number of decimal places
	Scale            *uint256.Int // 10^DecimalPrecision
}

func NewDecimalConfig(precision int32) DecimalConfig {
	return DecimalConfig{DecimalPrecision: precision, Scale: Pow10(uint64(precision))}
}

var (
	// ValueConfig is the engine's internal unit for amounts, USD values and health factors.
	ValueConfig = NewDecimalConfig(18)
	// FeedConfig is the oracle's native answer precision.
	FeedConfig = NewDecimalConfig(8)
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncate (default for collateral valuation)
	RoundUp
)

func (m RoundingMode) String() string {
	switch m {
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return "unknown"
	}
}

// Pow10 returns 10^n. Panics if n > 77.
func Pow10(n uint64) *uint256.Int {
	if n > 77 {
		panic(fmt.Sprintf("fixedpoint: 10^%d does not fit in 256 bits", n))
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(n))
}

// MaxValue is the largest representable amount, used as the "no debt" health factor.
func MaxValue() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// MulDiv computes x * y / d with a 512-bit intermediate so the multiply always
// happens before the divide.
func MulDiv(x, y, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}

	result, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}

	if mode == RoundUp {
		remainder := new(uint256.Int).MulMod(x, y, d)
		if !remainder.IsZero() {
			if _, carry := result.AddOverflow(result, uint256.NewInt(1)); carry {
				return nil, ErrOverflow
			}
		}
	}

	return result, nil
}

// Mul multiplies with overflow detection.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	result, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return result, nil
}

// Add adds with overflow detection.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	result, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return result, nil
}

// FormatFixed renders a fixed-point integer as a decimal string, e.g. 15e18 at
// precision 18 becomes "15".
func FormatFixed(v *uint256.Int, cfg DecimalConfig) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -cfg.DecimalPrecision).String()
}

// ParseFixed parses a human decimal ("0.05") into its fixed-point integer.
func ParseFixed(s string, cfg DecimalConfig) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, ErrNegative
	}

	scaled := d.Shift(cfg.DecimalPrecision)
	if !scaled.IsInteger() {
		return nil, ErrFractional
	}

	result, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return result, nil
}
