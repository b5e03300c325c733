// internal/math/fixedpoint.go
package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	PriceDecimals       = 30
	FundingRateDecimals = 6
	ShareDecimals       = 18

	// BasisPointsDivisor: 10_000 bps = 100%
	BasisPointsDivisor = 10_000
)

var (
	ErrOverflow     = errors.New("arithmetic overflow")
	ErrUnderflow    = errors.New("arithmetic underflow")
	ErrDivideByZero = errors.New("division by zero")
)

var (
	// PricePrecision is 1e30. USD amounts and prices share this scale.
	PricePrecision = Pow10(PriceDecimals)

	// FundingRatePrecision is 1e6.
	FundingRatePrecision = U64(1_000_000)

	BasisPoints = U64(BasisPointsDivisor)

	// OneUSD is 1 USD at price precision.
	OneUSD = PricePrecision
)

// U64 lifts a uint64 into a 256-bit value.
func U64(v uint64) uint256.Int {
	return *uint256.NewInt(v)
}

// Pow10 returns 10^n. n must be <= 77.
func Pow10(n uint) uint256.Int {
	if n > 77 {
		panic(fmt.Sprintf("FATAL: 10^%d does not fit in 256 bits", n))
	}
	z := U64(1)
	ten := uint256.NewInt(10)
	for i := uint(0); i < n; i++ {
		z.Mul(&z, ten)
	}
	return z
}

// USD returns whole dollars at price precision (v * 1e30).
func USD(v uint64) uint256.Int {
	z, err := Mul(U64(v), PricePrecision)
	if err != nil {
		panic(err) // unreachable: 2^64 * 1e30 < 2^256
	}
	return z
}

// Add returns a + b or ErrOverflow.
func Add(a, b uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if _, overflow := z.AddOverflow(&a, &b); overflow {
		return uint256.Int{}, fmt.Errorf("%w: %s + %s", ErrOverflow, a.Dec(), b.Dec())
	}
	return z, nil
}

// Sub returns a - b or ErrUnderflow when b > a.
func Sub(a, b uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if _, underflow := z.SubOverflow(&a, &b); underflow {
		return uint256.Int{}, fmt.Errorf("%w: %s - %s", ErrUnderflow, a.Dec(), b.Dec())
	}
	return z, nil
}

// Mul returns a * b or ErrOverflow.
func Mul(a, b uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if _, overflow := z.MulOverflow(&a, &b); overflow {
		return uint256.Int{}, fmt.Errorf("%w: %s * %s", ErrOverflow, a.Dec(), b.Dec())
	}
	return z, nil
}

// Div returns floor(a / b) or ErrDivideByZero.
func Div(a, b uint256.Int) (uint256.Int, error) {
	if b.IsZero() {
		return uint256.Int{}, fmt.Errorf("%w: %s / 0", ErrDivideByZero, a.Dec())
	}
	var z uint256.Int
	z.Div(&a, &b)
	return z, nil
}

// MulDiv returns floor(a * b / d) using a 512-bit intermediate product.
// Only a quotient that does not fit in 256 bits overflows.
func MulDiv(a, b, d uint256.Int) (uint256.Int, error) {
	if d.IsZero() {
		return uint256.Int{}, fmt.Errorf("%w: %s * %s / 0", ErrDivideByZero, a.Dec(), b.Dec())
	}
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(&a, &b, &d); overflow {
		return uint256.Int{}, fmt.Errorf("%w: %s * %s / %s", ErrOverflow, a.Dec(), b.Dec(), d.Dec())
	}
	return z, nil
}

// ApplyBps returns v * (10_000 + bps) / 10_000 when up, v * (10_000 - bps) / 10_000 otherwise.
func ApplyBps(v uint256.Int, bps uint64, up bool) (uint256.Int, error) {
	factor := U64(BasisPointsDivisor)
	if up {
		var err error
		if factor, err = Add(factor, U64(bps)); err != nil {
			return uint256.Int{}, err
		}
	} else {
		var err error
		if factor, err = Sub(factor, U64(bps)); err != nil {
			return uint256.Int{}, err
		}
	}
	return MulDiv(v, factor, BasisPoints)
}

// AbsDiff returns |a - b|.
func AbsDiff(a, b uint256.Int) uint256.Int {
	var z uint256.Int
	if a.Lt(&b) {
		z.Sub(&b, &a)
	} else {
		z.Sub(&a, &b)
	}
	return z
}

func Min(a, b uint256.Int) uint256.Int {
	if a.Lt(&b) {
		return a
	}
	return b
}

func Max(a, b uint256.Int) uint256.Int {
	if a.Gt(&b) {
		return a
	}
	return b
}

// ToDecimal renders a fixed-point value with the given number of decimals.
func ToDecimal(v uint256.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), -decimals)
}

// FormatUSD renders a 1e30 USD amount, e.g. "1500.25".
func FormatUSD(v uint256.Int) string {
	return ToDecimal(v, PriceDecimals).String()
}

// FromDecimal parses a human decimal string ("12.5") into a fixed-point value.
// Digits beyond the given precision are truncated.
func FromDecimal(s string, decimals int32) (uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	if d.IsNegative() {
		return uint256.Int{}, fmt.Errorf("%w: negative value %q", ErrUnderflow, s)
	}
	scaled := d.Shift(decimals).Truncate(0).BigInt()
	z, overflow := uint256.FromBig(scaled)
	if overflow {
		return uint256.Int{}, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return *z, nil
}

// ParseUint parses a base-10 integer string.
func ParseUint(s string) (uint256.Int, error) {
	if s == "" {
		return uint256.Int{}, nil
	}
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("parse uint256 %q: %w", s, err)
	}
	return *z, nil
}
