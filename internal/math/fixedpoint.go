package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when an intermediate or final value does not fit
	// its destination width.
	ErrOverflow = errors.New("fixed-point overflow")

	// ErrDivisionByZero is returned for a zero denominator.
	ErrDivisionByZero = errors.New("fixed-point division by zero")

	// ErrNegativePending is returned when a position's entitlement is below its
	// reward debt. It can only happen if the accumulator moved backwards or the
	// debt was computed against the wrong pool.
	ErrNegativePending = errors.New("pending reward is negative")

	ErrInvalidDecimals = errors.New("invalid decimal precision")
)

// MaxDecimals is the largest precision whose scale still fits in a uint64.
const MaxDecimals = 19

// DecimalConfig defines the fixed-point precision of a token.
type DecimalConfig struct {
	DecimalPrecision uint8  // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

// NewDecimalConfig builds the config for a token with the given decimals.
func NewDecimalConfig(decimals uint8) (DecimalConfig, error) {
	scale, err := ScalingFactor(decimals)
	if err != nil {
		return DecimalConfig{}, err
	}
	return DecimalConfig{DecimalPrecision: decimals, Scale: scale}, nil
}

// ScalingFactor returns 10^decimals.
func ScalingFactor(decimals uint8) (uint64, error) {
	if decimals > MaxDecimals {
		return 0, fmt.Errorf("%w: %d (max %d)", ErrInvalidDecimals, decimals, MaxDecimals)
	}
	scale := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		scale *= 10
	}
	return scale, nil
}

// MulDivDown computes floor(a * b / d) with a 512-bit intermediate product.
// The quotient must fit in 256 bits.
func MulDivDown(a, b, d *uint256.Int) (uint256.Int, error) {
	if d.IsZero() {
		return uint256.Int{}, ErrDivisionByZero
	}
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(a, b, d); overflow {
		return uint256.Int{}, ErrOverflow
	}
	return z, nil
}

// AddChecked returns a + b or ErrOverflow.
func AddChecked(a, b *uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if _, overflow := z.AddOverflow(a, b); overflow {
		return uint256.Int{}, ErrOverflow
	}
	return z, nil
}

// SubChecked returns a - b, or ErrNegativePending when b > a.
func SubChecked(a, b *uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if _, underflow := z.SubOverflow(a, b); underflow {
		return uint256.Int{}, ErrNegativePending
	}
	return z, nil
}

// ToUint64 narrows x, failing if it does not fit.
func ToUint64(x *uint256.Int) (uint64, error) {
	if !x.IsUint64() {
		return 0, fmt.Errorf("%w: %s does not fit in 64 bits", ErrOverflow, x.Dec())
	}
	return x.Uint64(), nil
}

// AddUint64 returns a + b, failing on wraparound.
func AddUint64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}

// ParseDecimal parses a base-10 string into a 256-bit value.
// Used for accumulator and debt values stored as text.
func ParseDecimal(s string) (uint256.Int, error) {
	if s == "" {
		return uint256.Int{}, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return *v, nil
}

// FormatDecimal renders x in base 10.
func FormatDecimal(x *uint256.Int) string {
	return x.Dec()
}
