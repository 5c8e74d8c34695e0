// Package custody provides the fungible value container that pools hold and
// hand back to callers. Values are immutable: every operation returns new
// balances and leaves its inputs untouched.
package custody

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientValue = errors.New("insufficient value")
	ErrAssetMismatch     = errors.New("asset mismatch")
	ErrNonZeroBalance    = errors.New("balance is not zero")
	ErrOverflow          = errors.New("balance overflow")
)

// Asset identifies a fungible token, e.g. "SUI" or "MUSIC".
type Asset string

// Balance is an opaque amount of a single asset.
type Balance struct {
	asset Asset
	value uint64
}

// Zero returns an empty balance of asset.
func Zero(asset Asset) Balance {
	return Balance{asset: asset}
}

// FromDeposit wraps value that the host has already moved into custody
// (a confirmed inbound transfer). It is the only way value enters the system.
func FromDeposit(asset Asset, value uint64) Balance {
	return Balance{asset: asset, value: value}
}

func (b Balance) Asset() Asset  { return b.asset }
func (b Balance) Value() uint64 { return b.value }
func (b Balance) IsZero() bool  { return b.value == 0 }

// Split takes amount out of b and returns what is left and the piece.
func (b Balance) Split(amount uint64) (remainder, piece Balance, err error) {
	if amount > b.value {
		return b, Zero(b.asset), fmt.Errorf("%w: split %d from %d %s", ErrInsufficientValue, amount, b.value, b.asset)
	}
	return Balance{asset: b.asset, value: b.value - amount}, Balance{asset: b.asset, value: amount}, nil
}

// Join merges o into b.
func (b Balance) Join(o Balance) (Balance, error) {
	if b.asset != o.asset {
		return b, fmt.Errorf("%w: joining %s into %s", ErrAssetMismatch, o.asset, b.asset)
	}
	sum := b.value + o.value
	if sum < b.value {
		return b, fmt.Errorf("%w: %d + %d %s", ErrOverflow, b.value, o.value, b.asset)
	}
	return Balance{asset: b.asset, value: sum}, nil
}

// DestroyZero consumes an empty balance. Non-empty balances cannot be
// discarded.
func DestroyZero(b Balance) error {
	if !b.IsZero() {
		return fmt.Errorf("%w: %d %s", ErrNonZeroBalance, b.value, b.asset)
	}
	return nil
}

func (b Balance) String() string {
	return fmt.Sprintf("%d %s", b.value, b.asset)
}
