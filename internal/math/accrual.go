package math

import (
	"github.com/holiman/uint256"
)

// Emission returns min(available, rate * elapsed): the reward that may be
// distributed over elapsed seconds without promising unfunded tokens.
func Emission(rate, elapsed, available uint64) uint64 {
	if rate == 0 || elapsed == 0 || available == 0 {
		return 0
	}
	var wanted uint256.Int
	// 64x64 bits always fits in 256 bits.
	wanted.Mul(uint256.NewInt(rate), uint256.NewInt(elapsed))
	if wanted.IsUint64() && wanted.Uint64() < available {
		return wanted.Uint64()
	}
	return available
}

// AccumulatorDelta returns floor(emittable * scale / stakedTotal), the
// increase in reward-per-share for one time-advance step. An empty pool
// accrues nothing.
func AccumulatorDelta(emittable, scale, stakedTotal uint64) (uint256.Int, error) {
	if stakedTotal == 0 || emittable == 0 {
		return uint256.Int{}, nil
	}
	return MulDivDown(uint256.NewInt(emittable), uint256.NewInt(scale), uint256.NewInt(stakedTotal))
}

// Entitlement returns floor(amount * accumulator / scale): the total reward a
// stake of amount has earned since the accumulator was zero.
func Entitlement(amount uint64, accumulator *uint256.Int, scale uint64) (uint256.Int, error) {
	if amount == 0 || accumulator.IsZero() {
		return uint256.Int{}, nil
	}
	return MulDivDown(uint256.NewInt(amount), accumulator, uint256.NewInt(scale))
}

// PendingReward returns Entitlement(amount, accumulator) - rewardDebt.
func PendingReward(amount uint64, accumulator, rewardDebt *uint256.Int, scale uint64) (uint64, error) {
	entitled, err := Entitlement(amount, accumulator, scale)
	if err != nil {
		return 0, err
	}
	pending, err := SubChecked(&entitled, rewardDebt)
	if err != nil {
		return 0, err
	}
	return ToUint64(&pending)
}

// MinUint64 returns the smaller of a and b.
func MinUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
