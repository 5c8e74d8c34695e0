package math_test

import (
	"math"
	"testing"

	fpmath "StakeLedger/internal/math"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: ScalingFactor
// ============================================================================

func TestScalingFactor(t *testing.T) {
	cases := []struct {
		decimals uint8
		want     uint64
	}{
		{0, 1},
		{6, 1_000_000},
		{9, 1_000_000_000},
		{19, 10_000_000_000_000_000_000},
	}
	for _, tc := range cases {
		got, err := fpmath.ScalingFactor(tc.decimals)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "decimals=%d", tc.decimals)
	}

	_, err := fpmath.ScalingFactor(20)
	assert.ErrorIs(t, err, fpmath.ErrInvalidDecimals)
}

func TestNewDecimalConfig(t *testing.T) {
	cfg, err := fpmath.NewDecimalConfig(9)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), cfg.DecimalPrecision)
	assert.Equal(t, uint64(1_000_000_000), cfg.Scale)
}

// ============================================================================
// Test: Emission
// ============================================================================

func TestEmission_RateBound(t *testing.T) {
	assert.Equal(t, uint64(5_000), fpmath.Emission(100, 50, 10_000))
}

func TestEmission_BalanceBound(t *testing.T) {
	assert.Equal(t, uint64(10_000), fpmath.Emission(100, 500, 10_000))
}

func TestEmission_ZeroInputs(t *testing.T) {
	assert.Zero(t, fpmath.Emission(0, 50, 10_000))
	assert.Zero(t, fpmath.Emission(100, 0, 10_000))
	assert.Zero(t, fpmath.Emission(100, 50, 0))
}

func TestEmission_NoOverflow(t *testing.T) {
	// rate * elapsed exceeds 64 bits; the balance caps it.
	got := fpmath.Emission(math.MaxUint64, math.MaxUint64, 123)
	assert.Equal(t, uint64(123), got)
}

// ============================================================================
// Test: AccumulatorDelta / Entitlement / PendingReward
// ============================================================================

func TestAccumulatorDelta(t *testing.T) {
	delta, err := fpmath.AccumulatorDelta(5_000, 1_000_000, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), delta.Uint64())
}

func TestAccumulatorDelta_Truncates(t *testing.T) {
	// 10 * 1 / 3 = 3.33 -> 3
	delta, err := fpmath.AccumulatorDelta(10, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), delta.Uint64())
}

func TestAccumulatorDelta_EmptyPool(t *testing.T) {
	delta, err := fpmath.AccumulatorDelta(5_000, 1_000_000, 0)
	require.NoError(t, err)
	assert.True(t, delta.IsZero())
}

func TestAccumulatorDelta_WideIntermediate(t *testing.T) {
	// emittable * scale overflows 64 bits but the quotient is exact in 256.
	delta, err := fpmath.AccumulatorDelta(math.MaxUint64, 10_000_000_000_000_000_000, 1)
	require.NoError(t, err)

	want := new(uint256.Int).Mul(uint256.NewInt(math.MaxUint64), uint256.NewInt(10_000_000_000_000_000_000))
	assert.Equal(t, want.Dec(), delta.Dec())
}

func TestEntitlement(t *testing.T) {
	acc := uint256.NewInt(5_000)
	got, err := fpmath.Entitlement(500_000, acc, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500), got.Uint64())
}

func TestPendingReward(t *testing.T) {
	acc := uint256.NewInt(5_000)
	debt := uint256.NewInt(1_000)
	got, err := fpmath.PendingReward(1_000_000, acc, debt, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(4_000), got)
}

func TestPendingReward_NegativeIsDefect(t *testing.T) {
	acc := uint256.NewInt(1)
	debt := uint256.NewInt(10)
	_, err := fpmath.PendingReward(1_000_000, acc, debt, 1_000_000)
	assert.ErrorIs(t, err, fpmath.ErrNegativePending)
}

func TestMulDivDown_DivisionByZero(t *testing.T) {
	_, err := fpmath.MulDivDown(uint256.NewInt(1), uint256.NewInt(1), new(uint256.Int))
	assert.ErrorIs(t, err, fpmath.ErrDivisionByZero)
}

func TestAddChecked_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := fpmath.AddChecked(max, uint256.NewInt(1))
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestAddUint64_Overflow(t *testing.T) {
	_, err := fpmath.AddUint64(math.MaxUint64, 1)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)

	sum, err := fpmath.AddUint64(40, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), sum)
}

func TestDecimalRoundTrip(t *testing.T) {
	v := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	s := fpmath.FormatDecimal(v)

	back, err := fpmath.ParseDecimal(s)
	require.NoError(t, err)
	assert.True(t, back.Eq(v))

	zero, err := fpmath.ParseDecimal("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}
