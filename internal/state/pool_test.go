package state_test

import (
	"math"
	"testing"

	"StakeLedger/internal/custody"
	fpmath "StakeLedger/internal/math"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	shareAsset  custody.Asset = "MUSIC"
	rewardAsset custody.Asset = "SUI"

	t0 int64 = 1_700_000_000
)

type fixture struct {
	pool  *state.Pool
	admin state.AdminCap
}

func newPool(t *testing.T, rate uint64) fixture {
	t.Helper()
	pool, admin, err := state.CreatePool(state.PoolParams{
		ID:                  uuid.New(),
		AdminCapID:          uuid.New(),
		ShareAsset:          shareAsset,
		RewardAsset:         rewardAsset,
		ShareDecimals:       6,
		RewardRatePerSecond: rate,
		ReleaseTime:         t0,
	}, t0-10)
	require.NoError(t, err)
	return fixture{pool: pool, admin: admin}
}

func (f fixture) position() *state.Position {
	return state.NewPosition(uuid.New(), f.pool.ID, uuid.New())
}

func stake(t *testing.T, f fixture, pos *state.Position, amount uint64, now int64) uint64 {
	t.Helper()
	reward, err := state.Stake(f.pool, pos, custody.FromDeposit(shareAsset, amount), now)
	require.NoError(t, err)
	assert.Equal(t, rewardAsset, reward.Asset())
	return reward.Value()
}

func fund(t *testing.T, f fixture, amount uint64, now int64) {
	t.Helper()
	require.NoError(t, state.Fund(f.pool, custody.FromDeposit(rewardAsset, amount), now))
}

func pending(t *testing.T, f fixture, pos *state.Position, now int64) uint64 {
	t.Helper()
	v, err := state.Pending(f.pool, pos, now)
	require.NoError(t, err)
	return v
}

// ============================================================================
// Test: CreatePool
// ============================================================================

func TestCreatePool(t *testing.T) {
	f := newPool(t, 100)

	assert.Equal(t, fpmath.DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}, f.pool.Decimals)
	assert.Equal(t, t0, f.pool.LastUpdateTime)
	assert.True(t, f.pool.Accumulator.IsZero())
	assert.Zero(t, f.pool.StakedTotal)
	assert.Zero(t, f.pool.RewardBalance())
	assert.Equal(t, f.pool.ID, f.admin.PoolID())
	assert.Equal(t, f.pool.OwnerAuthorityID, f.admin.ID())
}

func TestCreatePool_ReleaseNotInFuture(t *testing.T) {
	for _, release := range []int64{t0, t0 - 1} {
		_, _, err := state.CreatePool(state.PoolParams{
			ID:          uuid.New(),
			ShareAsset:  shareAsset,
			RewardAsset: rewardAsset,
			ReleaseTime: release,
		}, t0)
		assert.ErrorIs(t, err, state.ErrInvalidReleaseTime, "release=%d", release)
	}
}

// ============================================================================
// Test: worked example
// ============================================================================

func TestStakeFundUnstake_Example(t *testing.T) {
	f := newPool(t, 100)
	pos := f.position()

	assert.Zero(t, stake(t, f, pos, 1_000_000, t0))
	fund(t, f, 10_000, t0)

	assert.Equal(t, uint64(5_000), pending(t, f, pos, t0+50))

	shares, reward, err := state.Unstake(f.pool, pos, 500_000, t0+50)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), shares.Value())
	assert.Equal(t, shareAsset, shares.Asset())
	assert.Equal(t, uint64(5_000), reward.Value())

	assert.Zero(t, pending(t, f, pos, t0+50))
	assert.Equal(t, uint64(500_000), pos.Amount)
	assert.Equal(t, uint64(2_500), pos.RewardDebt.Uint64())
	assert.Equal(t, uint64(500_000), f.pool.StakedTotal)
	assert.Equal(t, uint64(500_000), f.pool.ShareCustody())
	assert.Equal(t, uint64(5_000), f.pool.RewardBalance())
}

// ============================================================================
// Test: AdvanceTime
// ============================================================================

func TestAdvanceTime_BeforeRelease(t *testing.T) {
	f := newPool(t, 100)
	pos := f.position()
	stake(t, f, pos, 1_000, t0-5)
	fund(t, f, 10_000, t0-5)

	require.NoError(t, f.pool.AdvanceTime(t0-1))
	assert.Equal(t, t0, f.pool.LastUpdateTime)
	assert.True(t, f.pool.Accumulator.IsZero())

	// Only time after release accrues.
	assert.Equal(t, uint64(1_000), pending(t, f, pos, t0+10))
}

func TestAdvanceTime_NotForward(t *testing.T) {
	f := newPool(t, 100)
	pos := f.position()
	stake(t, f, pos, 1_000_000, t0)
	fund(t, f, 10_000, t0)

	require.NoError(t, f.pool.AdvanceTime(t0+20))
	acc := f.pool.Accumulator

	require.NoError(t, f.pool.AdvanceTime(t0+10))
	assert.Equal(t, t0+20, f.pool.LastUpdateTime)
	assert.True(t, acc.Eq(&f.pool.Accumulator))
}

func TestAdvanceTime_CappedByRewardBalance(t *testing.T) {
	f := newPool(t, 100)
	pos := f.position()
	stake(t, f, pos, 1_000_000, t0)
	fund(t, f, 300, t0)

	assert.Equal(t, uint64(300), pending(t, f, pos, t0+50))
}

func TestPending_DoesNotMutate(t *testing.T) {
	f := newPool(t, 100)
	pos := f.position()
	stake(t, f, pos, 1_000_000, t0)
	fund(t, f, 10_000, t0)

	before := f.pool.Record()
	pending(t, f, pos, t0+50)
	assert.Equal(t, before, f.pool.Record())
}

// ============================================================================
// Test: errors and atomicity
// ============================================================================

func TestStake_AccountPoolMismatch(t *testing.T) {
	a := newPool(t, 100)
	b := newPool(t, 100)
	pos := b.position()

	_, err := state.Stake(a.pool, pos, custody.FromDeposit(shareAsset, 10), t0)
	assert.ErrorIs(t, err, state.ErrAccountPoolMismatch)
	assert.Zero(t, a.pool.StakedTotal)
	assert.Zero(t, pos.Amount)
}

func TestStake_WrongAsset(t *testing.T) {
	f := newPool(t, 100)
	_, err := state.Stake(f.pool, f.position(), custody.FromDeposit(rewardAsset, 10), t0)
	assert.ErrorIs(t, err, state.ErrAssetMismatch)
}

func TestStake_StakedTotalOverflow(t *testing.T) {
	f := newPool(t, 100)
	stake(t, f, f.position(), math.MaxUint64, t0)

	pos := f.position()
	_, err := state.Stake(f.pool, pos, custody.FromDeposit(shareAsset, 1), t0)
	assert.ErrorIs(t, err, state.ErrArithmeticDefect)
	assert.Equal(t, uint64(math.MaxUint64), f.pool.StakedTotal)
	assert.Zero(t, pos.Amount)
}

func TestUnstake_Insufficient(t *testing.T) {
	f := newPool(t, 100)
	pos := f.position()
	stake(t, f, pos, 100, t0)
	fund(t, f, 10_000, t0)

	before, posBefore := f.pool.Record(), pos.Record()
	_, _, err := state.Unstake(f.pool, pos, 101, t0+50)
	assert.ErrorIs(t, err, state.ErrInsufficientStakedAmount)
	assert.Equal(t, before, f.pool.Record())
	assert.Equal(t, posBefore, pos.Record())
}

func TestUnstake_AccountPoolMismatch(t *testing.T) {
	a := newPool(t, 100)
	b := newPool(t, 100)
	pos := b.position()
	stake(t, b, pos, 100, t0)

	_, _, err := state.Unstake(a.pool, pos, 10, t0)
	assert.ErrorIs(t, err, state.ErrAccountPoolMismatch)
	assert.Equal(t, uint64(100), pos.Amount)
}

func TestPending_OtherPool(t *testing.T) {
	a := newPool(t, 100)
	b := newPool(t, 100)
	pos := b.position()
	stake(t, b, pos, 1_000_000, t0)
	fund(t, b, 10_000, t0)

	assert.Zero(t, pending(t, a, pos, t0+50))
}

func TestFund_WrongAsset(t *testing.T) {
	f := newPool(t, 100)
	err := state.Fund(f.pool, custody.FromDeposit(shareAsset, 10), t0)
	assert.ErrorIs(t, err, state.ErrAssetMismatch)
	assert.Zero(t, f.pool.RewardBalance())
}

// ============================================================================
// Test: SetRewardRate
// ============================================================================

func TestSetRewardRate(t *testing.T) {
	f := newPool(t, 100)
	pos := f.position()
	stake(t, f, pos, 1_000_000, t0)
	fund(t, f, 100_000, t0)

	require.NoError(t, state.SetRewardRate(f.pool, f.admin, 200, t0+10))
	assert.Equal(t, uint64(200), f.pool.RewardRatePerSecond)

	// 10s at 100 then 10s at 200.
	assert.Equal(t, uint64(3_000), pending(t, f, pos, t0+20))
}

func TestSetRewardRate_Unauthorized(t *testing.T) {
	a := newPool(t, 100)
	b := newPool(t, 100)

	err := state.SetRewardRate(a.pool, b.admin, 1, t0)
	assert.ErrorIs(t, err, state.ErrUnauthorized)
	assert.Equal(t, uint64(100), a.pool.RewardRatePerSecond)
}

// ============================================================================
// Test: properties
// ============================================================================

func TestConservation(t *testing.T) {
	f := newPool(t, 37)
	alice, bob := f.position(), f.position()

	var paid uint64
	paid += stake(t, f, alice, 333_333, t0)
	fund(t, f, 5_000, t0+1)
	paid += stake(t, f, bob, 777_777, t0+7)
	fund(t, f, 2_500, t0+19)
	paid += stake(t, f, alice, 1, t0+40)

	_, r, err := state.Unstake(f.pool, bob, 700_000, t0+90)
	require.NoError(t, err)
	paid += r.Value()
	_, r, err = state.Unstake(f.pool, alice, alice.Amount, t0+400)
	require.NoError(t, err)
	paid += r.Value()

	assert.Equal(t, uint64(7_500), paid+f.pool.RewardBalance())
	assert.Equal(t, alice.Amount+bob.Amount, f.pool.StakedTotal)
	assert.Equal(t, f.pool.StakedTotal, f.pool.ShareCustody())
}

func TestAccumulatorMonotonic(t *testing.T) {
	f := newPool(t, 1_000)
	pos := f.position()
	fund(t, f, 1_000_000, t0)

	prev := f.pool.Accumulator
	now := t0
	for i := 0; i < 20; i++ {
		now += int64(i % 3)
		if i%2 == 0 {
			stake(t, f, pos, uint64(1_000*(i+1)), now)
		} else {
			_, _, err := state.Unstake(f.pool, pos, pos.Amount/2, now)
			require.NoError(t, err)
		}
		assert.GreaterOrEqual(t, f.pool.Accumulator.Cmp(&prev), 0)
		prev = f.pool.Accumulator
	}
}

func TestSettlementCompleteness(t *testing.T) {
	f := newPool(t, 100)
	pos := f.position()
	stake(t, f, pos, 1_000_000, t0)
	fund(t, f, 10_000, t0)

	assert.Equal(t, uint64(1_500), stake(t, f, pos, 3, t0+15))
	assert.Zero(t, pending(t, f, pos, t0+15))

	_, _, err := state.Unstake(f.pool, pos, 7, t0+30)
	require.NoError(t, err)
	assert.Zero(t, pending(t, f, pos, t0+30))
}

func TestProportionality(t *testing.T) {
	f := newPool(t, 100)
	alice, bob := f.position(), f.position()
	stake(t, f, alice, 250_000, t0)
	stake(t, f, bob, 750_000, t0)
	fund(t, f, 10_000, t0)

	assert.Equal(t, uint64(1_000), pending(t, f, alice, t0+40))
	assert.Equal(t, uint64(3_000), pending(t, f, bob, t0+40))
}

func TestIdlePoolNeutrality(t *testing.T) {
	f := newPool(t, 100)
	fund(t, f, 1_000, t0)

	require.NoError(t, f.pool.AdvanceTime(t0+100))
	assert.Equal(t, t0+100, f.pool.LastUpdateTime)
	assert.True(t, f.pool.Accumulator.IsZero())
	assert.Equal(t, uint64(1_000), f.pool.RewardBalance())

	pos := f.position()
	stake(t, f, pos, 1_000_000, t0+100)
	assert.Zero(t, pending(t, f, pos, t0+100))
	assert.Equal(t, uint64(1_000), pending(t, f, pos, t0+110))
}

func TestZeroInputs(t *testing.T) {
	f := newPool(t, 100)
	pos := f.position()
	stake(t, f, pos, 1_000_000, t0)
	fund(t, f, 10_000, t0)

	// A zero stake only settles.
	assert.Equal(t, uint64(1_000), stake(t, f, pos, 0, t0+10))
	assert.Equal(t, uint64(1_000_000), pos.Amount)

	// A zero unstake only settles.
	shares, reward, err := state.Unstake(f.pool, pos, 0, t0+20)
	require.NoError(t, err)
	assert.True(t, shares.IsZero())
	assert.Equal(t, uint64(1_000), reward.Value())
	assert.Equal(t, uint64(1_000_000), pos.Amount)

	// Zero funding moves only the clock.
	fund(t, f, 0, t0+30)
	assert.Equal(t, uint64(8_000), f.pool.RewardBalance())
	assert.Equal(t, uint64(1_000), pending(t, f, pos, t0+30))

	// Zero elapsed time accrues nothing.
	assert.Equal(t, uint64(1_000), pending(t, f, pos, t0+30))
}

func TestZeroRate(t *testing.T) {
	f := newPool(t, 0)
	pos := f.position()
	stake(t, f, pos, 1_000_000, t0)
	fund(t, f, 10_000, t0)

	assert.Zero(t, pending(t, f, pos, t0+1_000))
}
