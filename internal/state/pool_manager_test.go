package state_test

import (
	"testing"

	"StakeLedger/internal/custody"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManagedPool(t *testing.T, pm *state.PoolManager) (*state.Pool, state.AdminCap) {
	t.Helper()
	pool, admin, err := pm.CreatePool(state.PoolParams{
		ID:                  uuid.New(),
		AdminCapID:          uuid.New(),
		ShareAsset:          shareAsset,
		RewardAsset:         rewardAsset,
		ShareDecimals:       9,
		RewardRatePerSecond: 10,
		ReleaseTime:         t0,
	}, t0-1)
	require.NoError(t, err)
	return pool, admin
}

func TestPoolManager_CreatePool(t *testing.T) {
	pm := state.NewPoolManager()
	pool, admin := newManagedPool(t, pm)

	got, ok := pm.GetPool(pool.ID)
	require.True(t, ok)
	assert.Same(t, pool, got)

	c, ok := pm.AdminCap(admin.ID())
	require.True(t, ok)
	assert.Equal(t, admin, c)

	_, _, err := pm.CreatePool(state.PoolParams{
		ID:          pool.ID,
		AdminCapID:  uuid.New(),
		ReleaseTime: t0,
	}, t0-1)
	assert.ErrorIs(t, err, state.ErrPoolExists)
}

func TestPoolManager_OpenPosition(t *testing.T) {
	pm := state.NewPoolManager()
	pool, _ := newManagedPool(t, pm)
	owner := uuid.New()

	pos, err := pm.OpenPosition(uuid.New(), pool.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, pool.ID, pos.PoolID)
	assert.Zero(t, pos.Amount)

	found, ok := pm.FindPosition(owner, pool.ID)
	require.True(t, ok)
	assert.Same(t, pos, found)

	_, err = pm.OpenPosition(uuid.New(), pool.ID, owner)
	assert.ErrorIs(t, err, state.ErrPositionExists)

	_, err = pm.OpenPosition(uuid.New(), uuid.New(), owner)
	assert.ErrorIs(t, err, state.ErrPoolNotFound)

	// One position per owner is scoped to the pool.
	other, _ := newManagedPool(t, pm)
	second, err := pm.OpenPosition(uuid.New(), other.ID, owner)
	require.NoError(t, err)
	found, ok = pm.FindPosition(owner, other.ID)
	require.True(t, ok)
	assert.Same(t, second, found)
}

func TestPoolManager_GetAllSorted(t *testing.T) {
	pm := state.NewPoolManager()
	for i := 0; i < 5; i++ {
		pool, _ := newManagedPool(t, pm)
		_, err := pm.OpenPosition(uuid.New(), pool.ID, uuid.New())
		require.NoError(t, err)
	}

	pools := pm.GetAllPools()
	require.Len(t, pools, 5)
	for i := 1; i < len(pools); i++ {
		assert.Less(t, pools[i-1].ID.String(), pools[i].ID.String())
	}
	assert.Len(t, pm.GetAllPositions(), 5)
	assert.Len(t, pm.GetPoolPositions(pools[0].ID), 1)
}

func TestPoolManager_VerifyStakedTotal(t *testing.T) {
	pm := state.NewPoolManager()
	pool, _ := newManagedPool(t, pm)
	a, err := pm.OpenPosition(uuid.New(), pool.ID, uuid.New())
	require.NoError(t, err)
	b, err := pm.OpenPosition(uuid.New(), pool.ID, uuid.New())
	require.NoError(t, err)

	_, err = state.Stake(pool, a, custody.FromDeposit(shareAsset, 40), t0)
	require.NoError(t, err)
	_, err = state.Stake(pool, b, custody.FromDeposit(shareAsset, 2), t0)
	require.NoError(t, err)
	assert.NoError(t, pm.VerifyStakedTotal(pool.ID))

	other, _ := newManagedPool(t, pm)
	c, err := pm.OpenPosition(uuid.New(), other.ID, uuid.New())
	require.NoError(t, err)
	_, err = state.Stake(other, c, custody.FromDeposit(shareAsset, 7), t0)
	require.NoError(t, err)
	assert.NoError(t, pm.VerifyStakedTotal(pool.ID), "positions of another pool are not counted")
	assert.NoError(t, pm.VerifyStakedTotal(other.ID))

	b.Amount++
	assert.Error(t, pm.VerifyStakedTotal(pool.ID))
}

func TestPoolManager_RestoreRoundTrip(t *testing.T) {
	pm := state.NewPoolManager()
	pool, admin := newManagedPool(t, pm)
	pos, err := pm.OpenPosition(uuid.New(), pool.ID, uuid.New())
	require.NoError(t, err)
	_, err = state.Stake(pool, pos, custody.FromDeposit(shareAsset, 1_000_000_000), t0)
	require.NoError(t, err)
	require.NoError(t, state.Fund(pool, custody.FromDeposit(rewardAsset, 5_000), t0))
	require.NoError(t, pool.AdvanceTime(t0+77))

	restored := state.NewPoolManager()
	require.NoError(t, restored.Restore(
		[]state.PoolRecord{pool.Record()},
		[]state.PositionRecord{pos.Record()},
	))

	rp, ok := restored.GetPool(pool.ID)
	require.True(t, ok)
	assert.Equal(t, pool.CanonicalBytes(), rp.CanonicalBytes())
	assert.Equal(t, pool.Record(), rp.Record())

	rpos, ok := restored.FindPosition(pos.Owner, pool.ID)
	require.True(t, ok)
	assert.Equal(t, pos.CanonicalBytes(), rpos.CanonicalBytes())

	// The reissued credential still controls the pool.
	c, ok := restored.AdminCap(admin.ID())
	require.True(t, ok)
	assert.NoError(t, state.SetRewardRate(rp, c, 1, t0+80))
}

func TestPoolManager_RestoreOrphanPosition(t *testing.T) {
	pm := state.NewPoolManager()
	err := pm.Restore(nil, []state.PositionRecord{{ID: uuid.New(), PoolID: uuid.New(), Owner: uuid.New()}})
	assert.ErrorIs(t, err, state.ErrPoolNotFound)
}

func TestPoolFromRecord_BadAccumulator(t *testing.T) {
	_, err := state.PoolFromRecord(state.PoolRecord{ID: uuid.New(), Accumulator: "12abc"})
	assert.Error(t, err)
}
