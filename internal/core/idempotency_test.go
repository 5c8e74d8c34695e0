package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	lru := NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a") // promote a
	lru.Add("c")

	assert.False(t, lru.Contains("b"), "b should have been evicted")
	assert.True(t, lru.Contains("a"))
	assert.True(t, lru.Contains("c"))
	assert.Equal(t, int64(1), lru.Evictions())
}

func TestIdempotencyLRU_WarmKeepsOrder(t *testing.T) {
	lru := NewIdempotencyLRU(3)
	lru.WarmFromKeys([]string{"k1", "k2", "k3", "k4"})

	assert.Equal(t, []string{"k2", "k3", "k4"}, lru.GetAllKeys())
	assert.Equal(t, 3, lru.Size())
}

type stubDB struct {
	dup bool
	err error
}

func (s stubDB) IsDuplicate(string, string) (bool, error) { return s.dup, s.err }

func TestIdempotencyChecker_Tiers(t *testing.T) {
	ic := NewIdempotencyChecker(10, stubDB{dup: true})
	dup, _ := ic.IsDuplicate("Staked", "k", false)
	require.False(t, dup, "replay must not consult postgres")

	dup, tier := ic.IsDuplicate("Staked", "k", true)
	require.True(t, dup)
	require.Equal(t, "postgres", tier)

	dup, tier = ic.IsDuplicate("Staked", "k", true)
	require.True(t, dup)
	require.Equal(t, "lru", tier, "second lookup should hit the LRU")

	ic = NewIdempotencyChecker(10, stubDB{err: errors.New("down")})
	dup, _ = ic.IsDuplicate("Staked", "k", true)
	require.False(t, dup, "a postgres error must not mark the event duplicate")
	assert.Equal(t, int64(1), ic.GetMetrics().GetTier2Errors())
}
