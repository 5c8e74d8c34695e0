package projection

import (
	"sync"

	"StakeLedger/internal/core"

	"github.com/google/uuid"
)

// PayoutHistory keeps recent reward payouts in memory, newest last, for
// queries that should not wait on the projection tables.
type PayoutHistory struct {
	mu       sync.RWMutex
	entries  []core.Payout
	capacity int
}

func NewPayoutHistory(capacity int) *PayoutHistory {
	return &PayoutHistory{
		entries:  make([]core.Payout, 0, capacity),
		capacity: capacity,
	}
}

// Add records a payout, dropping the oldest entry when full.
func (h *PayoutHistory) Add(p core.Payout) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.capacity > 0 && len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, p)
}

// ByPosition returns up to limit payouts to a position, newest first.
func (h *PayoutHistory) ByPosition(positionID uuid.UUID, limit int) []core.Payout {
	return h.filter(limit, func(p core.Payout) bool { return p.PositionID == positionID })
}

// ByPool returns up to limit payouts from a pool, newest first.
func (h *PayoutHistory) ByPool(poolID uuid.UUID, limit int) []core.Payout {
	return h.filter(limit, func(p core.Payout) bool { return p.PoolID == poolID })
}

func (h *PayoutHistory) filter(limit int, keep func(core.Payout) bool) []core.Payout {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]core.Payout, 0)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if keep(h.entries[i]) {
			result = append(result, h.entries[i])
		}
	}
	return result
}
