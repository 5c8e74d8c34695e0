package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// PoolStakedShares is the ledger view of a pool's share custody.
func (bt *BalanceTracker) PoolStakedShares(poolID uuid.UUID) int64 {
	return bt.GetBalance(NewPoolAccountKey(poolID, SubTypeStakedShares, AssetClassShare))
}

// PoolRewardBalance is the ledger view of a pool's undistributed rewards.
func (bt *BalanceTracker) PoolRewardBalance(poolID uuid.UUID) int64 {
	return bt.GetBalance(NewPoolAccountKey(poolID, SubTypeRewardBalance, AssetClassReward))
}

// PositionRewardsPaid is the total reward ever paid to a position.
func (bt *BalanceTracker) PositionRewardsPaid(positionID uuid.UUID) int64 {
	return bt.GetBalance(NewPositionAccountKey(positionID, SubTypeRewardPayouts, AssetClassReward))
}

// ComputeGlobalBalance sums all account balances per asset class (should be
// 0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetClass]int64 {
	totals := make(map[AssetClass]int64)

	for key, balance := range bt.balances {
		totals[key.Class] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances, e.g. from a snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
