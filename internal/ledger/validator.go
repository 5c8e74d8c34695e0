package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidatePoolCustody checks that the ledger agrees with the pool's own
// record of staked shares and reward balance, and that neither is negative.
func (v *InvariantValidator) ValidatePoolCustody(poolID uuid.UUID, stakedShares, rewardBalance uint64) error {
	staked := v.tracker.PoolStakedShares(poolID)
	if staked < 0 || uint64(staked) != stakedShares {
		return fmt.Errorf("pool %s: ledger staked shares %d, pool holds %d", poolID, staked, stakedShares)
	}
	rewards := v.tracker.PoolRewardBalance(poolID)
	if rewards < 0 || uint64(rewards) != rewardBalance {
		return fmt.Errorf("pool %s: ledger reward balance %d, pool holds %d", poolID, rewards, rewardBalance)
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for class, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", class, total)
		}
	}

	return nil
}
