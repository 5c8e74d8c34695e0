package state

import (
	"fmt"

	"StakeLedger/internal/custody"
	fpmath "StakeLedger/internal/math"
)

// Pool operations work on copies of the pool and position and commit only
// when every step succeeded. A failed operation leaves both untouched.

// Pending returns the reward pos could claim at now, without mutating
// anything. A position from another pool has nothing pending.
func Pending(pool *Pool, pos *Position, now int64) (uint64, error) {
	if pos.PoolID != pool.ID {
		return 0, nil
	}
	acc, _, err := pool.accrue(now)
	if err != nil {
		return 0, err
	}
	pending, err := fpmath.PendingReward(pos.Amount, &acc, &pos.RewardDebt, pool.Decimals.Scale)
	if err != nil {
		return 0, fmt.Errorf("%w: position %s pending: %v", ErrArithmeticDefect, pos.ID, err)
	}
	return pending, nil
}

// Stake settles pos's pending reward and adds deposit to it. The settled
// reward is returned, capped by the pool's reward balance. A zero deposit
// only settles.
func Stake(pool *Pool, pos *Position, deposit custody.Balance, now int64) (custody.Balance, error) {
	reward := custody.Zero(pool.RewardAsset)
	if pos.PoolID != pool.ID {
		return reward, fmt.Errorf("%w: position %s is in pool %s, not %s", ErrAccountPoolMismatch, pos.ID, pos.PoolID, pool.ID)
	}
	if deposit.Asset() != pool.ShareAsset {
		return reward, fmt.Errorf("%w: stake %s into pool of %s", ErrAssetMismatch, deposit, pool.ShareAsset)
	}
	if _, err := fpmath.AddUint64(pool.StakedTotal, deposit.Value()); err != nil {
		return reward, fmt.Errorf("%w: staked total: %v", ErrArithmeticDefect, err)
	}

	p, ps := *pool, *pos
	if err := p.AdvanceTime(now); err != nil {
		return reward, err
	}

	reward, err := settle(&p, &ps)
	if err != nil {
		return custody.Zero(pool.RewardAsset), err
	}

	if deposit.IsZero() {
		if err := custody.DestroyZero(deposit); err != nil {
			return custody.Zero(pool.RewardAsset), err
		}
	} else {
		p.shares, err = p.shares.Join(deposit)
		if err != nil {
			return custody.Zero(pool.RewardAsset), fmt.Errorf("%w: share custody: %v", ErrArithmeticDefect, err)
		}
		p.StakedTotal += deposit.Value()
		ps.Amount += deposit.Value()
	}

	if err := resetDebt(&p, &ps); err != nil {
		return custody.Zero(pool.RewardAsset), err
	}

	p.Version++
	ps.Version++
	*pool, *pos = p, ps
	return reward, nil
}

// Unstake settles pos's pending reward and withdraws amount of its stake.
// It returns the withdrawn shares and the settled reward.
func Unstake(pool *Pool, pos *Position, amount uint64, now int64) (shares, reward custody.Balance, err error) {
	shares, reward = custody.Zero(pool.ShareAsset), custody.Zero(pool.RewardAsset)
	if pos.PoolID != pool.ID {
		return shares, reward, fmt.Errorf("%w: position %s is in pool %s, not %s", ErrAccountPoolMismatch, pos.ID, pos.PoolID, pool.ID)
	}
	if amount > pos.Amount {
		return shares, reward, fmt.Errorf("%w: unstake %d, staked %d", ErrInsufficientStakedAmount, amount, pos.Amount)
	}

	p, ps := *pool, *pos
	if err := p.AdvanceTime(now); err != nil {
		return shares, reward, err
	}

	settled, err := settle(&p, &ps)
	if err != nil {
		return shares, reward, err
	}

	var out custody.Balance
	p.shares, out, err = p.shares.Split(amount)
	if err != nil {
		return shares, reward, fmt.Errorf("%w: share custody below staked amount: %v", ErrArithmeticDefect, err)
	}
	p.StakedTotal -= amount
	ps.Amount -= amount

	if err := resetDebt(&p, &ps); err != nil {
		return shares, reward, err
	}

	p.Version++
	ps.Version++
	*pool, *pos = p, ps
	return out, settled, nil
}

// Fund adds deposit to the pool's reward balance. Accrual up to now uses the
// balance as it was before the deposit.
func Fund(pool *Pool, deposit custody.Balance, now int64) error {
	if deposit.Asset() != pool.RewardAsset {
		return fmt.Errorf("%w: fund %s into pool of %s", ErrAssetMismatch, deposit, pool.RewardAsset)
	}

	p := *pool
	if err := p.AdvanceTime(now); err != nil {
		return err
	}
	if deposit.IsZero() {
		if err := custody.DestroyZero(deposit); err != nil {
			return err
		}
	} else {
		var err error
		p.rewards, err = p.rewards.Join(deposit)
		if err != nil {
			return fmt.Errorf("%w: reward balance: %v", ErrArithmeticDefect, err)
		}
	}

	p.Version++
	*pool = p
	return nil
}

// SetRewardRate changes the emission rate. Time up to now accrues at the
// old rate.
func SetRewardRate(pool *Pool, admin AdminCap, rate uint64, now int64) error {
	if !admin.controls(pool) {
		return fmt.Errorf("%w: credential %s, pool %s", ErrUnauthorized, admin.ID(), pool.ID)
	}

	p := *pool
	if err := p.AdvanceTime(now); err != nil {
		return err
	}
	p.RewardRatePerSecond = rate
	p.Version++
	*pool = p
	return nil
}

// settle pays out ps's pending reward from p's reward balance. The payout is
// capped by what the pool holds.
func settle(p *Pool, ps *Position) (custody.Balance, error) {
	if ps.Amount == 0 {
		return custody.Zero(p.RewardAsset), nil
	}
	pending, err := fpmath.PendingReward(ps.Amount, &p.Accumulator, &ps.RewardDebt, p.Decimals.Scale)
	if err != nil {
		return custody.Zero(p.RewardAsset), fmt.Errorf("%w: position %s pending: %v", ErrArithmeticDefect, ps.ID, err)
	}

	payout := fpmath.MinUint64(pending, p.rewards.Value())
	var reward custody.Balance
	p.rewards, reward, err = p.rewards.Split(payout)
	if err != nil {
		return custody.Zero(p.RewardAsset), fmt.Errorf("%w: %v", ErrArithmeticDefect, err)
	}
	return reward, nil
}

func resetDebt(p *Pool, ps *Position) error {
	debt, err := fpmath.Entitlement(ps.Amount, &p.Accumulator, p.Decimals.Scale)
	if err != nil {
		return fmt.Errorf("%w: position %s debt: %v", ErrArithmeticDefect, ps.ID, err)
	}
	ps.RewardDebt = debt
	return nil
}
