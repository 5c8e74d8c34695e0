package state

import (
	"fmt"

	"StakeLedger/internal/custody"
	fpmath "StakeLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PoolParams are the creation parameters of a staking pool.
type PoolParams struct {
	ID                  uuid.UUID
	AdminCapID          uuid.UUID
	ShareAsset          custody.Asset
	RewardAsset         custody.Asset
	ShareDecimals       uint8
	RewardRatePerSecond uint64
	ReleaseTime         int64
}

// Pool is a single staking pool. Stakers lock ShareAsset and earn
// RewardAsset at RewardRatePerSecond, shared pro rata over StakedTotal.
//
// Accumulator is the global reward-per-share, scaled by Decimals.Scale. It
// never decreases. LastUpdateTime starts at ReleaseTime so that nothing
// accrues before release.
type Pool struct {
	ID                  uuid.UUID
	ShareAsset          custody.Asset
	RewardAsset         custody.Asset
	Decimals            fpmath.DecimalConfig
	RewardRatePerSecond uint64
	ReleaseTime         int64
	LastUpdateTime      int64
	Accumulator         uint256.Int
	StakedTotal         uint64
	OwnerAuthorityID    uuid.UUID
	Version             int64

	shares  custody.Balance
	rewards custody.Balance
}

// CreatePool builds a pool and the admin credential controlling it.
// The release time must lie strictly after now.
func CreatePool(params PoolParams, now int64) (*Pool, AdminCap, error) {
	if params.ReleaseTime <= now {
		return nil, AdminCap{}, fmt.Errorf("%w: release %d, now %d", ErrInvalidReleaseTime, params.ReleaseTime, now)
	}
	decimals, err := fpmath.NewDecimalConfig(params.ShareDecimals)
	if err != nil {
		return nil, AdminCap{}, fmt.Errorf("pool %s: %w", params.ID, err)
	}

	pool := &Pool{
		ID:                  params.ID,
		ShareAsset:          params.ShareAsset,
		RewardAsset:         params.RewardAsset,
		Decimals:            decimals,
		RewardRatePerSecond: params.RewardRatePerSecond,
		ReleaseTime:         params.ReleaseTime,
		LastUpdateTime:      params.ReleaseTime,
		OwnerAuthorityID:    params.AdminCapID,
		shares:              custody.Zero(params.ShareAsset),
		rewards:             custody.Zero(params.RewardAsset),
	}
	return pool, AdminCap{id: params.AdminCapID, poolID: params.ID}, nil
}

// ShareCustody is the amount of share tokens physically held by the pool.
func (p *Pool) ShareCustody() uint64 { return p.shares.Value() }

// RewardBalance is the amount of reward tokens available for payout.
func (p *Pool) RewardBalance() uint64 { return p.rewards.Value() }

// AdvanceTime brings the accumulator forward to now. It is a no-op before
// release and when now is not after the last update. Over an interval with
// nothing staked the clock moves but nothing accrues.
func (p *Pool) AdvanceTime(now int64) error {
	acc, last, err := p.accrue(now)
	if err != nil {
		return err
	}
	p.Accumulator = acc
	p.LastUpdateTime = last
	return nil
}

// accrue returns the accumulator and last update time as of now without
// touching p.
func (p *Pool) accrue(now int64) (uint256.Int, int64, error) {
	if p.LastUpdateTime >= now || now < p.ReleaseTime {
		return p.Accumulator, p.LastUpdateTime, nil
	}
	if p.StakedTotal == 0 {
		return p.Accumulator, now, nil
	}

	elapsed := uint64(now - p.LastUpdateTime)
	emittable := fpmath.Emission(p.RewardRatePerSecond, elapsed, p.rewards.Value())
	delta, err := fpmath.AccumulatorDelta(emittable, p.Decimals.Scale, p.StakedTotal)
	if err != nil {
		return p.Accumulator, p.LastUpdateTime, fmt.Errorf("%w: pool %s accumulator delta: %v", ErrArithmeticDefect, p.ID, err)
	}
	acc, err := fpmath.AddChecked(&p.Accumulator, &delta)
	if err != nil {
		return p.Accumulator, p.LastUpdateTime, fmt.Errorf("%w: pool %s accumulator: %v", ErrArithmeticDefect, p.ID, err)
	}
	return acc, now, nil
}

// CanonicalBytes returns a deterministic binary encoding of the pool for
// state hashing.
func (p *Pool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, p.ID[:]...)
	buf = appendString(buf, string(p.ShareAsset))
	buf = appendString(buf, string(p.RewardAsset))
	buf = append(buf, p.Decimals.DecimalPrecision)
	buf = appendUint64LE(buf, p.Decimals.Scale)
	buf = appendUint64LE(buf, p.RewardRatePerSecond)
	buf = appendInt64LE(buf, p.ReleaseTime)
	buf = appendInt64LE(buf, p.LastUpdateTime)
	acc := p.Accumulator.Bytes32()
	buf = append(buf, acc[:]...)
	buf = appendUint64LE(buf, p.StakedTotal)
	buf = appendUint64LE(buf, p.shares.Value())
	buf = appendUint64LE(buf, p.rewards.Value())
	buf = append(buf, p.OwnerAuthorityID[:]...)
	return buf
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56),
	)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint64LE(buf, uint64(len(s)))
	return append(buf, s...)
}
