package state

import (
	"fmt"

	"StakeLedger/internal/custody"
	fpmath "StakeLedger/internal/math"

	"github.com/google/uuid"
)

// PoolRecord is the serializable form of a Pool, used for snapshots and
// read models. The accumulator is a base-10 string since it does not fit in
// 64 bits.
type PoolRecord struct {
	ID                  uuid.UUID `json:"id"`
	ShareAsset          string    `json:"share_asset"`
	RewardAsset         string    `json:"reward_asset"`
	ShareDecimals       uint8     `json:"share_decimals"`
	ScalingFactor       uint64    `json:"scaling_factor"`
	RewardRatePerSecond uint64    `json:"reward_rate_per_second"`
	ReleaseTime         int64     `json:"release_time"`
	LastUpdateTime      int64     `json:"last_update_time"`
	Accumulator         string    `json:"accumulator"`
	StakedTotal         uint64    `json:"staked_total"`
	ShareCustody        uint64    `json:"share_custody"`
	RewardBalance       uint64    `json:"reward_balance"`
	OwnerAuthorityID    uuid.UUID `json:"owner_authority_id"`
	Version             int64     `json:"version"`
}

// PositionRecord is the serializable form of a Position.
type PositionRecord struct {
	ID         uuid.UUID `json:"id"`
	PoolID     uuid.UUID `json:"pool_id"`
	Owner      uuid.UUID `json:"owner"`
	Amount     uint64    `json:"amount"`
	RewardDebt string    `json:"reward_debt"`
	Version    int64     `json:"version"`
}

func (p *Pool) Record() PoolRecord {
	return PoolRecord{
		ID:                  p.ID,
		ShareAsset:          string(p.ShareAsset),
		RewardAsset:         string(p.RewardAsset),
		ShareDecimals:       p.Decimals.DecimalPrecision,
		ScalingFactor:       p.Decimals.Scale,
		RewardRatePerSecond: p.RewardRatePerSecond,
		ReleaseTime:         p.ReleaseTime,
		LastUpdateTime:      p.LastUpdateTime,
		Accumulator:         fpmath.FormatDecimal(&p.Accumulator),
		StakedTotal:         p.StakedTotal,
		ShareCustody:        p.shares.Value(),
		RewardBalance:       p.rewards.Value(),
		OwnerAuthorityID:    p.OwnerAuthorityID,
		Version:             p.Version,
	}
}

func (p *Position) Record() PositionRecord {
	return PositionRecord{
		ID:         p.ID,
		PoolID:     p.PoolID,
		Owner:      p.Owner,
		Amount:     p.Amount,
		RewardDebt: fpmath.FormatDecimal(&p.RewardDebt),
		Version:    p.Version,
	}
}

// PoolFromRecord rebuilds a pool. The custody balances are taken as already
// held by the pool.
func PoolFromRecord(r PoolRecord) (*Pool, error) {
	acc, err := fpmath.ParseDecimal(r.Accumulator)
	if err != nil {
		return nil, fmt.Errorf("pool %s accumulator: %w", r.ID, err)
	}
	decimals, err := fpmath.NewDecimalConfig(r.ShareDecimals)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", r.ID, err)
	}
	if r.ScalingFactor != 0 && r.ScalingFactor != decimals.Scale {
		return nil, fmt.Errorf("pool %s: scaling factor %d does not match %d decimals", r.ID, r.ScalingFactor, r.ShareDecimals)
	}
	return &Pool{
		ID:                  r.ID,
		ShareAsset:          custody.Asset(r.ShareAsset),
		RewardAsset:         custody.Asset(r.RewardAsset),
		Decimals:            decimals,
		RewardRatePerSecond: r.RewardRatePerSecond,
		ReleaseTime:         r.ReleaseTime,
		LastUpdateTime:      r.LastUpdateTime,
		Accumulator:         acc,
		StakedTotal:         r.StakedTotal,
		OwnerAuthorityID:    r.OwnerAuthorityID,
		Version:             r.Version,
		shares:              custody.FromDeposit(custody.Asset(r.ShareAsset), r.ShareCustody),
		rewards:             custody.FromDeposit(custody.Asset(r.RewardAsset), r.RewardBalance),
	}, nil
}

func PositionFromRecord(r PositionRecord) (*Position, error) {
	debt, err := fpmath.ParseDecimal(r.RewardDebt)
	if err != nil {
		return nil, fmt.Errorf("position %s reward debt: %w", r.ID, err)
	}
	return &Position{
		ID:         r.ID,
		PoolID:     r.PoolID,
		Owner:      r.Owner,
		Amount:     r.Amount,
		RewardDebt: debt,
		Version:    r.Version,
	}, nil
}
