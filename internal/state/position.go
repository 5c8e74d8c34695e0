package state

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Position is one staker's account in one pool.
//
// RewardDebt is the entitlement already settled or excluded: after every
// stake or unstake it equals floor(Amount * Accumulator / Decimals.Scale).
type Position struct {
	ID         uuid.UUID
	PoolID     uuid.UUID
	Owner      uuid.UUID
	Amount     uint64
	RewardDebt uint256.Int
	Version    int64
}

// NewPosition returns an empty position bound to pool.
func NewPosition(id, poolID, owner uuid.UUID) *Position {
	return &Position{ID: id, PoolID: poolID, Owner: owner}
}

// CanonicalBytes returns a deterministic binary encoding of the position.
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, p.ID[:]...)
	buf = append(buf, p.PoolID[:]...)
	buf = append(buf, p.Owner[:]...)
	buf = appendUint64LE(buf, p.Amount)
	debt := p.RewardDebt.Bytes32()
	buf = append(buf, debt[:]...)
	return buf
}
