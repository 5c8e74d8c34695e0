package event

import "github.com/google/uuid"

// PositionOpened creates an empty staking position for Owner in a pool.
type PositionOpened struct {
	PositionID uuid.UUID `json:"position_id"`
	Pool       uuid.UUID `json:"pool_id"`
	Owner      uuid.UUID `json:"owner"`
	Sequence   int64     `json:"sequence"`
	Timestamp  int64     `json:"timestamp"`
}

func (e *PositionOpened) IdempotencyKey() string { return "position:" + e.PositionID.String() }
func (e *PositionOpened) EventType() EventType   { return EventTypePositionOpened }
func (e *PositionOpened) PoolID() uuid.UUID      { return e.Pool }
func (e *PositionOpened) SourceSequence() int64  { return e.Sequence }
func (e *PositionOpened) EventTime() int64       { return e.Timestamp }

// Staked adds a confirmed deposit of share tokens to a position. A zero
// amount settles the position's pending reward without staking more.
type Staked struct {
	StakeID    uuid.UUID `json:"stake_id"` // Idempotency key
	PositionID uuid.UUID `json:"position_id"`
	Pool       uuid.UUID `json:"pool_id"`
	Asset      string    `json:"asset"`
	Amount     uint64    `json:"amount"`
	Sequence   int64     `json:"sequence"`
	Timestamp  int64     `json:"timestamp"`
}

func (e *Staked) IdempotencyKey() string { return e.StakeID.String() }
func (e *Staked) EventType() EventType   { return EventTypeStaked }
func (e *Staked) PoolID() uuid.UUID      { return e.Pool }
func (e *Staked) SourceSequence() int64  { return e.Sequence }
func (e *Staked) EventTime() int64       { return e.Timestamp }

// Unstaked withdraws Amount of share tokens from a position and settles its
// pending reward.
type Unstaked struct {
	UnstakeID  uuid.UUID `json:"unstake_id"` // Idempotency key
	PositionID uuid.UUID `json:"position_id"`
	Pool       uuid.UUID `json:"pool_id"`
	Amount     uint64    `json:"amount"`
	Sequence   int64     `json:"sequence"`
	Timestamp  int64     `json:"timestamp"`
}

func (e *Unstaked) IdempotencyKey() string { return e.UnstakeID.String() }
func (e *Unstaked) EventType() EventType   { return EventTypeUnstaked }
func (e *Unstaked) PoolID() uuid.UUID      { return e.Pool }
func (e *Unstaked) SourceSequence() int64  { return e.Sequence }
func (e *Unstaked) EventTime() int64       { return e.Timestamp }
