package event

import "github.com/google/uuid"

// PoolCreated registers a new staking pool. AdminCapID names the credential
// issued to the creator.
type PoolCreated struct {
	Pool                uuid.UUID `json:"pool_id"`
	AdminCapID          uuid.UUID `json:"admin_cap_id"`
	ShareAsset          string    `json:"share_asset"`
	RewardAsset         string    `json:"reward_asset"`
	ShareDecimals       uint8     `json:"share_decimals"`
	RewardRatePerSecond uint64    `json:"reward_rate_per_second"`
	ReleaseTime         int64     `json:"release_time"`
	Sequence            int64     `json:"sequence"`
	Timestamp           int64     `json:"timestamp"`
}

func (e *PoolCreated) IdempotencyKey() string { return "pool:" + e.Pool.String() }
func (e *PoolCreated) EventType() EventType   { return EventTypePoolCreated }
func (e *PoolCreated) PoolID() uuid.UUID      { return e.Pool }
func (e *PoolCreated) SourceSequence() int64  { return e.Sequence }
func (e *PoolCreated) EventTime() int64       { return e.Timestamp }

// RewardFunded records a confirmed inbound transfer of reward tokens into a
// pool.
type RewardFunded struct {
	FundingID uuid.UUID `json:"funding_id"` // Idempotency key
	Pool      uuid.UUID `json:"pool_id"`
	Funder    uuid.UUID `json:"funder"`
	Asset     string    `json:"asset"`
	Amount    uint64    `json:"amount"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (e *RewardFunded) IdempotencyKey() string { return e.FundingID.String() }
func (e *RewardFunded) EventType() EventType   { return EventTypeRewardFunded }
func (e *RewardFunded) PoolID() uuid.UUID      { return e.Pool }
func (e *RewardFunded) SourceSequence() int64  { return e.Sequence }
func (e *RewardFunded) EventTime() int64       { return e.Timestamp }

// RewardRateUpdated changes a pool's emission rate. It must present the
// pool's admin credential.
type RewardRateUpdated struct {
	UpdateID            uuid.UUID `json:"update_id"`
	Pool                uuid.UUID `json:"pool_id"`
	AdminCapID          uuid.UUID `json:"admin_cap_id"`
	RewardRatePerSecond uint64    `json:"reward_rate_per_second"`
	Sequence            int64     `json:"sequence"`
	Timestamp           int64     `json:"timestamp"`
}

func (e *RewardRateUpdated) IdempotencyKey() string { return e.UpdateID.String() }
func (e *RewardRateUpdated) EventType() EventType   { return EventTypeRewardRateUpdated }
func (e *RewardRateUpdated) PoolID() uuid.UUID      { return e.Pool }
func (e *RewardRateUpdated) SourceSequence() int64  { return e.Sequence }
func (e *RewardRateUpdated) EventTime() int64       { return e.Timestamp }
