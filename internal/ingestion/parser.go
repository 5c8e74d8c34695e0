package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"StakeLedger/internal/event"

	"github.com/google/uuid"
)

// ErrInvalidEvent marks payloads that can never be applied. They are acked
// and dropped instead of being redelivered.
var ErrInvalidEvent = errors.New("invalid event")

// ParseRawEvent converts a RawEvent (JSON bytes + event type name) into a
// typed event.Event. The ingestion shell validates here so the core only
// sees well-formed events.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PoolCreated":
		return parsePoolCreated(raw.Data)
	case "PositionOpened":
		return parsePositionOpened(raw.Data)
	case "Staked":
		return parseStaked(raw.Data)
	case "Unstaked":
		return parseUnstaked(raw.Data)
	case "RewardFunded":
		return parseRewardFunded(raw.Data)
	case "RewardRateUpdated":
		return parseRewardRateUpdated(raw.Data)
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, eventType)
	}
}

// ResolveEventType finds the event type for a NATS subject by matching the
// longest configured subject prefix.
func ResolveEventType(subject string, subjects []SubjectConfig) string {
	bestMatch, bestType := "", ""
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(bestMatch) {
			bestMatch, bestType = prefix, cfg.EventType
		}
	}
	return bestType
}

// --- JSON wire formats ---
// Upstream producers send snake_case JSON with string ids and unix seconds.

type envelopeJSON struct {
	Sequence  int64 `json:"sequence"`
	Timestamp int64 `json:"timestamp"`
}

func (e envelopeJSON) validate() error {
	if e.Sequence <= 0 {
		return fmt.Errorf("%w: sequence must be positive, got %d", ErrInvalidEvent, e.Sequence)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be positive, got %d", ErrInvalidEvent, e.Timestamp)
	}
	return nil
}

type poolCreatedJSON struct {
	envelopeJSON
	PoolID              string `json:"pool_id"`
	AdminCapID          string `json:"admin_cap_id"`
	ShareAsset          string `json:"share_asset"`
	RewardAsset         string `json:"reward_asset"`
	ShareDecimals       uint8  `json:"share_decimals"`
	RewardRatePerSecond uint64 `json:"reward_rate_per_second"`
	ReleaseTime         int64  `json:"release_time"`
}

func parsePoolCreated(data []byte) (*event.PoolCreated, error) {
	var j poolCreatedJSON
	if err := unmarshal(data, &j, "PoolCreated"); err != nil {
		return nil, err
	}
	if err := j.validate(); err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	capID, err := parseID("admin_cap_id", j.AdminCapID)
	if err != nil {
		return nil, err
	}
	if j.ShareAsset == "" || j.RewardAsset == "" {
		return nil, fmt.Errorf("%w: share_asset and reward_asset are required", ErrInvalidEvent)
	}
	return &event.PoolCreated{
		Pool:                poolID,
		AdminCapID:          capID,
		ShareAsset:          j.ShareAsset,
		RewardAsset:         j.RewardAsset,
		ShareDecimals:       j.ShareDecimals,
		RewardRatePerSecond: j.RewardRatePerSecond,
		ReleaseTime:         j.ReleaseTime,
		Sequence:            j.Sequence,
		Timestamp:           j.Timestamp,
	}, nil
}

type positionOpenedJSON struct {
	envelopeJSON
	PositionID string `json:"position_id"`
	PoolID     string `json:"pool_id"`
	Owner      string `json:"owner"`
}

func parsePositionOpened(data []byte) (*event.PositionOpened, error) {
	var j positionOpenedJSON
	if err := unmarshal(data, &j, "PositionOpened"); err != nil {
		return nil, err
	}
	if err := j.validate(); err != nil {
		return nil, err
	}
	positionID, err := parseID("position_id", j.PositionID)
	if err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	owner, err := parseID("owner", j.Owner)
	if err != nil {
		return nil, err
	}
	return &event.PositionOpened{
		PositionID: positionID,
		Pool:       poolID,
		Owner:      owner,
		Sequence:   j.Sequence,
		Timestamp:  j.Timestamp,
	}, nil
}

type stakeJSON struct {
	envelopeJSON
	StakeID    string `json:"stake_id"`
	PositionID string `json:"position_id"`
	PoolID     string `json:"pool_id"`
	Asset      string `json:"asset"`
	Amount     uint64 `json:"amount"`
}

// A zero amount is a valid claim-only stake.
func parseStaked(data []byte) (*event.Staked, error) {
	var j stakeJSON
	if err := unmarshal(data, &j, "Staked"); err != nil {
		return nil, err
	}
	if err := j.validate(); err != nil {
		return nil, err
	}
	stakeID, err := parseID("stake_id", j.StakeID)
	if err != nil {
		return nil, err
	}
	positionID, err := parseID("position_id", j.PositionID)
	if err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("%w: asset is required", ErrInvalidEvent)
	}
	if err := checkAmount(j.Amount); err != nil {
		return nil, err
	}
	return &event.Staked{
		StakeID:    stakeID,
		PositionID: positionID,
		Pool:       poolID,
		Asset:      j.Asset,
		Amount:     j.Amount,
		Sequence:   j.Sequence,
		Timestamp:  j.Timestamp,
	}, nil
}

type unstakeJSON struct {
	envelopeJSON
	UnstakeID  string `json:"unstake_id"`
	PositionID string `json:"position_id"`
	PoolID     string `json:"pool_id"`
	Amount     uint64 `json:"amount"`
}

func parseUnstaked(data []byte) (*event.Unstaked, error) {
	var j unstakeJSON
	if err := unmarshal(data, &j, "Unstaked"); err != nil {
		return nil, err
	}
	if err := j.validate(); err != nil {
		return nil, err
	}
	unstakeID, err := parseID("unstake_id", j.UnstakeID)
	if err != nil {
		return nil, err
	}
	positionID, err := parseID("position_id", j.PositionID)
	if err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	if err := checkAmount(j.Amount); err != nil {
		return nil, err
	}
	return &event.Unstaked{
		UnstakeID:  unstakeID,
		PositionID: positionID,
		Pool:       poolID,
		Amount:     j.Amount,
		Sequence:   j.Sequence,
		Timestamp:  j.Timestamp,
	}, nil
}

type rewardFundedJSON struct {
	envelopeJSON
	FundingID string `json:"funding_id"`
	PoolID    string `json:"pool_id"`
	Funder    string `json:"funder"`
	Asset     string `json:"asset"`
	Amount    uint64 `json:"amount"`
}

func parseRewardFunded(data []byte) (*event.RewardFunded, error) {
	var j rewardFundedJSON
	if err := unmarshal(data, &j, "RewardFunded"); err != nil {
		return nil, err
	}
	if err := j.validate(); err != nil {
		return nil, err
	}
	fundingID, err := parseID("funding_id", j.FundingID)
	if err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	funder, err := parseID("funder", j.Funder)
	if err != nil {
		return nil, err
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("%w: asset is required", ErrInvalidEvent)
	}
	if j.Amount == 0 {
		return nil, fmt.Errorf("%w: funding amount must be positive", ErrInvalidEvent)
	}
	if err := checkAmount(j.Amount); err != nil {
		return nil, err
	}
	return &event.RewardFunded{
		FundingID: fundingID,
		Pool:      poolID,
		Funder:    funder,
		Asset:     j.Asset,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type rewardRateJSON struct {
	envelopeJSON
	UpdateID            string `json:"update_id"`
	PoolID              string `json:"pool_id"`
	AdminCapID          string `json:"admin_cap_id"`
	RewardRatePerSecond uint64 `json:"reward_rate_per_second"`
}

func parseRewardRateUpdated(data []byte) (*event.RewardRateUpdated, error) {
	var j rewardRateJSON
	if err := unmarshal(data, &j, "RewardRateUpdated"); err != nil {
		return nil, err
	}
	if err := j.validate(); err != nil {
		return nil, err
	}
	updateID, err := parseID("update_id", j.UpdateID)
	if err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	capID, err := parseID("admin_cap_id", j.AdminCapID)
	if err != nil {
		return nil, err
	}
	return &event.RewardRateUpdated{
		UpdateID:            updateID,
		Pool:                poolID,
		AdminCapID:          capID,
		RewardRatePerSecond: j.RewardRatePerSecond,
		Sequence:            j.Sequence,
		Timestamp:           j.Timestamp,
	}, nil
}

// --- helpers ---

func unmarshal(data []byte, v interface{}, name string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidEvent, name, err)
	}
	return nil
}

// checkAmount bounds amounts to what the journal can record.
func checkAmount(amount uint64) error {
	if amount > math.MaxInt64 {
		return fmt.Errorf("%w: amount %d exceeds %d", ErrInvalidEvent, amount, int64(math.MaxInt64))
	}
	return nil
}

func parseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidEvent, field, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %s must not be nil", ErrInvalidEvent, field)
	}
	return id, nil
}
