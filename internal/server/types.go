package server

import (
	"encoding/json"

	"StakeLedger/internal/query"
)

// Request and response messages of stakeledger.v1.StakeLedger. Ids are
// strings on the wire and parsed by the handlers.

type GetPoolRequest struct {
	PoolID string `json:"pool_id"`
}

type ListPoolsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type ListPoolsResponse struct {
	Pools        []query.PoolResponse `json:"pools"`
	AsOfSequence int64                `json:"as_of_sequence"`
}

type GetPositionRequest struct {
	PositionID string `json:"position_id"`
}

type ListPositionsRequest struct {
	Owner  string `json:"owner,omitempty"`
	PoolID string `json:"pool_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ListPositionsResponse struct {
	Positions    []query.PositionResponse `json:"positions"`
	AsOfSequence int64                    `json:"as_of_sequence"`
}

// GetPendingRewardRequest evaluates at At (unix seconds), or at the
// server's clock when At is zero.
type GetPendingRewardRequest struct {
	PositionID string `json:"position_id"`
	At         int64  `json:"at,omitempty"`
}

type ListPayoutsRequest struct {
	PoolID         string `json:"pool_id,omitempty"`
	PositionID     string `json:"position_id,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type ListPayoutsResponse struct {
	Payouts      []query.PayoutResponse `json:"payouts"`
	AsOfSequence int64                  `json:"as_of_sequence"`
}

type SubmitEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type SubmitEventResponse struct {
	Accepted       bool   `json:"accepted"`
	EventType      string `json:"event_type"`
	IdempotencyKey string `json:"idempotency_key"`
}

type VerifyIntegrityRequest struct{}
