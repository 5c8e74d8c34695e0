package query

import (
	"StakeLedger/internal/state"

	"github.com/google/uuid"
)

// PoolResponse represents a pool for API queries.
type PoolResponse struct {
	state.PoolRecord
	AsOfSequence int64 `json:"as_of_sequence"`
}

// PositionResponse represents a position for API queries.
type PositionResponse struct {
	state.PositionRecord
	AsOfSequence int64 `json:"as_of_sequence"`
}

// PendingRewardResponse is the reward a position could claim at At.
// Derived at query time, not stored.
type PendingRewardResponse struct {
	PoolID       uuid.UUID `json:"pool_id"`
	PositionID   uuid.UUID `json:"position_id"`
	Owner        uuid.UUID `json:"owner"`
	Staked       uint64    `json:"staked"`
	At           int64     `json:"at"`
	Pending      uint64    `json:"pending"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// PayoutResponse represents a settled reward payment.
type PayoutResponse struct {
	Sequence     int64     `json:"sequence"`
	PoolID       uuid.UUID `json:"pool_id"`
	PositionID   uuid.UUID `json:"position_id"`
	Owner        uuid.UUID `json:"owner"`
	Amount       uint64    `json:"amount"`
	Timestamp    int64     `json:"timestamp"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetClass    int16  `json:"asset_class"`
	Amount        int64  `json:"amount"`
	JournalType   int16  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy         bool              `json:"is_healthy"`
	EventsChecked     int64             `json:"events_checked"`
	HashChainBreaks   []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedClasses []UnbalancedClass `json:"unbalanced_classes,omitempty"`
	CustodyMismatches []uuid.UUID       `json:"custody_mismatches,omitempty"`
	AsOfSequence      int64             `json:"as_of_sequence"`
}

// UnbalancedClass is an asset class whose balances do not sum to zero.
type UnbalancedClass struct {
	AssetClass int16 `json:"asset_class"`
	Imbalance  int64 `json:"imbalance"`
}
