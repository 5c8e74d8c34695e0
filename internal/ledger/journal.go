package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeStake JournalType = iota
	JournalTypeUnstake
	JournalTypeRewardFund
	JournalTypeRewardPayout
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeStake:
		return "stake"
	case JournalTypeUnstake:
		return "unstake"
	case JournalTypeRewardFund:
		return "reward_fund"
	case JournalTypeRewardPayout:
		return "reward_payout"
	}
	return "unknown"
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Deterministic, derived from the batch
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Class         AssetClass  // Asset being transferred
	Amount        int64       // Token amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Event time, unix seconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from its credit account to its debit account, so every entry is
// balanced on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Class != j.Class || j.CreditAccount.Class != j.Class {
			return fmt.Errorf("journal %s moves %s between accounts of another asset class", j.JournalID, j.Class)
		}
	}

	return nil
}
