package ledger

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
)

var (
	ErrAmountOutOfRange = errors.New("amount exceeds ledger range")
	ErrCustodyShortfall = errors.New("pool custody below transfer amount")
)

// journalNamespace seeds the deterministic batch and journal ids, so replay
// produces the same journals as live processing.
var journalNamespace = uuid.MustParse("8a0f4c52-5b1d-4c1e-9a7e-2f7e3c1d9b40")

// EventMeta carries the identity of the event a batch is generated for.
type EventMeta struct {
	Ref       string // idempotency key
	Sequence  int64
	Timestamp int64
}

// JournalGenerator creates balanced journal batches from pool operations
type JournalGenerator struct {
	balanceTracker *BalanceTracker // for custody pre-checks
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{balanceTracker: tracker}
}

// GenerateStake records a stake: deposited shares move from the external
// boundary into pool custody, and the settled reward moves from the pool to
// the position.
func (jg *JournalGenerator) GenerateStake(meta EventMeta, poolID, positionID uuid.UUID, amount, payout uint64) (*Batch, error) {
	b := NewBatch(meta)
	if err := b.add(JournalTypeStake, AssetClassShare,
		NewPoolAccountKey(poolID, SubTypeStakedShares, AssetClassShare),
		NewExternalAccountKey(poolID, SubTypeShareDeposits, AssetClassShare),
		amount); err != nil {
		return nil, err
	}
	if err := jg.addPayout(b, poolID, positionID, payout); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateUnstake records an unstake: shares leave pool custody for the
// external boundary, and the settled reward moves to the position.
func (jg *JournalGenerator) GenerateUnstake(meta EventMeta, poolID, positionID uuid.UUID, amount, payout uint64) (*Batch, error) {
	staked := jg.balanceTracker.PoolStakedShares(poolID)
	if staked < 0 || uint64(staked) < amount {
		return nil, fmt.Errorf("%w: pool %s holds %d shares, unstaking %d", ErrCustodyShortfall, poolID, staked, amount)
	}

	b := NewBatch(meta)
	if err := b.add(JournalTypeUnstake, AssetClassShare,
		NewExternalAccountKey(poolID, SubTypeShareWithdrawals, AssetClassShare),
		NewPoolAccountKey(poolID, SubTypeStakedShares, AssetClassShare),
		amount); err != nil {
		return nil, err
	}
	if err := jg.addPayout(b, poolID, positionID, payout); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateRewardFund records reward tokens entering a pool.
func (jg *JournalGenerator) GenerateRewardFund(meta EventMeta, poolID uuid.UUID, amount uint64) (*Batch, error) {
	b := NewBatch(meta)
	if err := b.add(JournalTypeRewardFund, AssetClassReward,
		NewPoolAccountKey(poolID, SubTypeRewardBalance, AssetClassReward),
		NewExternalAccountKey(poolID, SubTypeRewardDeposits, AssetClassReward),
		amount); err != nil {
		return nil, err
	}
	return b, nil
}

func (jg *JournalGenerator) addPayout(b *Batch, poolID, positionID uuid.UUID, payout uint64) error {
	if payout == 0 {
		return nil
	}
	available := jg.balanceTracker.PoolRewardBalance(poolID)
	if available < 0 || uint64(available) < payout {
		return fmt.Errorf("%w: pool %s holds %d reward, paying %d", ErrCustodyShortfall, poolID, available, payout)
	}
	return b.add(JournalTypeRewardPayout, AssetClassReward,
		NewPositionAccountKey(positionID, SubTypeRewardPayouts, AssetClassReward),
		NewPoolAccountKey(poolID, SubTypeRewardBalance, AssetClassReward),
		payout)
}

// NewBatch starts an empty batch for the event. Events that move no tokens
// still get one so that every log entry has a batch id.
func NewBatch(meta EventMeta) *Batch {
	return &Batch{
		BatchID:   uuid.NewSHA1(journalNamespace, []byte(meta.Ref+"/"+strconv.FormatInt(meta.Sequence, 10))),
		EventRef:  meta.Ref,
		Sequence:  meta.Sequence,
		Timestamp: meta.Timestamp,
	}
}

// add appends one transfer. Zero amounts produce no entry.
func (b *Batch) add(jt JournalType, class AssetClass, debit, credit AccountKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if amount > math.MaxInt64 {
		return fmt.Errorf("%w: %s of %d", ErrAmountOutOfRange, jt, amount)
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.BatchID, []byte(strconv.Itoa(len(b.Journals)))),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Class:         class,
		Amount:        int64(amount),
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
	return nil
}
