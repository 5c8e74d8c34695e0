package ledger_test

import (
	"math"
	"testing"

	"StakeLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolID     = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	positionID = uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
)

func meta(ref string, seq int64) ledger.EventMeta {
	return ledger.EventMeta{Ref: ref, Sequence: seq, Timestamp: 1_700_000_000}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_PoolPath(t *testing.T) {
	key := ledger.NewPoolAccountKey(poolID, ledger.SubTypeStakedShares, ledger.AssetClassShare)

	assert.Equal(t, "pool:550e8400-e29b-41d4-a716-446655440000:staked_shares:share", key.AccountPath())
}

func TestAccountKey_PositionPath(t *testing.T) {
	key := ledger.NewPositionAccountKey(positionID, ledger.SubTypeRewardPayouts, ledger.AssetClassReward)

	assert.Equal(t, "position:660e8400-e29b-41d4-a716-446655440001:reward_payouts:reward", key.AccountPath())
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewPoolAccountKey(poolID, ledger.SubTypeRewardBalance, ledger.AssetClassReward),
		ledger.NewPositionAccountKey(positionID, ledger.SubTypeRewardPayouts, ledger.AssetClassReward),
		ledger.NewExternalAccountKey(poolID, ledger.SubTypeShareWithdrawals, ledger.AssetClassShare),
	}
	for _, key := range keys {
		got, err := ledger.ParseAccountPath(key.AccountPath())
		require.NoError(t, err, key.AccountPath())
		assert.Equal(t, key, got)
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, path := range []string{
		"",
		"pool:not-a-uuid:staked_shares:share",
		"system:550e8400-e29b-41d4-a716-446655440000:staked_shares:share",
		"pool:550e8400-e29b-41d4-a716-446655440000:collateral:share",
		"pool:550e8400-e29b-41d4-a716-446655440000:staked_shares:usdt",
	} {
		_, err := ledger.ParseAccountPath(path)
		assert.Error(t, err, "path %q", path)
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assert.Zero(t, bt.PoolStakedShares(poolID))
	assert.Zero(t, bt.PoolRewardBalance(poolID))
}

func TestBalanceTracker_StakeFundUnstake(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)

	apply := func(b *ledger.Batch, err error) {
		t.Helper()
		require.NoError(t, err)
		require.NoError(t, bt.ApplyBatch(b))
	}

	apply(gen.GenerateStake(meta("stake-1", 1), poolID, positionID, 1_000_000, 0))
	apply(gen.GenerateRewardFund(meta("fund-1", 2), poolID, 10_000))
	apply(gen.GenerateUnstake(meta("unstake-1", 3), poolID, positionID, 500_000, 5_000))

	assert.Equal(t, int64(500_000), bt.PoolStakedShares(poolID))
	assert.Equal(t, int64(5_000), bt.PoolRewardBalance(poolID))
	assert.Equal(t, int64(5_000), bt.PositionRewardsPaid(positionID))

	for class, total := range bt.ComputeGlobalBalance() {
		assert.Zero(t, total, "class %s global balance", class)
	}
}

func TestBalanceTracker_SnapshotRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	b, err := ledger.NewJournalGenerator(bt).GenerateRewardFund(meta("fund-1", 1), poolID, 999)
	require.NoError(t, err)
	require.NoError(t, bt.ApplyBatch(b))

	snap := bt.Snapshot()
	for k := range snap {
		snap[k] = 0
	}
	assert.Equal(t, int64(999), bt.PoolRewardBalance(poolID), "snapshot mutation leaked into the tracker")

	restored := ledger.NewBalanceTracker()
	restored.Restore(bt.Snapshot())
	assert.Equal(t, int64(999), restored.PoolRewardBalance(poolID))
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerateStake_ZeroAmountOnlyPayout(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt)

	fund, err := gen.GenerateRewardFund(meta("fund-1", 1), poolID, 100)
	require.NoError(t, err)
	require.NoError(t, bt.ApplyBatch(fund))

	b, err := gen.GenerateStake(meta("stake-0", 2), poolID, positionID, 0, 40)
	require.NoError(t, err)
	require.Len(t, b.Journals, 1)
	assert.Equal(t, ledger.JournalTypeRewardPayout, b.Journals[0].JournalType)
}

func TestGenerateStake_NothingToRecord(t *testing.T) {
	b, err := ledger.NewJournalGenerator(ledger.NewBalanceTracker()).
		GenerateStake(meta("stake-0", 1), poolID, positionID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, b.Journals)
}

func TestGenerateUnstake_CustodyShortfall(t *testing.T) {
	gen := ledger.NewJournalGenerator(ledger.NewBalanceTracker())
	_, err := gen.GenerateUnstake(meta("unstake-1", 1), poolID, positionID, 1, 0)
	assert.ErrorIs(t, err, ledger.ErrCustodyShortfall)
}

func TestGenerate_AmountOutOfRange(t *testing.T) {
	gen := ledger.NewJournalGenerator(ledger.NewBalanceTracker())
	_, err := gen.GenerateRewardFund(meta("fund-1", 1), poolID, math.MaxInt64+1)
	assert.ErrorIs(t, err, ledger.ErrAmountOutOfRange)
}

func TestGenerate_DeterministicIDs(t *testing.T) {
	gen := ledger.NewJournalGenerator(ledger.NewBalanceTracker())
	a, err := gen.GenerateStake(meta("stake-1", 7), poolID, positionID, 10, 0)
	require.NoError(t, err)
	b, err := gen.GenerateStake(meta("stake-1", 7), poolID, positionID, 10, 0)
	require.NoError(t, err)

	assert.Equal(t, a.BatchID, b.BatchID)
	assert.Equal(t, a.Journals[0].JournalID, b.Journals[0].JournalID)
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func journal(batchID uuid.UUID, amount int64) ledger.Journal {
	return ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		DebitAccount:  ledger.NewPoolAccountKey(poolID, ledger.SubTypeStakedShares, ledger.AssetClassShare),
		CreditAccount: ledger.NewExternalAccountKey(poolID, ledger.SubTypeShareDeposits, ledger.AssetClassShare),
		Class:         ledger.AssetClassShare,
		Amount:        amount,
	}
}

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	assert.Error(t, batch.Validate())
}

func TestBatchValidate_NonPositiveAmount_Fails(t *testing.T) {
	for _, amount := range []int64{0, -100} {
		batchID := uuid.New()
		batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{journal(batchID, amount)}}
		assert.Error(t, batch.Validate(), "amount %d", amount)
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	j := journal(batchID, 100)
	j.CreditAccount = j.DebitAccount

	batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
	assert.Error(t, batch.Validate())
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New(), Journals: []ledger.Journal{journal(uuid.New(), 100)}}
	assert.Error(t, batch.Validate())
}

func TestBatchValidate_ClassMismatch_Fails(t *testing.T) {
	batchID := uuid.New()
	j := journal(batchID, 100)
	j.Class = ledger.AssetClassReward

	batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
	assert.Error(t, batch.Validate())
}

func TestBatchValidate_ValidBatch_Passes(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{journal(batchID, 1_000_000)}}
	assert.NoError(t, batch.Validate())
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_PoolCustody(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	gen := ledger.NewJournalGenerator(bt)

	b, err := gen.GenerateStake(meta("stake-1", 1), poolID, positionID, 300, 0)
	require.NoError(t, err)
	require.NoError(t, bt.ApplyBatch(b))

	assert.NoError(t, v.ValidatePoolCustody(poolID, 300, 0))
	assert.Error(t, v.ValidatePoolCustody(poolID, 301, 0), "staked shares mismatch")
	assert.Error(t, v.ValidatePoolCustody(poolID, 300, 1), "reward balance mismatch")
}

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	assert.NoError(t, v.ValidateGlobalBalance())

	bt.ApplyJournal(journal(uuid.New(), 1_000_000))
	assert.NoError(t, v.ValidateGlobalBalance())
}
