package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"StakeLedger/internal/custody"
	"StakeLedger/internal/event"
	"StakeLedger/internal/ledger"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrEventRejected wraps every business rule violation. The event is
	// consumed but changes nothing.
	ErrEventRejected = errors.New("event rejected")

	ErrReplayDivergence = errors.New("replay diverged from event log")
)

// globalCheckInterval is how often (in events) the core verifies the whole
// ledger and every pool, on top of the per-event checks on touched pools.
const globalCheckInterval = 1000

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	pools             *state.PoolManager
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one applied event.
// Rejected live events reach the persist channel as outputs with only
// Rejection set, so their partition cursor survives a restart.
type CoreOutput struct {
	Rejection *Rejection

	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	// Pool state after the event.
	Pool state.PoolRecord
	// Position state after the event, nil for pool-level events.
	Position *state.PositionRecord
	// Reward settled to Position, nil when nothing was paid.
	Payout *Payout
}

// Rejection records a live event that consumed its source sequence without
// changing state.
type Rejection struct {
	Partition      string
	SourceSequence int64
	EventType      string
	IdempotencyKey string
	Reason         string
	Timestamp      int64
}

// Payout is a reward transfer from a pool to a position.
type Payout struct {
	PoolID     uuid.UUID `json:"pool_id"`
	PositionID uuid.UUID `json:"position_id"`
	Owner      uuid.UUID `json:"owner"`
	Amount     uint64    `json:"amount"`
	Sequence   int64     `json:"sequence"`
	Timestamp  int64     `json:"timestamp"`
}

// applied is the result of a handler.
type applied struct {
	batch    *ledger.Batch
	pool     *state.Pool
	position *state.Position
	payout   uint64
}

// NewDeterministicCore builds a core whose first event gets startSequence.
// Either channel may be nil when the core runs without that consumer.
func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(balanceTracker),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		pools:             state.NewPoolManager(),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline. Duplicates return nil
// without effect. Rejected events return an error wrapping
// ErrEventRejected and leave state untouched.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()

	output, err := c.apply(evt, true)
	if err != nil || output == nil {
		return err
	}

	c.emit(*output)

	if c.metrics != nil {
		eventType := evt.EventType().String()
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}
	return nil
}

// ReplayEvent re-applies a logged event during recovery. Nothing is
// emitted. The recomputed state hash must match the logged one.
func (c *DeterministicCore) ReplayEvent(env *event.EventEnvelope) error {
	_, err := c.ReplayEventOutput(env)
	return err
}

// ReplayEventOutput is ReplayEvent returning what live processing emitted
// for the event, for rebuilding read models.
func (c *DeterministicCore) ReplayEventOutput(env *event.EventEnvelope) (CoreOutput, error) {
	if env.Sequence != c.sequence {
		return CoreOutput{}, fmt.Errorf("%w: log has seq %d, core expects %d", ErrReplayDivergence, env.Sequence, c.sequence)
	}
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	output, err := c.apply(evt, false)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}
	if output == nil {
		return CoreOutput{}, fmt.Errorf("%w: seq %d (%s) treated as duplicate", ErrReplayDivergence, env.Sequence, env.IdempotencyKey)
	}
	if output.Envelope.StateHash != env.StateHash {
		return CoreOutput{}, fmt.Errorf("%w: seq %d state hash %x, logged %x",
			ErrReplayDivergence, env.Sequence, output.Envelope.StateHash[:8], env.StateHash[:8])
	}

	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return *output, nil
}

// apply runs the deterministic part of the pipeline. It returns nil output
// for duplicates.
func (c *DeterministicCore) apply(evt event.Event, live bool) (*CoreOutput, error) {
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate, tier := c.idempotency.IsDuplicate(eventType, idempotencyKey, live)

	// Step 2: Sequence validation. Rejected events advance the partition but
	// never reach the event log; replay follows the logged cursor and
	// RestoreRejectedCursors covers the rejected tail.
	partition := partitionOf(evt)
	if live {
		if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
			c.recordSequenceError(partition, err)
			c.reject(eventType, sequenceReason(err))
			return nil, fmt.Errorf("sequence validation failed: %w", err)
		}
	} else if !isDuplicate {
		c.sequenceValidator.RestorePartition(partition, evt.SourceSequence()+1)
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
		}
		c.reject(eventType, "duplicate")
		return nil, nil
	}

	// Step 3: Dispatch to state and journal generation
	res, err := c.dispatchEvent(evt)
	if err != nil {
		// The event is consumed: a redelivery is a duplicate, not a retry.
		c.idempotency.MarkProcessed(eventType, idempotencyKey)
		reason := "rejected"
		if errors.Is(err, state.ErrArithmeticDefect) {
			reason = "arithmetic_defect"
			c.logger.Error().Err(err).Str("event_type", eventType).Str("key", idempotencyKey).Msg("arithmetic defect")
		} else {
			c.logger.Warn().Err(err).Str("event_type", eventType).Str("key", idempotencyKey).Msg("event rejected")
		}
		c.reject(eventType, reason)
		if live {
			c.emitRejection(Rejection{
				Partition:      partition,
				SourceSequence: evt.SourceSequence(),
				EventType:      eventType,
				IdempotencyKey: idempotencyKey,
				Reason:         err.Error(),
				Timestamp:      evt.EventTime(),
			})
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrEventRejected, eventType, idempotencyKey, err)
	}

	// Step 4: Validate and apply journals. Pool-only events produce none but
	// still get an envelope in the event log.
	if len(res.batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(res.batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(res.batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch: %v", err))
		}
	}

	// Step 5: State digest and hash chain
	stateDigest := c.computeStateDigest(res)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := event.Encode(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode applied event: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		PoolID:         evt.PoolID(),
		Timestamp:      time.Unix(evt.EventTime(), 0).UTC(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := &CoreOutput{
		Envelope:   envelope,
		Batch:      res.batch,
		StateDelta: stateDigest,
		Pool:       res.pool.Record(),
	}
	if res.position != nil {
		rec := res.position.Record()
		output.Position = &rec
	}
	if res.payout > 0 {
		output.Payout = &Payout{
			PoolID:     res.pool.ID,
			PositionID: res.position.ID,
			Owner:      res.position.Owner,
			Amount:     res.payout,
			Sequence:   c.sequence,
			Timestamp:  evt.EventTime(),
		}
	}

	// Step 6: Post-checks
	if err := c.postCheckInvariants(res.pool); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	c.sequence++

	c.recordStateMetrics(output)
	c.logger.Debug().
		Int64("seq", envelope.Sequence).
		Str("event_type", eventType).
		Str("pool_id", envelope.PoolID.String()).
		Int("journals", len(res.batch.Journals)).
		Msg("event applied")

	return output, nil
}

// emit hands the output to the persistence and projection workers.
// Persistence uses a blocking send so that no event is lost. Projections
// use a non-blocking send and rebuild from the log if they fall behind.
func (c *DeterministicCore) emit(output CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

// emitRejection persists a consumed source sequence. Projections and
// publishers never see rejections.
func (c *DeterministicCore) emitRejection(r Rejection) {
	if c.persistChan == nil {
		return
	}
	out := CoreOutput{Rejection: &r}
	select {
	case c.persistChan <- out:
	default:
		if c.metrics != nil {
			c.metrics.PersistBackpressure.Inc()
		}
		c.persistChan <- out
	}
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) recordStateMetrics(output *CoreOutput) {
	if c.metrics == nil {
		return
	}
	poolID := output.Pool.ID.String()
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.PoolStakedTotal.WithLabelValues(poolID).Set(float64(output.Pool.StakedTotal))
	c.metrics.PoolRewardBalance.WithLabelValues(poolID).Set(float64(output.Pool.RewardBalance))
	if output.Payout != nil {
		c.metrics.PoolRewardsPaid.WithLabelValues(poolID).Add(float64(output.Payout.Amount))
	}
	for _, j := range output.Batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
}

func (c *DeterministicCore) recordSequenceError(partition string, err error) {
	if c.metrics == nil {
		return
	}
	if errors.Is(err, ErrSequenceGap) {
		c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	} else {
		c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
	}
}

func sequenceReason(err error) string {
	if errors.Is(err, ErrSequenceGap) {
		return "gap"
	}
	return "out_of_order"
}

// partitionOf determines the partition key for sequence validation. Each
// pool is an independent upstream stream.
func partitionOf(evt event.Event) string {
	return "pool:" + evt.PoolID().String()
}

// computeStateDigest encodes every account the batch touched plus the
// touched pool and position, in a deterministic order.
func (c *DeterministicCore) computeStateDigest(res applied) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	for _, j := range res.batch.Journals {
		affectedAccounts[j.DebitAccount] = true
		affectedAccounts[j.CreditAccount] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*72+256)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	digest = append(digest, res.pool.CanonicalBytes()...)
	if res.position != nil {
		digest = append(digest, res.position.CanonicalBytes()...)
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	u := uint64(v)
	return append(buf,
		byte(u), byte(u>>8), byte(u>>16), byte(u>>24),
		byte(u>>32), byte(u>>40), byte(u>>48), byte(u>>56),
	)
}

// postCheckInvariants verifies the ledger against the touched pool, and
// periodically the whole system.
func (c *DeterministicCore) postCheckInvariants(pool *state.Pool) error {
	if err := c.validator.ValidatePoolCustody(pool.ID, pool.ShareCustody(), pool.RewardBalance()); err != nil {
		return fmt.Errorf("post-check custody: %w", err)
	}
	if pool.ShareCustody() != pool.StakedTotal {
		return fmt.Errorf("post-check pool %s: share custody %d, staked total %d", pool.ID, pool.ShareCustody(), pool.StakedTotal)
	}

	if c.sequence > 0 && c.sequence%globalCheckInterval == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global balance at seq %d: %w", c.sequence, err)
		}
		for _, p := range c.pools.GetAllPools() {
			if err := c.pools.VerifyStakedTotal(p.ID); err != nil {
				return fmt.Errorf("post-check staked total at seq %d: %w", c.sequence, err)
			}
		}
	}
	return nil
}

// --- Handlers ---

func (c *DeterministicCore) meta(evt event.Event) ledger.EventMeta {
	return ledger.EventMeta{Ref: evt.IdempotencyKey(), Sequence: c.sequence, Timestamp: evt.EventTime()}
}

func (c *DeterministicCore) handlePoolCreated(evt *event.PoolCreated) (applied, error) {
	pool, _, err := c.pools.CreatePool(state.PoolParams{
		ID:                  evt.Pool,
		AdminCapID:          evt.AdminCapID,
		ShareAsset:          custody.Asset(evt.ShareAsset),
		RewardAsset:         custody.Asset(evt.RewardAsset),
		ShareDecimals:       evt.ShareDecimals,
		RewardRatePerSecond: evt.RewardRatePerSecond,
		ReleaseTime:         evt.ReleaseTime,
	}, evt.Timestamp)
	if err != nil {
		return applied{}, err
	}
	return applied{batch: ledger.NewBatch(c.meta(evt)), pool: pool}, nil
}

func (c *DeterministicCore) handlePositionOpened(evt *event.PositionOpened) (applied, error) {
	pos, err := c.pools.OpenPosition(evt.PositionID, evt.Pool, evt.Owner)
	if err != nil {
		return applied{}, err
	}
	pool, _ := c.pools.GetPool(evt.Pool)
	return applied{batch: ledger.NewBatch(c.meta(evt)), pool: pool, position: pos}, nil
}

func (c *DeterministicCore) handleStaked(evt *event.Staked) (applied, error) {
	pool, pos, err := c.lookup(evt.Pool, evt.PositionID)
	if err != nil {
		return applied{}, err
	}
	if evt.Amount > math.MaxInt64 || pool.StakedTotal > math.MaxInt64-evt.Amount {
		return applied{}, fmt.Errorf("%w: pool %s staked total %d + %d", ledger.ErrAmountOutOfRange, pool.ID, pool.StakedTotal, evt.Amount)
	}

	deposit := custody.FromDeposit(custody.Asset(evt.Asset), evt.Amount)
	reward, err := state.Stake(pool, pos, deposit, evt.Timestamp)
	if err != nil {
		return applied{}, err
	}

	batch, err := c.journalGen.GenerateStake(c.meta(evt), pool.ID, pos.ID, evt.Amount, reward.Value())
	if err != nil {
		panic(fmt.Sprintf("FATAL: stake journals after state change: %v", err))
	}
	return applied{batch: batch, pool: pool, position: pos, payout: reward.Value()}, nil
}

func (c *DeterministicCore) handleUnstaked(evt *event.Unstaked) (applied, error) {
	pool, pos, err := c.lookup(evt.Pool, evt.PositionID)
	if err != nil {
		return applied{}, err
	}

	shares, reward, err := state.Unstake(pool, pos, evt.Amount, evt.Timestamp)
	if err != nil {
		return applied{}, err
	}

	batch, err := c.journalGen.GenerateUnstake(c.meta(evt), pool.ID, pos.ID, shares.Value(), reward.Value())
	if err != nil {
		panic(fmt.Sprintf("FATAL: unstake journals after state change: %v", err))
	}
	return applied{batch: batch, pool: pool, position: pos, payout: reward.Value()}, nil
}

func (c *DeterministicCore) handleRewardFunded(evt *event.RewardFunded) (applied, error) {
	pool, ok := c.pools.GetPool(evt.Pool)
	if !ok {
		return applied{}, fmt.Errorf("%w: %s", state.ErrPoolNotFound, evt.Pool)
	}
	if evt.Amount > math.MaxInt64 || pool.RewardBalance() > math.MaxInt64-evt.Amount {
		return applied{}, fmt.Errorf("%w: pool %s reward balance %d + %d", ledger.ErrAmountOutOfRange, pool.ID, pool.RewardBalance(), evt.Amount)
	}

	if err := state.Fund(pool, custody.FromDeposit(custody.Asset(evt.Asset), evt.Amount), evt.Timestamp); err != nil {
		return applied{}, err
	}

	batch, err := c.journalGen.GenerateRewardFund(c.meta(evt), pool.ID, evt.Amount)
	if err != nil {
		panic(fmt.Sprintf("FATAL: fund journals after state change: %v", err))
	}
	return applied{batch: batch, pool: pool}, nil
}

func (c *DeterministicCore) handleRewardRateUpdated(evt *event.RewardRateUpdated) (applied, error) {
	pool, ok := c.pools.GetPool(evt.Pool)
	if !ok {
		return applied{}, fmt.Errorf("%w: %s", state.ErrPoolNotFound, evt.Pool)
	}
	admin, ok := c.pools.AdminCap(evt.AdminCapID)
	if !ok {
		return applied{}, fmt.Errorf("%w: unknown credential %s", state.ErrUnauthorized, evt.AdminCapID)
	}
	if err := state.SetRewardRate(pool, admin, evt.RewardRatePerSecond, evt.Timestamp); err != nil {
		return applied{}, err
	}
	return applied{batch: ledger.NewBatch(c.meta(evt)), pool: pool}, nil
}

func (c *DeterministicCore) lookup(poolID, positionID uuid.UUID) (*state.Pool, *state.Position, error) {
	pool, ok := c.pools.GetPool(poolID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", state.ErrPoolNotFound, poolID)
	}
	pos, ok := c.pools.GetPosition(positionID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", state.ErrPositionNotFound, positionID)
	}
	return pool, pos, nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (applied, error) {
	switch e := evt.(type) {
	case *event.PoolCreated:
		return c.handlePoolCreated(e)
	case *event.PositionOpened:
		return c.handlePositionOpened(e)
	case *event.Staked:
		return c.handleStaked(e)
	case *event.Unstaked:
		return c.handleUnstaked(e)
	case *event.RewardFunded:
		return c.handleRewardFunded(e)
	case *event.RewardRateUpdated:
		return c.handleRewardRateUpdated(e)
	default:
		return applied{}, fmt.Errorf("%w: %T", event.ErrUnknownEventType, evt)
	}
}

// --- Reads ---

// Pending returns the reward a position could claim at now. Like every
// other method it must be called from the goroutine that owns the core.
func (c *DeterministicCore) Pending(positionID uuid.UUID, now int64) (uint64, error) {
	pos, ok := c.pools.GetPosition(positionID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", state.ErrPositionNotFound, positionID)
	}
	pool, ok := c.pools.GetPool(pos.PoolID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", state.ErrPoolNotFound, pos.PoolID)
	}
	return state.Pending(pool, pos, now)
}

// Pool returns the current record of a pool.
func (c *DeterministicCore) Pool(id uuid.UUID) (state.PoolRecord, bool) {
	p, ok := c.pools.GetPool(id)
	if !ok {
		return state.PoolRecord{}, false
	}
	return p.Record(), true
}

// Position returns the current record of a position.
func (c *DeterministicCore) Position(id uuid.UUID) (state.PositionRecord, bool) {
	p, ok := c.pools.GetPosition(id)
	if !ok {
		return state.PositionRecord{}, false
	}
	return p.Record(), true
}

// PositionRewardsPaid is the ledger total of rewards paid to a position.
func (c *DeterministicCore) PositionRewardsPaid(id uuid.UUID) int64 {
	return c.balanceTracker.PositionRewardsPaid(id)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the in-memory state needed for a warm restart.
type SnapshotState struct {
	Sequence        int64 // last applied sequence
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Pools           []state.PoolRecord
	Positions       []state.PositionRecord
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// Events after snap.Sequence are then replayed with ReplayEvent.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if err := c.pools.Restore(snap.Pools, snap.Positions); err != nil {
		return fmt.Errorf("restore pools: %w", err)
	}
	c.balanceTracker.Restore(snap.Balances)

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	for _, p := range c.pools.GetAllPools() {
		if err := c.validator.ValidatePoolCustody(p.ID, p.ShareCustody(), p.RewardBalance()); err != nil {
			return fmt.Errorf("restored snapshot inconsistent: %w", err)
		}
		if err := c.pools.VerifyStakedTotal(p.ID); err != nil {
			return fmt.Errorf("restored snapshot inconsistent: %w", err)
		}
	}
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
// RestoreRejectedCursors moves partition cursors past persisted
// rejections. Call it after replay; cursors never move backwards.
func (c *DeterministicCore) RestoreRejectedCursors(lastRejected map[string]int64) {
	for partition, seq := range lastRejected {
		if seq+1 > c.sequenceValidator.GetExpectedSequence(partition) {
			c.sequenceValidator.RestorePartition(partition, seq+1)
		}
	}
}

func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the sequence the next applied event will get.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	pools := c.pools.GetAllPools()
	positions := c.pools.GetAllPositions()

	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Pools:           make([]state.PoolRecord, 0, len(pools)),
		Positions:       make([]state.PositionRecord, 0, len(positions)),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
	for _, p := range pools {
		snap.Pools = append(snap.Pools, p.Record())
	}
	for _, p := range positions {
		snap.Positions = append(snap.Positions, p.Record())
	}
	return snap
}
