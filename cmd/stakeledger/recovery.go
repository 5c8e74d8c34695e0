package main

import (
	"context"
	"fmt"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/ingestion"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// recoverCore builds the core from the latest verified snapshot plus the
// event log after it. With no snapshot the whole log is replayed.
func recoverCore(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	dbChecker *persistence.PostgresIdempotencyChecker,
	persistChan, projectionChan chan<- core.CoreOutput,
	metrics *observability.Metrics,
	cfg Config,
	logger zerolog.Logger,
) (*core.DeterministicCore, error) {
	start := time.Now()
	c := core.NewDeterministicCore(1, persistChan, projectionChan, dbChecker, metrics,
		logger.With().Str("component", "core").Logger())

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		// A broken snapshot only costs a longer replay.
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying full log")
		snap = nil
	}
	if snap != nil {
		state, err := snap.CoreState()
		if err != nil {
			return nil, err
		}
		if err := c.RestoreFromSnapshot(state); err != nil {
			return nil, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		logger.Info().Int64("seq", snap.Sequence).Int("pools", len(snap.Pools)).Msg("restored from snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	// Keys of events after the snapshot are re-added by replay; this covers
	// keys that fell out of the snapshot's LRU.
	keys, err := dbChecker.LoadRecentKeys(ctx, cfg.IdempotencyWarmKeys)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load recent idempotency keys")
	} else if len(keys) > 0 {
		c.WarmLRU(keys)
		logger.Info().Int("keys", len(keys)).Msg("idempotency LRU warmed")
	}

	replayed, err := replayEventLog(ctx, snapMgr, c)
	if err != nil {
		return nil, fmt.Errorf("event replay: %w", err)
	}

	rejected, err := snapMgr.LoadRejectedCursors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rejected cursors: %w", err)
	}
	c.RestoreRejectedCursors(rejected)
	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
		metrics.CoreSequence.Set(float64(c.GetSequence() - 1))
	}
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", c.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return c, nil
}

// replayEventLog re-applies every logged event from the core's cursor to
// the head of the log. Any hash mismatch aborts recovery.
func replayEventLog(ctx context.Context, snapMgr *persistence.SnapshotManager, c *core.DeterministicCore) (int64, error) {
	var total int64
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, c.GetSequence(), replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load events from seq %d: %w", c.GetSequence(), err)
		}
		if len(rows) == 0 {
			return total, nil
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return total, err
			}
			if err := c.ReplayEvent(env); err != nil {
				return total, err
			}
			total++
		}
	}
}

// coreLoop owns the deterministic core: every call into it happens on the
// goroutine running Run.
type coreLoop struct {
	core     *core.DeterministicCore
	snapMgr  *persistence.SnapshotManager
	inbound  <-chan ingestion.InboundEvent
	interval int64
	check    time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
	channels map[string]func() (size, capacity int)

	lastSnapshot int64
	saving       chan struct{}
}

func (l *coreLoop) Run(ctx context.Context) {
	l.lastSnapshot = l.core.GetSequence() - 1
	if l.interval <= 0 {
		l.interval = 100_000
	}
	ticker := time.NewTicker(l.check)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.rejectPending(ctx.Err())
			return

		case in := <-l.inbound:
			l.process(in)

		case <-ticker.C:
			l.reportChannels()
			l.maybeSnapshot(ctx)
		}
	}
}

func (l *coreLoop) process(in ingestion.InboundEvent) {
	err := l.core.ProcessEvent(in.Event)
	if err != nil {
		l.logger.Debug().Err(err).
			Str("event_type", in.Event.EventType().String()).
			Str("key", in.Event.IdempotencyKey()).
			Msg("event not applied")
	}
	if l.metrics != nil && !in.ReceivedAt.IsZero() {
		l.metrics.IngestToApply.WithLabelValues(in.Event.EventType().String()).Observe(time.Since(in.ReceivedAt).Seconds())
	}
	if in.Result != nil {
		in.Result <- err
	}
}

// rejectPending answers callers still waiting on queued events.
func (l *coreLoop) rejectPending(err error) {
	for {
		select {
		case in := <-l.inbound:
			if in.Result != nil {
				in.Result <- err
			}
		default:
			return
		}
	}
}

func (l *coreLoop) reportChannels() {
	if l.metrics == nil {
		return
	}
	for name, sizes := range l.channels {
		size, capacity := sizes()
		l.metrics.SetChannelMetrics(name, size, capacity)
	}
}

// maybeSnapshot captures state on the core goroutine and saves it in the
// background once the log has caught up with it. One save runs at a time.
func (l *coreLoop) maybeSnapshot(ctx context.Context) {
	seq := l.core.GetSequence() - 1
	if seq-l.lastSnapshot < l.interval {
		return
	}
	if l.saving != nil {
		select {
		case <-l.saving:
		default:
			return
		}
	}

	state := l.core.CreateSnapshotState()
	l.lastSnapshot = seq
	done := make(chan struct{})
	l.saving = done
	go func() {
		defer close(done)
		if err := saveSnapshot(ctx, l.snapMgr, state, l.metrics); err != nil {
			l.logger.Warn().Err(err).Int64("seq", state.Sequence).Msg("periodic snapshot failed")
			return
		}
		l.logger.Info().Int64("seq", state.Sequence).Msg("periodic snapshot saved")
	}()
}

// saveSnapshot waits until the log holds the snapshot's sequence, saves it
// and marks it verified.
func saveSnapshot(ctx context.Context, snapMgr *persistence.SnapshotManager, state *core.SnapshotState, metrics *observability.Metrics) error {
	start := time.Now()

	if err := snapMgr.WaitForSequence(ctx, state.Sequence, 50*time.Millisecond); err != nil {
		return fmt.Errorf("wait for seq %d: %w", state.Sequence, err)
	}
	size, err := snapMgr.SaveSnapshot(ctx, persistence.SnapshotDataFrom(state, time.Now()))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := snapMgr.MarkVerified(ctx, state.Sequence); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	return nil
}
