package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/observability"

	"github.com/rs/zerolog"
)

const maxFlushBackoff = 30 * time.Second

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on that channel with a blocking send, so if this worker
// falls behind the core stalls and no event is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// OnFlushed, when set, receives every applied output after it is durable.
	OnFlushed func(core.CoreOutput)
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled or the input channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	pending := make([]core.CoreOutput, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, pending); err != nil {
			pw.logger.Error().Err(err).Int("events", len(pending)).Msg("batch flush failed")
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			flush(context.Background())
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background())
				return nil
			}

			pending = append(pending, output)
			if len(pending) >= pw.batchSize {
				flush(ctx)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one final attempt is made.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, outputs []core.CoreOutput) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(outputs)).Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), outputs); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxFlushBackoff)
		}

		err := pw.flush(ctx, outputs)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, outputs []core.CoreOutput) error {
	start := time.Now()

	events := make([]EventRow, 0, len(outputs))
	var journals []JournalRow
	var rejections []RejectionRow
	for _, o := range outputs {
		if o.Rejection != nil {
			rejections = append(rejections, RejectionRowFrom(o.Rejection))
			continue
		}
		er, jrs := RowsFromOutput(o)
		events = append(events, er)
		journals = append(journals, jrs...)
	}

	// Write events, journals and rejections in a single transaction
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.recordError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.recordError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.recordError("write_journals")
		return err
	}
	if err := pw.writer.WriteRejectionBatch(ctx, tx, rejections); err != nil {
		pw.recordError("write_rejections")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.recordError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(events) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}

	if pw.OnFlushed != nil {
		for _, o := range outputs {
			if o.Rejection == nil {
				pw.OnFlushed(o)
			}
		}
	}
	return nil
}

func (pw *PersistenceWorker) recordError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
