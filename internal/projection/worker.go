package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const watermarkWorker = "main"

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop, so projections are
// eventually consistent and can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	payouts   *PayoutHistory
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	payouts *PayoutHistory,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		payouts:   payouts,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := Apply(ctx, pw.db, output); err != nil {
				pw.logger.Warn().Err(err).Int64("seq", output.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			if pw.payouts != nil && output.Payout != nil {
				pw.payouts.Add(*output.Payout)
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("pools").Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

// LastSequence is the sequence of the last output applied by Run.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Apply writes one core output to the projection tables in a single
// transaction. Rows only move forward: an output older than the stored row
// is ignored, so re-applying after a rebuild is harmless.
func Apply(ctx context.Context, db *sql.DB, output core.CoreOutput) error {
	seq := output.Envelope.Sequence

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertPool(ctx, tx, output, seq); err != nil {
		return fmt.Errorf("pool projection: %w", err)
	}
	if output.Position != nil {
		if err := upsertPosition(ctx, tx, output, seq); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := updateBalance(ctx, tx, j.DebitAccount.AccountPath(), int16(j.Class), j.Amount, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
			if err := updateBalance(ctx, tx, j.CreditAccount.AccountPath(), int16(j.Class), -j.Amount, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}
	if p := output.Payout; p != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.reward_payouts (sequence, pool_id, position_id, owner, amount, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sequence) DO NOTHING
		`, seq, p.PoolID, p.PositionID, p.Owner, u64(p.Amount), p.Timestamp); err != nil {
			return fmt.Errorf("payout projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $2), updated_at = NOW()
	`, watermarkWorker, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func upsertPool(ctx context.Context, tx *sql.Tx, output core.CoreOutput, seq int64) error {
	p := output.Pool
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pools
			(pool_id, share_asset, reward_asset, share_decimals, scaling_factor, reward_rate_per_second,
			 release_time, last_update_time, accumulator, staked_total, reward_balance,
			 owner_authority_id, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (pool_id) DO UPDATE SET
			reward_rate_per_second = EXCLUDED.reward_rate_per_second,
			last_update_time = EXCLUDED.last_update_time,
			accumulator = EXCLUDED.accumulator,
			staked_total = EXCLUDED.staked_total,
			reward_balance = EXCLUDED.reward_balance,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.pools.last_sequence < EXCLUDED.last_sequence
	`, p.ID, p.ShareAsset, p.RewardAsset, int16(p.ShareDecimals), u64(p.ScalingFactor), u64(p.RewardRatePerSecond),
		p.ReleaseTime, p.LastUpdateTime, p.Accumulator, u64(p.StakedTotal), u64(p.RewardBalance),
		p.OwnerAuthorityID, p.Version, seq)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, output core.CoreOutput, seq int64) error {
	p := output.Position
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (position_id, pool_id, owner, amount, reward_debt, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (position_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			reward_debt = EXCLUDED.reward_debt,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.positions.last_sequence < EXCLUDED.last_sequence
	`, p.ID, p.PoolID, p.Owner, u64(p.Amount), p.RewardDebt, p.Version, seq)
	return err
}

func updateBalance(ctx context.Context, tx *sql.Tx, accountPath string, class int16, delta, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_class, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_class)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
		WHERE projections.balances.last_sequence < $4
	`, accountPath, class, delta, seq)
	return err
}

// u64 passes an unsigned value as a decimal string; database/sql rejects
// uint64 arguments with the high bit set.
func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// RebuildProjections truncates the projection tables and rebuilds them by
// replaying the whole event log through a fresh core.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) (int64, error) {
	truncateStatements := []string{
		`TRUNCATE projections.pools`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.reward_payouts`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	replayer := core.NewDeterministicCore(1, nil, nil, nil, nil, logger)
	loader := persistence.NewSnapshotManager(db)

	const batchSize = 1000
	var applied int64
	from := int64(1)
	for {
		rows, err := loader.LoadEventsFrom(ctx, from, batchSize)
		if err != nil {
			return applied, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			env, err := r.Envelope()
			if err != nil {
				return applied, err
			}
			output, err := replayer.ReplayEventOutput(env)
			if err != nil {
				return applied, err
			}
			if err := Apply(ctx, db, output); err != nil {
				return applied, fmt.Errorf("apply seq %d: %w", env.Sequence, err)
			}
			applied++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	logger.Info().Int64("events", applied).Msg("projection rebuild complete")
	return applied, nil
}
