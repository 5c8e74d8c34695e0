package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"StakeLedger/internal/observability"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// QueryService provides read-only access to projection tables. Every
// response carries as_of_sequence, the last event the projections include.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// PositionFilter narrows ListPositions. Nil fields match everything.
type PositionFilter struct {
	Owner  *uuid.UUID
	PoolID *uuid.UUID
}

// PayoutFilter narrows ListPayouts. BeforeSequence pages backwards.
type PayoutFilter struct {
	PoolID         *uuid.UUID
	PositionID     *uuid.UUID
	BeforeSequence *int64
}

func (qs *QueryService) GetPool(ctx context.Context, poolID uuid.UUID) (resp *PoolResponse, err error) {
	defer qs.observe("get_pool", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	rec, err := scanPool(qs.db.QueryRowContext(ctx, poolColumns+` WHERE pool_id = $1`, poolID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: pool %s", ErrNotFound, poolID)
	}
	if err != nil {
		return nil, err
	}
	return &PoolResponse{PoolRecord: rec, AsOfSequence: asOfSeq}, nil
}

func (qs *QueryService) ListPools(ctx context.Context, limit int) (resp []PoolResponse, err error) {
	defer qs.observe("list_pools", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := qs.db.QueryContext(ctx, poolColumns+` ORDER BY pool_id LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []PoolResponse
	for rows.Next() {
		rec, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, PoolResponse{PoolRecord: rec, AsOfSequence: asOfSeq})
	}
	return pools, rows.Err()
}

func (qs *QueryService) GetPosition(ctx context.Context, positionID uuid.UUID) (resp *PositionResponse, err error) {
	defer qs.observe("get_position", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := qs.loadPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	return &PositionResponse{PositionRecord: rec, AsOfSequence: asOfSeq}, nil
}

// ListPositions returns positions matching the filter, largest stake first.
func (qs *QueryService) ListPositions(ctx context.Context, filter PositionFilter, limit int) (resp []PositionResponse, err error) {
	defer qs.observe("list_positions", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := positionColumns + ` WHERE TRUE`
	var args []interface{}
	if filter.Owner != nil {
		args = append(args, *filter.Owner)
		query += fmt.Sprintf(" AND owner = $%d", len(args))
	}
	if filter.PoolID != nil {
		args = append(args, *filter.PoolID)
		query += fmt.Sprintf(" AND pool_id = $%d", len(args))
	}
	args = append(args, clampLimit(limit))
	query += fmt.Sprintf(" ORDER BY amount DESC, position_id LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		rec, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, PositionResponse{PositionRecord: rec, AsOfSequence: asOfSeq})
	}
	return positions, rows.Err()
}

// GetPendingReward computes what the position could claim at the given
// time from the projected pool and position.
func (qs *QueryService) GetPendingReward(ctx context.Context, positionID uuid.UUID, at int64) (resp *PendingRewardResponse, err error) {
	defer qs.observe("get_pending_reward", time.Now(), &err)

	if at <= 0 {
		return nil, fmt.Errorf("%w: time must be positive, got %d", ErrInvalidArgument, at)
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	posRec, err := qs.loadPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	poolRec, err := scanPool(qs.db.QueryRowContext(ctx, poolColumns+` WHERE pool_id = $1`, posRec.PoolID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: pool %s", ErrNotFound, posRec.PoolID)
	}
	if err != nil {
		return nil, err
	}

	pending, err := pendingFor(poolRec, posRec, at)
	if err != nil {
		return nil, err
	}
	return &PendingRewardResponse{
		PoolID:       posRec.PoolID,
		PositionID:   posRec.ID,
		Owner:        posRec.Owner,
		Staked:       posRec.Amount,
		At:           at,
		Pending:      pending,
		AsOfSequence: asOfSeq,
	}, nil
}

// ListPayouts returns settled rewards, newest first.
func (qs *QueryService) ListPayouts(ctx context.Context, filter PayoutFilter, limit int) (resp []PayoutResponse, err error) {
	defer qs.observe("list_payouts", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, pool_id, position_id, owner, amount, timestamp
		FROM projections.reward_payouts
		WHERE TRUE
	`
	var args []interface{}
	if filter.PoolID != nil {
		args = append(args, *filter.PoolID)
		query += fmt.Sprintf(" AND pool_id = $%d", len(args))
	}
	if filter.PositionID != nil {
		args = append(args, *filter.PositionID)
		query += fmt.Sprintf(" AND position_id = $%d", len(args))
	}
	if filter.BeforeSequence != nil {
		args = append(args, *filter.BeforeSequence)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	args = append(args, clampLimit(limit))
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []PayoutResponse
	for rows.Next() {
		p := PayoutResponse{AsOfSequence: asOfSeq}
		if err := rows.Scan(&p.Sequence, &p.PoolID, &p.PositionID, &p.Owner, &p.Amount, &p.Timestamp); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// GetJournalHistory returns journal entries touching any account of the
// pool or position with the given id, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	entityID uuid.UUID,
	limit int,
	afterSequence *int64,
) (resp []JournalHistoryEntry, err error) {
	defer qs.observe("journal_history", time.Now(), &err)

	accountPattern := fmt.Sprintf("%%:%s:%%", entityID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_class, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPattern}
	if afterSequence != nil {
		args = append(args, *afterSequence)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	args = append(args, clampLimit(limit))
	query += fmt.Sprintf(" ORDER BY sequence DESC, journal_id LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetClass, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain of the event log, that projected
// balances sum to zero per asset class, and that every pool's projected
// totals match its custody accounts.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)

	report = &IntegrityReport{}
	if report.AsOfSequence, err = qs.getWatermark(ctx); err != nil {
		return nil, err
	}

	if err := qs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&report.EventsChecked); err != nil {
		return nil, err
	}

	// Each row must link to its predecessor and sequences must be contiguous.
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence FROM (
			SELECT sequence, prev_hash,
			       LAG(state_hash) OVER (ORDER BY sequence) AS expected_prev,
			       LAG(sequence) OVER (ORDER BY sequence) AS prev_sequence
			FROM event_log.events
		) chain
		WHERE prev_sequence IS NOT NULL
		  AND (prev_hash <> expected_prev OR sequence <> prev_sequence + 1)
		ORDER BY sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_class, SUM(balance)::BIGINT AS total
		FROM projections.balances
		GROUP BY asset_class
		HAVING SUM(balance) <> 0
		ORDER BY asset_class
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()
	for balanceRows.Next() {
		var u UnbalancedClass
		if err := balanceRows.Scan(&u.AssetClass, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedClasses = append(report.UnbalancedClasses, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	custodyRows, err := qs.db.QueryContext(ctx, `
		SELECT p.pool_id
		FROM projections.pools p
		LEFT JOIN projections.balances s
		       ON s.account_path = 'pool:' || p.pool_id::text || ':staked_shares:share'
		LEFT JOIN projections.balances r
		       ON r.account_path = 'pool:' || p.pool_id::text || ':reward_balance:reward'
		WHERE p.staked_total <> COALESCE(s.balance, 0)
		   OR p.reward_balance <> COALESCE(r.balance, 0)
		ORDER BY p.pool_id
	`)
	if err != nil {
		return nil, err
	}
	defer custodyRows.Close()
	for custodyRows.Next() {
		var id uuid.UUID
		if err := custodyRows.Scan(&id); err != nil {
			return nil, err
		}
		report.CustodyMismatches = append(report.CustodyMismatches, id)
	}
	if err := custodyRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedClasses) == 0 &&
		len(report.CustodyMismatches) == 0
	return report, nil
}

// --- helpers ---

const poolColumns = `
	SELECT pool_id, share_asset, reward_asset, share_decimals, scaling_factor,
	       reward_rate_per_second, release_time, last_update_time, accumulator,
	       staked_total, reward_balance, owner_authority_id, version
	FROM projections.pools`

const positionColumns = `
	SELECT position_id, pool_id, owner, amount, reward_debt, version
	FROM projections.positions`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPool(row scanner) (state.PoolRecord, error) {
	var r state.PoolRecord
	err := row.Scan(
		&r.ID, &r.ShareAsset, &r.RewardAsset, &r.ShareDecimals, &r.ScalingFactor,
		&r.RewardRatePerSecond, &r.ReleaseTime, &r.LastUpdateTime, &r.Accumulator,
		&r.StakedTotal, &r.RewardBalance, &r.OwnerAuthorityID, &r.Version,
	)
	// Share custody always equals the staked total once an event has applied.
	r.ShareCustody = r.StakedTotal
	return r, err
}

func scanPosition(row scanner) (state.PositionRecord, error) {
	var r state.PositionRecord
	err := row.Scan(&r.ID, &r.PoolID, &r.Owner, &r.Amount, &r.RewardDebt, &r.Version)
	return r, err
}

func (qs *QueryService) loadPosition(ctx context.Context, positionID uuid.UUID) (state.PositionRecord, error) {
	rec, err := scanPosition(qs.db.QueryRowContext(ctx, positionColumns+` WHERE position_id = $1`, positionID))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("%w: position %s", ErrNotFound, positionID)
	}
	return rec, err
}

// pendingFor rebuilds pool and position values from their records and
// evaluates the pending reward at the given time.
func pendingFor(poolRec state.PoolRecord, posRec state.PositionRecord, at int64) (uint64, error) {
	pool, err := state.PoolFromRecord(poolRec)
	if err != nil {
		return 0, err
	}
	pos, err := state.PositionFromRecord(posRec)
	if err != nil {
		return 0, err
	}
	return state.Pending(pool, pos, at)
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) observe(endpoint string, start time.Time, errp *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if *errp != nil {
		status = "error"
		code := "internal"
		switch {
		case errors.Is(*errp, ErrNotFound):
			code = "not_found"
		case errors.Is(*errp, ErrInvalidArgument):
			code = "invalid_argument"
		}
		qs.metrics.QueryErrors.WithLabelValues(endpoint, code).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}
