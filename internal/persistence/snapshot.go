package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/ledger"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
)

// snapshotFormatVersion v1: JSON-encoded SnapshotData.
const snapshotFormatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64                  `json:"sequence"`
	StateHash       []byte                 `json:"state_hash"`
	Balances        map[string]int64       `json:"balances"` // AccountPath -> balance
	Pools           []state.PoolRecord     `json:"pools"`
	Positions       []state.PositionRecord `json:"positions"`
	SequenceState   map[string]int64       `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string               `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time              `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotDataFrom converts core state into its stored form.
func SnapshotDataFrom(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make(map[string]int64, len(s.Balances))
	for key, bal := range s.Balances {
		balances[key.AccountPath()] = bal
	}
	return &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Balances:        balances,
		Pools:           s.Pools,
		Positions:       s.Positions,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt.UTC(),
	}
}

// CoreState converts stored snapshot data back into core state.
func (d *SnapshotData) CoreState() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash length %d", d.Sequence, len(d.StateHash))
	}
	balances := make(map[ledger.AccountKey]int64, len(d.Balances))
	for path, bal := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		balances[key] = bal
	}

	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        balances,
		Pools:           d.Pools,
		Positions:       d.Positions,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)
	return s, nil
}

// SaveSnapshot persists a snapshot and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. It returns
// nil without error when there is none (cold start).
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// WaitForSequence blocks until the event log holds seq. A snapshot is only
// saved once every event it covers is durable, otherwise a crash could leave
// a snapshot ahead of the log.
func (sm *SnapshotManager) WaitForSequence(ctx context.Context, seq int64, poll time.Duration) error {
	for {
		latest, err := sm.GetLatestSequence(ctx)
		if err != nil {
			return err
		}
		if latest >= seq {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// LoadEventsFrom loads up to limit events starting at fromSequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, pool_id::text, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.PoolID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// LoadRejectedCursors returns the highest rejected source sequence per
// partition.
func (sm *SnapshotManager) LoadRejectedCursors(ctx context.Context) (map[string]int64, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT partition, MAX(source_sequence)
		FROM event_log.rejections
		GROUP BY partition
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cursors := make(map[string]int64)
	for rows.Next() {
		var partition string
		var seq int64
		if err := rows.Scan(&partition, &seq); err != nil {
			return nil, err
		}
		cursors[partition] = seq
	}
	return cursors, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
