package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/event"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row
// INSERT. Writes are idempotent on the primary keys so a retried flush
// after a partial failure is safe.
type EventLogWriter struct{}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	PoolID         string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetClass    int16
	Amount        int64
	JournalType   int16
	Timestamp     int64
}

// RejectionRow represents a row in event_log.rejections
type RejectionRow struct {
	Partition      string
	SourceSequence int64
	EventType      string
	IdempotencyKey string
	Reason         string
	Timestamp      int64
}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

// RowsFromOutput converts a core output into its event log rows.
func RowsFromOutput(out core.CoreOutput) (EventRow, []JournalRow) {
	env := out.Envelope
	er := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PoolID:         env.PoolID.String(),
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}

	var jrs []JournalRow
	if out.Batch != nil {
		jrs = make([]JournalRow, 0, len(out.Batch.Journals))
		for _, j := range out.Batch.Journals {
			jrs = append(jrs, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetClass:    int16(j.Class),
				Amount:        j.Amount,
				JournalType:   int16(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}
	return er, jrs
}

// RejectionRowFrom converts a rejection output into its row.
func RejectionRowFrom(r *core.Rejection) RejectionRow {
	return RejectionRow{
		Partition:      r.Partition,
		SourceSequence: r.SourceSequence,
		EventType:      r.EventType,
		IdempotencyKey: r.IdempotencyKey,
		Reason:         r.Reason,
		Timestamp:      r.Timestamp,
	}
}

// Envelope rebuilds the envelope a row was written from.
func (r EventRow) Envelope() (*event.EventEnvelope, error) {
	et, ok := event.ParseEventType(r.EventType)
	if !ok {
		return nil, fmt.Errorf("%w: %q at seq %d", event.ErrUnknownEventType, r.EventType, r.Sequence)
	}
	env := &event.EventEnvelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		EventType:      et,
		Timestamp:      r.Timestamp.UTC(),
		SourceSequence: r.SourceSequence,
		Payload:        r.Payload,
	}
	if err := env.PoolID.UnmarshalText([]byte(r.PoolID)); err != nil {
		return nil, fmt.Errorf("seq %d pool_id: %w", r.Sequence, err)
	}
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("seq %d: hash length %d/%d", r.Sequence, len(r.StateHash), len(r.PrevHash))
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

// WriteEventBatch writes a batch of events to event_log.events using multi-row INSERT.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, pool_id, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*9)

	for i, e := range events {
		values = append(values, placeholders(i*9, 9))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.PoolID,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_class, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*10)

	for i, j := range journals {
		values = append(values, placeholders(i*10, 10))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetClass, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteRejectionBatch records consumed source sequences of rejected events.
func (w *EventLogWriter) WriteRejectionBatch(ctx context.Context, ex execer, rejections []RejectionRow) error {
	if len(rejections) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.rejections
		(partition, source_sequence, event_type, idempotency_key, reason, timestamp)
		VALUES `

	values := make([]string, 0, len(rejections))
	args := make([]any, 0, len(rejections)*6)

	for i, r := range rejections {
		values = append(values, placeholders(i*6, 6))
		args = append(args, r.Partition, r.SourceSequence, r.EventType, r.IdempotencyKey, r.Reason, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (partition, source_sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
