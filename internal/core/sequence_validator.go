package core

import (
	"errors"
	"fmt"
)

var (
	ErrSequenceGap = errors.New("sequence gap")
	ErrOutOfOrder  = errors.New("out-of-order event")
)

// FirstSourceSequence is the sequence of the first event in a partition.
const FirstSourceSequence int64 = 1

// SequenceValidator validates source sequences per partition.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering and advances the
// partition on success. Redelivered duplicates below the expected sequence
// pass without advancing.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.GetExpectedSequence(partition)

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	sv.metrics.RecordGap(partition)
	return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
		ErrSequenceGap, partition, expected, sourceSequence)
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	if seq, ok := sv.expectedNextSeq[partition]; ok {
		return seq
	}
	return FirstSourceSequence
}

// RestorePartition initializes expected sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, nextSeq int64) {
	sv.expectedNextSeq[partition] = nextSeq
}

// GetAllPartitions returns a copy of every partition's next sequence.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

func (sv *SequenceValidator) Metrics() *SequenceMetrics {
	return sv.metrics
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}
