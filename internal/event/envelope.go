package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePoolCreated
	EventTypePositionOpened
	EventTypeStaked
	EventTypeUnstaked
	EventTypeRewardFunded
	EventTypeRewardRateUpdated
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Pool the event belongs to
	PoolID uuid.UUID

	// Event time supplied by the host clock at ingestion (NOT wall-clock at
	// processing)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// PoolID returns the pool the event applies to. It is also the
	// ordering partition for SourceSequence.
	PoolID() uuid.UUID

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// EventTime returns the event's clock reading in unix seconds. All time
	// dependent pool math uses this value.
	EventTime() int64
}

var eventTypeNames = map[EventType]string{
	EventTypePoolCreated:       "PoolCreated",
	EventTypePositionOpened:    "PositionOpened",
	EventTypeStaked:            "Staked",
	EventTypeUnstaked:          "Unstaked",
	EventTypeRewardFunded:      "RewardFunded",
	EventTypeRewardRateUpdated: "RewardRateUpdated",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, bool) {
	for et, name := range eventTypeNames {
		if name == s {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// AllEventTypes lists every known type in declaration order.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypePoolCreated,
		EventTypePositionOpened,
		EventTypeStaked,
		EventTypeUnstaked,
		EventTypeRewardFunded,
		EventTypeRewardRateUpdated,
	}
}
