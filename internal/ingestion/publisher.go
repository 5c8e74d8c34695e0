package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundSubjectPrefix is where processed events are published, as
// stake.ledger.events.<event_type>.<pool_id>.
const OutboundSubjectPrefix = "stake.ledger.events"

// streamPublisher is the part of jetstream.JetStream the publisher uses.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes processed events to NATS for downstream
// consumers. Only durable events reach it: the persistence worker forwards
// outputs after commit.
type OutboundPublisher struct {
	js        streamPublisher
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is a processed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	PoolID         uuid.UUID       `json:"pool_id"`
	Payload        json.RawMessage `json:"payload"`
	Payout         *core.Payout    `json:"payout,omitempty"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// PublishableFrom builds the outbound form of a core output.
func PublishableFrom(output core.CoreOutput) PublishableEvent {
	env := output.Envelope
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PoolID:         env.PoolID,
		Payload:        env.Payload,
		Payout:         output.Payout,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
}

// Subject is the NATS subject the event is published on.
func (e PublishableEvent) Subject() string {
	return fmt.Sprintf("%s.%s.%s", OutboundSubjectPrefix, e.EventType, e.PoolID)
}

func NewOutboundPublisher(
	js streamPublisher,
	inputChan <-chan PublishableEvent,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			status := "ok"
			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log directly.
				op.logger.Warn().Err(err).Int64("seq", evt.Sequence).Msg("outbound publish failed")
				status = "error"
			}
			if op.metrics != nil {
				op.metrics.PublishedEvents.WithLabelValues(evt.EventType, status).Inc()
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The message id lets JetStream drop republished duplicates.
	_, err = op.js.Publish(ctx, evt.Subject(), data,
		jetstream.WithMsgID(fmt.Sprintf("%s:%d", evt.EventType, evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "STAKE_LEDGER_EVENTS",
		Subjects:   []string{OutboundSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "STAKE_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}
