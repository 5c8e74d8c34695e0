package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StakeLedger/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and hands raw
// messages to the shell for parsing. Each subject maps to an event type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is the parsed-but-untyped event from NATS, ready for the shell
// to validate and convert into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// InboundEvent is a validated event on its way into the core. Result, when
// non-nil, receives the outcome of ProcessEvent.
type InboundEvent struct {
	Event      event.Event
	ReceivedAt time.Time
	Result     chan<- error
}

// SubjectConfig maps NATS subjects to event types.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. The token
// after the prefix is the pool id, e.g. stake.stakes.<pool_id>.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "stake.pools.created.>", EventType: "PoolCreated", ConsumerName: "ledger-pools-created", StreamName: "STAKE_POOLS"},
		{Subject: "stake.positions.opened.>", EventType: "PositionOpened", ConsumerName: "ledger-positions-opened", StreamName: "STAKE_POSITIONS"},
		{Subject: "stake.stakes.>", EventType: "Staked", ConsumerName: "ledger-stakes", StreamName: "STAKE_STAKES"},
		{Subject: "stake.unstakes.>", EventType: "Unstaked", ConsumerName: "ledger-unstakes", StreamName: "STAKE_STAKES"},
		{Subject: "stake.rewards.funded.>", EventType: "RewardFunded", ConsumerName: "ledger-rewards-funded", StreamName: "STAKE_REWARDS"},
		{Subject: "stake.rewards.rate.>", EventType: "RewardRateUpdated", ConsumerName: "ledger-rewards-rate", StreamName: "STAKE_REWARDS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// ForwardRawEvents parses raw messages and forwards them to out. Messages
// are acked after the channel send, not after core processing, so a slow
// core applies backpressure instead of tripping AckWait. Unknown subjects
// and invalid payloads are acked and dropped. Returns when ctx is done or
// rawChan is closed.
func ForwardRawEvents(
	ctx context.Context,
	rawChan <-chan RawEvent,
	out chan<- InboundEvent,
	subjects []SubjectConfig,
	logger zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			eventType := ResolveEventType(raw.Subject, subjects)
			if eventType == "" {
				logger.Warn().Str("subject", raw.Subject).Msg("unknown NATS subject")
				raw.AckFunc()
				continue
			}

			evt, err := ParseRawEvent(raw, eventType)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse event failed")
				if errors.Is(err, ErrInvalidEvent) {
					raw.AckFunc()
				} else {
					raw.NakFunc()
				}
				continue
			}

			select {
			case out <- InboundEvent{Event: evt, ReceivedAt: raw.Timestamp}:
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{Name: "STAKE_POOLS", Subjects: []string{"stake.pools.>"}},
		{Name: "STAKE_POSITIONS", Subjects: []string{"stake.positions.>"}},
		{Name: "STAKE_STAKES", Subjects: []string{"stake.stakes.>", "stake.unstakes.>"}},
		{Name: "STAKE_REWARDS", Subjects: []string{"stake.rewards.>"}},
	}

	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("stakeledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
