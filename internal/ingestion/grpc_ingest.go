package ingestion

import (
	"context"
	"time"

	"StakeLedger/internal/event"
)

// GRPCIngestService provides admin/manual event injection via gRPC. It is
// for operators and tests, not high-throughput ingestion (use NATS for that).
type GRPCIngestService struct {
	eventChan chan<- InboundEvent
}

func NewGRPCIngestService(eventChan chan<- InboundEvent) *GRPCIngestService {
	return &GRPCIngestService{eventChan: eventChan}
}

// Submit parses a JSON payload in the inbound wire format and waits for the
// core to process it. The returned error is the parse failure or the core's
// verdict.
func (s *GRPCIngestService) Submit(ctx context.Context, eventType string, payload []byte) (event.Event, error) {
	evt, err := ParseRawEvent(RawEvent{Subject: eventType, Data: payload, Timestamp: time.Now()}, eventType)
	if err != nil {
		return nil, err
	}
	return evt, s.Inject(ctx, evt)
}

// Inject sends an already-typed event to the core and waits for the result.
func (s *GRPCIngestService) Inject(ctx context.Context, evt event.Event) error {
	result := make(chan error, 1)

	select {
	case s.eventChan <- InboundEvent{Event: evt, ReceivedAt: time.Now(), Result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
