package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/event"
	"StakeLedger/internal/ingestion"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	poolID     = "550e8400-e29b-41d4-a716-446655440000"
	positionID = "660e8400-e29b-41d4-a716-446655440001"
	otherID    = "770e8400-e29b-41d4-a716-446655440002"
)

func rawFromJSON(t *testing.T, subject string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParsePoolCreated(t *testing.T) {
	payload := map[string]interface{}{
		"pool_id":                poolID,
		"admin_cap_id":           otherID,
		"share_asset":            "MUSIC",
		"reward_asset":           "SUI",
		"share_decimals":         6,
		"reward_rate_per_second": 100,
		"release_time":           int64(1_700_000_000),
		"sequence":               1,
		"timestamp":              int64(1_699_999_900),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "test", payload), "PoolCreated")
	require.NoError(t, err)

	pc, ok := evt.(*event.PoolCreated)
	require.True(t, ok, "got %T", evt)
	assert.Equal(t, uuid.MustParse(poolID), pc.Pool)
	assert.Equal(t, uint8(6), pc.ShareDecimals)
	assert.Equal(t, uint64(100), pc.RewardRatePerSecond)
	assert.Equal(t, int64(1_700_000_000), pc.ReleaseTime)
	assert.Equal(t, event.EventTypePoolCreated, pc.EventType())
}

func TestParseStaked_ZeroAmountAllowed(t *testing.T) {
	payload := map[string]interface{}{
		"stake_id":    otherID,
		"position_id": positionID,
		"pool_id":     poolID,
		"asset":       "MUSIC",
		"amount":      0,
		"sequence":    3,
		"timestamp":   int64(1_700_000_050),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "test", payload), "Staked")
	require.NoError(t, err)
	s := evt.(*event.Staked)
	assert.Zero(t, s.Amount)
	assert.Equal(t, int64(3), s.SourceSequence())
	assert.Equal(t, int64(1_700_000_050), s.EventTime())
}

func TestParseUnstaked(t *testing.T) {
	payload := map[string]interface{}{
		"unstake_id":  otherID,
		"position_id": positionID,
		"pool_id":     poolID,
		"amount":      500_000,
		"sequence":    5,
		"timestamp":   int64(1_700_000_050),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "test", payload), "Unstaked")
	require.NoError(t, err)
	u := evt.(*event.Unstaked)
	assert.Equal(t, uint64(500_000), u.Amount)
	assert.Equal(t, uuid.MustParse(positionID), u.PositionID)
}

func TestParseRewardFunded_ZeroAmountFails(t *testing.T) {
	payload := map[string]interface{}{
		"funding_id": otherID,
		"pool_id":    poolID,
		"funder":     positionID,
		"asset":      "SUI",
		"amount":     0,
		"sequence":   4,
		"timestamp":  int64(1_700_000_000),
	}

	_, err := ingestion.ParseRawEvent(rawFromJSON(t, "test", payload), "RewardFunded")
	require.ErrorIs(t, err, ingestion.ErrInvalidEvent)
}

func TestParseAmountBeyondLedgerRange_Fails(t *testing.T) {
	payloads := map[string]map[string]interface{}{
		"Staked": {
			"stake_id": otherID, "position_id": positionID, "pool_id": poolID, "asset": "MUSIC",
		},
		"Unstaked": {
			"unstake_id": otherID, "position_id": positionID, "pool_id": poolID,
		},
		"RewardFunded": {
			"funding_id": otherID, "pool_id": poolID, "funder": positionID, "asset": "SUI",
		},
	}
	for eventType, payload := range payloads {
		t.Run(eventType, func(t *testing.T) {
			payload["sequence"] = 3
			payload["timestamp"] = int64(1_700_000_000)

			payload["amount"] = uint64(math.MaxInt64) + 1
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, "test", payload), eventType)
			require.ErrorIs(t, err, ingestion.ErrInvalidEvent)

			payload["amount"] = uint64(math.MaxInt64)
			_, err = ingestion.ParseRawEvent(rawFromJSON(t, "test", payload), eventType)
			require.NoError(t, err)
		})
	}
}

func TestParseRewardRateUpdated(t *testing.T) {
	payload := map[string]interface{}{
		"update_id":              otherID,
		"pool_id":                poolID,
		"admin_cap_id":           positionID,
		"reward_rate_per_second": 250,
		"sequence":               9,
		"timestamp":              int64(1_700_000_100),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "test", payload), "RewardRateUpdated")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), evt.(*event.RewardRateUpdated).RewardRatePerSecond)
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	_, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: []byte(`{}`)}, "TradeFill")
	require.ErrorIs(t, err, ingestion.ErrInvalidEvent)
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	_, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: []byte(`{not json`)}, "Staked")
	require.ErrorIs(t, err, ingestion.ErrInvalidEvent)
}

func TestParseNegativeAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"unstake_id":  otherID,
		"position_id": positionID,
		"pool_id":     poolID,
		"amount":      -1,
		"sequence":    5,
		"timestamp":   int64(1_700_000_050),
	}
	_, err := ingestion.ParseRawEvent(rawFromJSON(t, "test", payload), "Unstaked")
	require.Error(t, err)
}

func TestParseInvalidIDs_Fail(t *testing.T) {
	cases := map[string]string{
		"malformed": "not-a-uuid",
		"nil":       uuid.Nil.String(),
	}
	for name, id := range cases {
		t.Run(name, func(t *testing.T) {
			payload := map[string]interface{}{
				"position_id": positionID,
				"pool_id":     id,
				"owner":       otherID,
				"sequence":    2,
				"timestamp":   int64(1_700_000_000),
			}
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, "test", payload), "PositionOpened")
			require.ErrorIs(t, err, ingestion.ErrInvalidEvent)
		})
	}
}

func TestParseMissingSequence_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"position_id": positionID,
		"pool_id":     poolID,
		"owner":       otherID,
		"timestamp":   int64(1_700_000_000),
	}
	_, err := ingestion.ParseRawEvent(rawFromJSON(t, "test", payload), "PositionOpened")
	require.ErrorIs(t, err, ingestion.ErrInvalidEvent)
}

func TestResolveEventType(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	cases := map[string]string{
		"stake.pools.created." + poolID:   "PoolCreated",
		"stake.positions.opened." + poolID: "PositionOpened",
		"stake.stakes." + poolID:           "Staked",
		"stake.unstakes." + poolID:         "Unstaked",
		"stake.rewards.funded." + poolID:   "RewardFunded",
		"stake.rewards.rate." + poolID:     "RewardRateUpdated",
		"stake.ledger.events.Staked":       "",
		"orders.fills.BTC":                 "",
	}
	for subject, want := range cases {
		assert.Equal(t, want, ingestion.ResolveEventType(subject, subjects), subject)
	}
}

func TestForwardRawEvents_AckAndNak(t *testing.T) {
	raws := make(chan ingestion.RawEvent, 4)
	out := make(chan ingestion.InboundEvent, 4)

	var acked, naked []string
	track := func(raw ingestion.RawEvent, label string) ingestion.RawEvent {
		raw.AckFunc = func() { acked = append(acked, label) }
		raw.NakFunc = func() { naked = append(naked, label) }
		return raw
	}

	good := rawFromJSON(t, "stake.positions.opened."+poolID, map[string]interface{}{
		"position_id": positionID, "pool_id": poolID, "owner": otherID,
		"sequence": 2, "timestamp": int64(1_700_000_000),
	})
	raws <- track(good, "good")
	raws <- track(ingestion.RawEvent{Subject: "stake.unknown.x", Data: []byte(`{}`)}, "unknown")
	raws <- track(ingestion.RawEvent{Subject: "stake.stakes." + poolID, Data: []byte(`{}`)}, "invalid")
	close(raws)

	ingestion.ForwardRawEvents(context.Background(), raws, out, ingestion.DefaultSubjects(), zerolog.Nop())

	require.Len(t, out, 1)
	in := <-out
	assert.Equal(t, event.EventTypePositionOpened, in.Event.EventType())
	assert.Len(t, acked, 3)
	assert.Empty(t, naked)
}

func TestGRPCIngestService_ReturnsCoreVerdict(t *testing.T) {
	in := make(chan ingestion.InboundEvent, 1)
	svc := ingestion.NewGRPCIngestService(in)
	rejected := errors.New("rejected")

	go func() {
		e := <-in
		e.Result <- rejected
	}()

	_, err := svc.Submit(context.Background(), "PositionOpened", []byte(`{
		"position_id": "`+positionID+`", "pool_id": "`+poolID+`", "owner": "`+otherID+`",
		"sequence": 2, "timestamp": 1700000000
	}`))
	require.ErrorIs(t, err, rejected)

	_, err = svc.Submit(context.Background(), "PositionOpened", []byte(`{}`))
	require.ErrorIs(t, err, ingestion.ErrInvalidEvent)
}

type recordingStream struct {
	subjects []string
	payloads [][]byte
}

func (r *recordingStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, payload)
	return &jetstream.PubAck{Stream: "STAKE_LEDGER_EVENTS"}, nil
}

func TestOutboundPublisher_SubjectPerTypeAndPool(t *testing.T) {
	out := make(chan core.CoreOutput, 2)
	c := core.NewDeterministicCore(1, out, nil, nil, nil, zerolog.Nop())
	pool := uuid.MustParse(poolID)
	require.NoError(t, c.ProcessEvent(&event.PoolCreated{
		Pool: pool, AdminCapID: uuid.New(), ShareAsset: "MUSIC", RewardAsset: "SUI",
		ShareDecimals: 6, RewardRatePerSecond: 100, ReleaseTime: 1_700_000_000,
		Sequence: 1, Timestamp: 1_699_999_900,
	}))

	publishChan := make(chan ingestion.PublishableEvent, 1)
	publishChan <- ingestion.PublishableFrom(<-out)
	close(publishChan)

	stream := &recordingStream{}
	require.NoError(t, ingestion.NewOutboundPublisher(stream, publishChan, nil, zerolog.Nop()).Run(context.Background()))

	require.Equal(t, []string{"stake.ledger.events.PoolCreated." + poolID}, stream.subjects)
	var published ingestion.PublishableEvent
	require.NoError(t, json.Unmarshal(stream.payloads[0], &published))
	assert.Equal(t, int64(1), published.Sequence)
	assert.Equal(t, pool, published.PoolID)
	assert.Len(t, published.StateHash, 64)
}
