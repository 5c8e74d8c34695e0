package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/event"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/query"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const t0 int64 = 1_700_000_000

type fakeQueries struct {
	pool      state.PoolRecord
	position  state.PositionRecord
	pendingAt int64
}

func (f *fakeQueries) GetPool(_ context.Context, id uuid.UUID) (*query.PoolResponse, error) {
	if id != f.pool.ID {
		return nil, fmt.Errorf("%w: pool %s", query.ErrNotFound, id)
	}
	return &query.PoolResponse{PoolRecord: f.pool, AsOfSequence: 7}, nil
}

func (f *fakeQueries) ListPools(context.Context, int) ([]query.PoolResponse, error) {
	return []query.PoolResponse{{PoolRecord: f.pool, AsOfSequence: 7}}, nil
}

func (f *fakeQueries) GetPosition(_ context.Context, id uuid.UUID) (*query.PositionResponse, error) {
	if id != f.position.ID {
		return nil, fmt.Errorf("%w: position %s", query.ErrNotFound, id)
	}
	return &query.PositionResponse{PositionRecord: f.position, AsOfSequence: 7}, nil
}

func (f *fakeQueries) ListPositions(_ context.Context, filter query.PositionFilter, _ int) ([]query.PositionResponse, error) {
	if filter.PoolID != nil && *filter.PoolID != f.pool.ID {
		return nil, nil
	}
	return []query.PositionResponse{{PositionRecord: f.position, AsOfSequence: 7}}, nil
}

func (f *fakeQueries) GetPendingReward(_ context.Context, id uuid.UUID, at int64) (*query.PendingRewardResponse, error) {
	f.pendingAt = at
	return &query.PendingRewardResponse{PoolID: f.pool.ID, PositionID: id, At: at, Pending: 5_000, AsOfSequence: 7}, nil
}

func (f *fakeQueries) ListPayouts(context.Context, query.PayoutFilter, int) ([]query.PayoutResponse, error) {
	return []query.PayoutResponse{{Sequence: 5, PoolID: f.pool.ID, PositionID: f.position.ID, Amount: 5_000, AsOfSequence: 7}}, nil
}

func (f *fakeQueries) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true, EventsChecked: 7, AsOfSequence: 7}, nil
}

type fakeSubmitter struct {
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, eventType string, payload []byte) (event.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	var evt event.PositionOpened
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

func newTestServer(t *testing.T, submitErr error) (*GRPCServer, *fakeQueries) {
	t.Helper()
	pool := state.PoolRecord{ID: uuid.New(), ShareAsset: "MUSIC", RewardAsset: "SUI", ScalingFactor: 1_000_000, Accumulator: "0"}
	fq := &fakeQueries{
		pool:     pool,
		position: state.PositionRecord{ID: uuid.New(), PoolID: pool.ID, Owner: uuid.New(), Amount: 1_000_000, RewardDebt: "0"},
	}
	health := observability.NewHealthChecker("replay")
	health.Mark("replay", true)
	srv := NewGRPCServer("", "", &ServerDeps{
		Queries:       fq,
		Ingest:        &fakeSubmitter{err: submitErr},
		HealthChecker: health,
		Now:           func() time.Time { return time.Unix(t0+50, 0) },
	}, zerolog.Nop())
	return srv, fq
}

func TestGateway_Routes(t *testing.T) {
	srv, fq := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path string) (*http.Response, map[string]any) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp, body
	}

	resp, body := get("/v1/pools/" + fq.pool.ID.String())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fq.pool.ID.String(), body["id"])
	assert.EqualValues(t, 7, body["as_of_sequence"])

	resp, _ = get("/v1/pools/" + uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get("/v1/pools/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = get("/v1/positions/" + fq.position.ID.String() + "/pending")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5_000, body["pending"])
	assert.Equal(t, t0+50, fq.pendingAt, "server clock used when at is omitted")

	_, _ = get("/v1/positions/" + fq.position.ID.String() + "/pending?at=1700000010")
	assert.Equal(t, t0+10, fq.pendingAt)

	resp, body = get("/v1/pools/" + fq.pool.ID.String() + "/positions")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["positions"], 1)

	resp, _ = get("/v1/positions")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "owner or pool_id required")

	resp, body = get("/v1/positions/" + fq.position.ID.String() + "/payouts")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["payouts"], 1)

	resp, body = get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_SubmitEvent(t *testing.T) {
	srv, fq := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	payload := fmt.Sprintf(`{"position_id":%q,"pool_id":%q,"owner":%q,"sequence":2,"timestamp":%d}`,
		uuid.NewString(), fq.pool.ID, uuid.NewString(), t0)
	resp, err := http.Post(ts.URL+"/v1/events/PositionOpened", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out SubmitEventResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Accepted)
	assert.Equal(t, "PositionOpened", out.EventType)
}

func TestToStatus_Codes(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("%w: x", query.ErrNotFound), codes.NotFound},
		{fmt.Errorf("%w: x", query.ErrInvalidArgument), codes.InvalidArgument},
		{fmt.Errorf("%w: Staked k: %w", core.ErrEventRejected, state.ErrInsufficientStakedAmount), codes.FailedPrecondition},
		{fmt.Errorf("%w: RewardRateUpdated k: %w", core.ErrEventRejected, state.ErrUnauthorized), codes.PermissionDenied},
		{fmt.Errorf("%w: PoolCreated k: %w", core.ErrEventRejected, state.ErrPoolExists), codes.AlreadyExists},
		{fmt.Errorf("pool: %w", core.ErrSequenceGap), codes.FailedPrecondition},
		{fmt.Errorf("pool: %w", core.ErrOutOfOrder), codes.Aborted},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{fmt.Errorf("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, status.Code(toStatus("op", tc.err)), tc.err.Error())
	}
}

func TestGRPC_JSONCodecAndHealth(t *testing.T) {
	srv, fq := newTestServer(t, core.ErrEventRejected)
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	var pool ListPoolsResponse
	err = conn.Invoke(ctx, "/"+ServiceName+"/ListPools", &ListPoolsRequest{}, &pool, grpc.CallContentSubtype(codecName))
	require.NoError(t, err)
	require.Len(t, pool.Pools, 1)
	assert.Equal(t, fq.pool.ID, pool.Pools[0].ID)
	assert.Equal(t, int64(7), pool.AsOfSequence)

	var pos query.PositionResponse
	err = conn.Invoke(ctx, "/"+ServiceName+"/GetPosition", &GetPositionRequest{PositionID: uuid.NewString()}, &pos, grpc.CallContentSubtype(codecName))
	assert.Equal(t, codes.NotFound, status.Code(err))

	var submitted SubmitEventResponse
	err = conn.Invoke(ctx, "/"+ServiceName+"/SubmitEvent",
		&SubmitEventRequest{EventType: "Staked", Payload: json.RawMessage(`{}`)}, &submitted, grpc.CallContentSubtype(codecName))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.Status)
}
