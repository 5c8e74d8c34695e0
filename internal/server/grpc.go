package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/event"
	"StakeLedger/internal/ingestion"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/query"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "stakeledger.v1.StakeLedger"

// Queries is the read side the service serves from.
type Queries interface {
	GetPool(ctx context.Context, poolID uuid.UUID) (*query.PoolResponse, error)
	ListPools(ctx context.Context, limit int) ([]query.PoolResponse, error)
	GetPosition(ctx context.Context, positionID uuid.UUID) (*query.PositionResponse, error)
	ListPositions(ctx context.Context, filter query.PositionFilter, limit int) ([]query.PositionResponse, error)
	GetPendingReward(ctx context.Context, positionID uuid.UUID, at int64) (*query.PendingRewardResponse, error)
	ListPayouts(ctx context.Context, filter query.PayoutFilter, limit int) ([]query.PayoutResponse, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Submitter injects events into the core.
type Submitter interface {
	Submit(ctx context.Context, eventType string, payload []byte) (event.Event, error)
}

// GRPCServer wraps the gRPC server and the HTTP gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	httpServer    *http.Server
	svc           *stakeLedgerService
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the gRPC services.
type ServerDeps struct {
	Queries       Queries
	Ingest        Submitter
	HealthChecker *observability.HealthChecker
	Now           func() time.Time
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps, logger zerolog.Logger) *GRPCServer {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	svc := &stakeLedgerService{queries: deps.Queries, ingest: deps.Ingest, now: now}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&stakeLedgerServiceDesc, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		svc:           svc,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		logger:        logger,
	}
}

// Serve runs the gRPC server on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartGRPC listens on the configured address and serves (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// ============================================================================
// StakeLedger service
// ============================================================================

type stakeLedgerServer interface {
	GetPool(context.Context, *GetPoolRequest) (*query.PoolResponse, error)
	ListPools(context.Context, *ListPoolsRequest) (*ListPoolsResponse, error)
	GetPosition(context.Context, *GetPositionRequest) (*query.PositionResponse, error)
	ListPositions(context.Context, *ListPositionsRequest) (*ListPositionsResponse, error)
	GetPendingReward(context.Context, *GetPendingRewardRequest) (*query.PendingRewardResponse, error)
	ListPayouts(context.Context, *ListPayoutsRequest) (*ListPayoutsResponse, error)
	SubmitEvent(context.Context, *SubmitEventRequest) (*SubmitEventResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
}

var stakeLedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*stakeLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPool", Handler: unaryHandler("GetPool", stakeLedgerServer.GetPool)},
		{MethodName: "ListPools", Handler: unaryHandler("ListPools", stakeLedgerServer.ListPools)},
		{MethodName: "GetPosition", Handler: unaryHandler("GetPosition", stakeLedgerServer.GetPosition)},
		{MethodName: "ListPositions", Handler: unaryHandler("ListPositions", stakeLedgerServer.ListPositions)},
		{MethodName: "GetPendingReward", Handler: unaryHandler("GetPendingReward", stakeLedgerServer.GetPendingReward)},
		{MethodName: "ListPayouts", Handler: unaryHandler("ListPayouts", stakeLedgerServer.ListPayouts)},
		{MethodName: "SubmitEvent", Handler: unaryHandler("SubmitEvent", stakeLedgerServer.SubmitEvent)},
		{MethodName: "VerifyIntegrity", Handler: unaryHandler("VerifyIntegrity", stakeLedgerServer.VerifyIntegrity)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stakeledger/v1/service",
}

// unaryHandler adapts a typed method to grpc.MethodHandler, the shape
// protoc-gen-go-grpc would generate per method.
func unaryHandler[Req, Resp any](
	method string,
	call func(stakeLedgerServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(stakeLedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(stakeLedgerServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type stakeLedgerService struct {
	queries Queries
	ingest  Submitter
	now     func() time.Time
}

func (s *stakeLedgerService) GetPool(ctx context.Context, req *GetPoolRequest) (*query.PoolResponse, error) {
	poolID, err := requireUUID("pool_id", req.PoolID)
	if err != nil {
		return nil, err
	}
	pool, err := s.queries.GetPool(ctx, poolID)
	if err != nil {
		return nil, toStatus("get pool", err)
	}
	return pool, nil
}

func (s *stakeLedgerService) ListPools(ctx context.Context, req *ListPoolsRequest) (*ListPoolsResponse, error) {
	pools, err := s.queries.ListPools(ctx, req.Limit)
	if err != nil {
		return nil, toStatus("list pools", err)
	}
	resp := &ListPoolsResponse{Pools: pools}
	if len(pools) > 0 {
		resp.AsOfSequence = pools[0].AsOfSequence
	}
	return resp, nil
}

func (s *stakeLedgerService) GetPosition(ctx context.Context, req *GetPositionRequest) (*query.PositionResponse, error) {
	positionID, err := requireUUID("position_id", req.PositionID)
	if err != nil {
		return nil, err
	}
	pos, err := s.queries.GetPosition(ctx, positionID)
	if err != nil {
		return nil, toStatus("get position", err)
	}
	return pos, nil
}

func (s *stakeLedgerService) ListPositions(ctx context.Context, req *ListPositionsRequest) (*ListPositionsResponse, error) {
	var filter query.PositionFilter
	if req.Owner == "" && req.PoolID == "" {
		return nil, status.Error(codes.InvalidArgument, "owner or pool_id is required")
	}
	if req.Owner != "" {
		owner, err := requireUUID("owner", req.Owner)
		if err != nil {
			return nil, err
		}
		filter.Owner = &owner
	}
	if req.PoolID != "" {
		poolID, err := requireUUID("pool_id", req.PoolID)
		if err != nil {
			return nil, err
		}
		filter.PoolID = &poolID
	}

	positions, err := s.queries.ListPositions(ctx, filter, req.Limit)
	if err != nil {
		return nil, toStatus("list positions", err)
	}
	resp := &ListPositionsResponse{Positions: positions}
	if len(positions) > 0 {
		resp.AsOfSequence = positions[0].AsOfSequence
	}
	return resp, nil
}

func (s *stakeLedgerService) GetPendingReward(ctx context.Context, req *GetPendingRewardRequest) (*query.PendingRewardResponse, error) {
	positionID, err := requireUUID("position_id", req.PositionID)
	if err != nil {
		return nil, err
	}
	at := req.At
	if at == 0 {
		at = s.now().Unix()
	}
	pending, err := s.queries.GetPendingReward(ctx, positionID, at)
	if err != nil {
		return nil, toStatus("get pending reward", err)
	}
	return pending, nil
}

func (s *stakeLedgerService) ListPayouts(ctx context.Context, req *ListPayoutsRequest) (*ListPayoutsResponse, error) {
	var filter query.PayoutFilter
	if req.PoolID != "" {
		poolID, err := requireUUID("pool_id", req.PoolID)
		if err != nil {
			return nil, err
		}
		filter.PoolID = &poolID
	}
	if req.PositionID != "" {
		positionID, err := requireUUID("position_id", req.PositionID)
		if err != nil {
			return nil, err
		}
		filter.PositionID = &positionID
	}
	if req.BeforeSequence > 0 {
		filter.BeforeSequence = &req.BeforeSequence
	}

	payouts, err := s.queries.ListPayouts(ctx, filter, req.Limit)
	if err != nil {
		return nil, toStatus("list payouts", err)
	}
	resp := &ListPayoutsResponse{Payouts: payouts}
	if len(payouts) > 0 {
		resp.AsOfSequence = payouts[0].AsOfSequence
	}
	return resp, nil
}

func (s *stakeLedgerService) SubmitEvent(ctx context.Context, req *SubmitEventRequest) (*SubmitEventResponse, error) {
	if s.ingest == nil {
		return nil, status.Error(codes.Unavailable, "ingestion is disabled")
	}
	if req.EventType == "" || len(req.Payload) == 0 {
		return nil, status.Error(codes.InvalidArgument, "event_type and payload are required")
	}

	evt, err := s.ingest.Submit(ctx, req.EventType, req.Payload)
	if err != nil {
		return nil, toStatus("submit event", err)
	}
	return &SubmitEventResponse{
		Accepted:       true,
		EventType:      evt.EventType().String(),
		IdempotencyKey: evt.IdempotencyKey(),
	}, nil
}

func (s *stakeLedgerService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	report, err := s.queries.VerifyIntegrity(ctx)
	if err != nil {
		return nil, toStatus("verify integrity", err)
	}
	return report, nil
}

// ============================================================================
// Helpers
// ============================================================================

func requireUUID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return id, nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, query.ErrNotFound),
		errors.Is(err, state.ErrPoolNotFound),
		errors.Is(err, state.ErrPositionNotFound):
		code = codes.NotFound
	case errors.Is(err, query.ErrInvalidArgument),
		errors.Is(err, ingestion.ErrInvalidEvent):
		code = codes.InvalidArgument
	case errors.Is(err, state.ErrUnauthorized):
		code = codes.PermissionDenied
	case errors.Is(err, state.ErrPoolExists),
		errors.Is(err, state.ErrPositionExists):
		code = codes.AlreadyExists
	case errors.Is(err, core.ErrOutOfOrder):
		code = codes.Aborted
	case errors.Is(err, core.ErrEventRejected),
		errors.Is(err, core.ErrSequenceGap):
		code = codes.FailedPrecondition
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return status.Errorf(code, "%s: %v", op, err)
}
