package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// maxSubmitBody caps SubmitEvent request bodies on the HTTP gateway.
const maxSubmitBody = 1 << 20

// Handler builds the HTTP/JSON gateway. Routes call the same service
// methods as gRPC, and errors are rendered from their gRPC status.
func (s *GRPCServer) Handler() http.Handler {
	mux := runtime.NewServeMux()
	marshaler := &runtime.JSONBuiltin{}

	route := func(method, pattern string, call func(r *http.Request, params map[string]string) (any, error)) {
		// HandlePath only fails on a malformed pattern.
		if err := mux.HandlePath(method, pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := call(r, params)
			if err != nil {
				runtime.HTTPError(r.Context(), mux, marshaler, w, r, err)
				return
			}
			w.Header().Set("Content-Type", marshaler.ContentType(resp))
			if err := marshaler.NewEncoder(w).Encode(resp); err != nil {
				s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("write response failed")
			}
		}); err != nil {
			panic(err)
		}
	}

	route("GET", "/v1/pools", func(r *http.Request, _ map[string]string) (any, error) {
		return s.svc.ListPools(r.Context(), &ListPoolsRequest{Limit: intParam(r, "limit")})
	})
	route("GET", "/v1/pools/{pool_id}", func(r *http.Request, p map[string]string) (any, error) {
		return s.svc.GetPool(r.Context(), &GetPoolRequest{PoolID: p["pool_id"]})
	})
	route("GET", "/v1/pools/{pool_id}/positions", func(r *http.Request, p map[string]string) (any, error) {
		return s.svc.ListPositions(r.Context(), &ListPositionsRequest{PoolID: p["pool_id"], Limit: intParam(r, "limit")})
	})
	route("GET", "/v1/pools/{pool_id}/payouts", func(r *http.Request, p map[string]string) (any, error) {
		return s.svc.ListPayouts(r.Context(), &ListPayoutsRequest{
			PoolID:         p["pool_id"],
			BeforeSequence: int64(intParam(r, "before_sequence")),
			Limit:          intParam(r, "limit"),
		})
	})
	route("GET", "/v1/positions", func(r *http.Request, _ map[string]string) (any, error) {
		return s.svc.ListPositions(r.Context(), &ListPositionsRequest{
			Owner:  r.URL.Query().Get("owner"),
			PoolID: r.URL.Query().Get("pool_id"),
			Limit:  intParam(r, "limit"),
		})
	})
	route("GET", "/v1/positions/{position_id}", func(r *http.Request, p map[string]string) (any, error) {
		return s.svc.GetPosition(r.Context(), &GetPositionRequest{PositionID: p["position_id"]})
	})
	route("GET", "/v1/positions/{position_id}/pending", func(r *http.Request, p map[string]string) (any, error) {
		return s.svc.GetPendingReward(r.Context(), &GetPendingRewardRequest{
			PositionID: p["position_id"],
			At:         int64(intParam(r, "at")),
		})
	})
	route("GET", "/v1/positions/{position_id}/payouts", func(r *http.Request, p map[string]string) (any, error) {
		return s.svc.ListPayouts(r.Context(), &ListPayoutsRequest{
			PositionID:     p["position_id"],
			BeforeSequence: int64(intParam(r, "before_sequence")),
			Limit:          intParam(r, "limit"),
		})
	})
	route("POST", "/v1/events/{event_type}", func(r *http.Request, p map[string]string) (any, error) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody))
		if err != nil {
			return nil, err
		}
		return s.svc.SubmitEvent(r.Context(), &SubmitEventRequest{EventType: p["event_type"], Payload: json.RawMessage(body)})
	})
	route("POST", "/v1/admin/verify-integrity", func(r *http.Request, _ map[string]string) (any, error) {
		return s.svc.VerifyIntegrity(r.Context(), &VerifyIntegrityRequest{})
	})

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux
}

// StartHTTPGateway serves the HTTP/JSON gateway (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// intParam reads an optional integer query parameter; absent or malformed
// values read as zero, which every caller treats as "use the default".
func intParam(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}
