package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/ingestion"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/persistence"
	"StakeLedger/internal/projection"
	"StakeLedger/internal/query"
	"StakeLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Readiness conditions reported on /readyz.
const (
	condRecovered  = "recovered"
	condSubscribed = "nats_subscribed"
)

// NewServeCommand runs the ledger service.
func NewServeCommand() *cobra.Command {
	cfg := DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger: NATS ingestion, core, persistence, gRPC and HTTP APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address")
	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP gateway listen address")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address")
	cmd.Flags().StringVar(&cfg.MigrationsDir, "migrations", cfg.MigrationsDir, "migrations directory (default: embedded)")

	return cmd
}

func runServe(parent context.Context, cfg Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := observability.NewLogger("stakeledger")
	logger.Info().Str("version", version).Msg("StakeLedger starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	// ctx stops ingestion and the APIs. Workers get their own context so
	// they can drain after the core has stopped.
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	migrations, err := persistence.Migrations(cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if err := persistence.NewMigrator(db, migrations, logger.With().Str("component", "migrator").Logger()).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker(condRecovered, condSubscribed)

	// --- Channels ---
	// The persist channel blocks the core when full, the projection channel
	// drops.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	inboundChan := make(chan ingestion.InboundEvent, cfg.InboundChanSize)

	// --- Deterministic core + recovery ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	snapMgr := persistence.NewSnapshotManager(db)

	deterministicCore, err := recoverCore(ctx, snapMgr, dbChecker, persistChan, projectionChan, metrics, cfg, logger)
	if err != nil {
		return err
	}
	health.Mark(condRecovered, true)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger.With().Str("component", "nats").Logger())
	if err != nil {
		return err
	}
	defer nc.Close()
	logger.Info().Str("url", cfg.NATSURL).Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawChan := make(chan ingestion.RawEvent, cfg.InboundChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, logger.With().Str("component", "nats_subscriber").Logger())
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	health.Mark(condSubscribed, true)

	// --- Workers ---
	var workers sync.WaitGroup
	errChan := make(chan error, 10)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, logger.With().Str("component", "persistence").Logger())
	// Only durable events are published. The send never blocks the
	// persistence worker; consumers can catch up from the event log.
	persistWorker.OnFlushed = func(out core.CoreOutput) {
		select {
		case publishChan <- ingestion.PublishableFrom(out):
		default:
			metrics.PublishedEvents.WithLabelValues(out.Envelope.EventType.String(), "dropped").Inc()
		}
	}
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(workerCtx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	payouts := projection.NewPayoutHistory(cfg.PayoutHistorySize)
	projWorker := projection.NewProjectionWorker(db, projectionChan, payouts, metrics,
		logger.With().Str("component", "projection").Logger())
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := projWorker.Run(workerCtx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()

	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, logger.With().Str("component", "publisher").Logger())
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := publisher.Run(workerCtx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("outbound publisher: %w", err)
		}
	}()

	go ingestion.ForwardRawEvents(ctx, rawChan, inboundChan, ingestion.DefaultSubjects(),
		logger.With().Str("component", "ingestion").Logger())

	// --- Core loop ---
	loop := &coreLoop{
		core:     deterministicCore,
		snapMgr:  snapMgr,
		inbound:  inboundChan,
		interval: cfg.SnapshotInterval,
		check:    cfg.SnapshotCheck,
		metrics:  metrics,
		logger:   logger.With().Str("component", "core").Logger(),
		channels: map[string]func() (int, int){
			"inbound":    func() (int, int) { return len(inboundChan), cap(inboundChan) },
			"persist":    func() (int, int) { return len(persistChan), cap(persistChan) },
			"projection": func() (int, int) { return len(projectionChan), cap(projectionChan) },
			"publish":    func() (int, int) { return len(publishChan), cap(publishChan) },
		},
	}
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		loop.Run(ctx)
	}()

	// --- APIs ---
	apiServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Queries:       query.NewQueryService(db, metrics),
		Ingest:        ingestion.NewGRPCIngestService(inboundChan),
		HealthChecker: health,
	}, logger.With().Str("component", "api").Logger())

	go func() {
		if err := apiServer.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := apiServer.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()
	go func() {
		if err := serveMetrics(ctx, cfg.MetricsAddr, logger); err != nil {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	logger.Info().
		Int64("next_sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("StakeLedger ready")

	// --- Wait for shutdown ---
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, let the core finish its current event, then drain the
	// workers and take a final snapshot of what is durable.
	cancel()
	subscriber.Stop()
	<-coreDone

	finalState := deterministicCore.CreateSnapshotState()
	close(persistChan)
	close(projectionChan)
	<-persistDone
	close(publishChan)

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("workers did not drain in time")
		cancelWorkers()
	}

	if finalState.Sequence > 0 {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := saveSnapshot(shutdownCtx, snapMgr, finalState, metrics); err != nil {
			logger.Error().Err(err).Msg("final snapshot failed")
		} else {
			logger.Info().Int64("seq", finalState.Sequence).Msg("final snapshot saved")
		}
	}

	logger.Info().Msg("StakeLedger shutdown complete")
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
