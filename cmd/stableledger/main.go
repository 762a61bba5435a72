package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StableLedger/internal/config"
	"StableLedger/internal/core"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/ledger"
	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"
	"StableLedger/internal/projection"
	"StableLedger/internal/query"
	"StableLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	rawEventChanSize   = 4096
	shutdownTimeout    = 30 * time.Second
	channelSampleEvery = 5 * time.Second
)

func main() {
	log := observability.NewLogger("main")
	if os.Getenv("GOGC") == "" {
		log.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("StableLedger stopped")
	}
	log.Info().Msg("StableLedger shutdown complete")
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Postgres connected, migrations applied")

	// --- Core ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// The persist channel blocks the core when full; the projection channel drops
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan core.CoreOutput, cfg.PublishChanSize)

	c, err := core.NewDeterministicCore(0, persistChan, projectionChan, core.Options{
		StableAsset:         ledger.AssetID(cfg.Domain.StableAsset),
		CollateralAssets:    cfg.Domain.Assets(),
		PriceFeeds:          cfg.Domain.Feeds(),
		Params:              cfg.Domain.RiskParams(),
		Heartbeat:           cfg.Domain.Heartbeat(),
		IdempotencyCapacity: cfg.IdempotencyCapacity,
		DBChecker:           persistence.NewPostgresIdempotencyChecker(db),
		Metrics:             metrics,
	})
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	stats, err := persistence.Recover(ctx, c, snapMgr, ingestion.ParseEvent, metrics)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	log.Info().
		Int64("snapshot_sequence", stats.SnapshotSequence).
		Int64("replayed", stats.Replayed).
		Int64("next_sequence", stats.NextSequence).
		Msg("recovery complete")

	// --- Pipeline: persistence, projections, outbound ---
	// These drain after intake stops, so they run outside the signal context.
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	persistWorker.OnFlushed(func(batch []core.CoreOutput) {
		for _, output := range batch {
			select {
			case publishChan <- output:
			default:
				metrics.PublishDrops.Inc()
			}
		}
	})

	projWorker := projection.NewProjectionWorker(db, projectionChan, c, metrics)
	if err := projWorker.LoadWatermark(ctx); err != nil {
		return fmt.Errorf("load projection watermark: %w", err)
	}

	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics)

	persistDone := make(chan error, 1)
	go func() { persistDone <- persistWorker.Run(context.Background()) }()

	var pipeline errgroup.Group
	pipeline.Go(func() error { return projWorker.Run(context.Background()) })
	pipeline.Go(func() error { return publisher.Run(context.Background()) })

	// --- Intake and serving ---
	rawEvents := make(chan ingestion.RawEvent, rawEventChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEvents)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	processor := ingestion.NewProcessor(c, metrics)
	snapshotter := persistence.NewSnapshotter(c, snapMgr, cfg.SnapshotInterval, metrics)

	srv := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Query:         query.NewQueryService(db, c, metrics),
		Commands:      ingestion.NewCommandService(c),
		Snapshots:     snapshotter,
		Projections:   projWorker,
		HealthChecker: healthChecker,
	})

	intake, gctx := errgroup.WithContext(ctx)
	intake.Go(func() error { return processor.Run(gctx, rawEvents) })
	intake.Go(func() error { return snapshotter.Run(gctx) })
	intake.Go(func() error { return srv.StartGRPC(gctx) })
	intake.Go(func() error { return srv.StartHTTPGateway(gctx) })
	intake.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, log) })
	intake.Go(func() error {
		sampleChannels(gctx, metrics, map[string]chan core.CoreOutput{
			"persist":    persistChan,
			"projection": projectionChan,
			"publish":    publishChan,
		})
		return nil
	})

	srv.SetReady(true)
	log.Info().
		Int64("sequence", c.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("StableLedger ready")

	// --- Graceful shutdown: stop intake, drain the pipeline, final snapshot ---
	intakeErr := intake.Wait()
	if errors.Is(intakeErr, context.Canceled) {
		intakeErr = nil
	}
	srv.SetReady(false)
	subscriber.Stop()
	log.Info().Msg("intake stopped, draining pipeline")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	close(persistChan)
	close(projectionChan)
	select {
	case err := <-persistDone:
		if err != nil {
			log.Error().Err(err).Msg("persistence worker failed")
		}
		// No batch can flush any more, so the publish hook is done
		close(publishChan)
		if err := pipeline.Wait(); err != nil {
			log.Error().Err(err).Msg("pipeline worker failed")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("event log did not drain before the shutdown timeout")
	}

	if seq, err := snapshotter.Take(shutdownCtx); err != nil {
		if !errors.Is(err, persistence.ErrNothingToSnapshot) {
			log.Error().Err(err).Msg("final snapshot failed")
		}
	} else {
		log.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	return intakeErr
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening on /metrics")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func sampleChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]chan core.CoreOutput) {
	ticker := time.NewTicker(channelSampleEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, ch := range chans {
				metrics.SetChannelMetrics(name, len(ch), cap(ch))
			}
		}
	}
}
