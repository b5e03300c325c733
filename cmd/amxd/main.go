// Command amxd runs the amx pool accounting engine: NATS and gRPC command
// ingestion, the deterministic core, Postgres persistence and projections,
// and the query surface.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/omxlabs/amx-sub001/internal/config"
	"github.com/omxlabs/amx-sub001/internal/core"
	"github.com/omxlabs/amx-sub001/internal/ingestion"
	"github.com/omxlabs/amx-sub001/internal/observability"
	"github.com/omxlabs/amx-sub001/internal/oracle"
	"github.com/omxlabs/amx-sub001/internal/persistence"
	"github.com/omxlabs/amx-sub001/internal/projection"
	"github.com/omxlabs/amx-sub001/internal/query"
	"github.com/omxlabs/amx-sub001/internal/server"
	"github.com/omxlabs/amx-sub001/migrations"
)

func main() {
	logger := observability.NewLogger("amxd")
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("amxd failed")
	}
	logger.Info().Msg("shutdown complete")
}

// group runs goroutines and reports the first unexpected failure.
type group struct {
	wg   sync.WaitGroup
	errs chan<- error
}

func (g *group) Go(name string, fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			g.errs <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(sigCtx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := persistence.NewMigrator(db, migrations.FS, logger).Up(sigCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()
	health.Register("postgres", db.PingContext)

	// --- Core and recovery ---
	persistChan := make(chan core.CoreOutput, cfg.Pipeline.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Pipeline.ProjectionChanSize)
	c := core.NewDeterministicCore(cfg.CoreParams(), persistChan, projectionChan,
		persistence.NewPostgresIdempotencyChecker(db), metrics, observability.NewLogger("core"))

	snapMgr := persistence.NewSnapshotManager(db)
	if _, err := persistence.Recover(sigCtx, c, snapMgr, metrics, observability.NewLogger("recovery")); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	errs := make(chan error, 16)
	workers := &group{errs: errs}
	sequencing := &group{errs: errs}
	ingress := &group{errs: errs}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(sigCtx, js, cfg.StreamRetention(), logger); err != nil {
		return err
	}
	if err := ingestion.EnsureOutboundStream(sigCtx, js, logger); err != nil {
		return err
	}
	health.Register("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("disconnected")
		}
		return nil
	})

	// --- Workers: run on a context that outlives ingress so they drain ---
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	publishChan := make(chan ingestion.PublishableEvent, cfg.Pipeline.PublishChanSize)
	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, observability.NewLogger("publisher"))
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.Pipeline.PersistBatchSize,
		cfg.Pipeline.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	persistWorker.OnPersisted(func(out core.CoreOutput) {
		select {
		case publishChan <- ingestion.NewPublishableEvent(out.Envelope):
		default:
			metrics.PublishDrops.Inc()
		}
	})

	var cache projection.Cache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		cache = projection.NewRedisCache(rdb, cfg.Redis.Prefix, cfg.Redis.TTL)
		health.Register("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	projWorker := projection.NewProjectionWorker(db, cache, projectionChan, metrics, observability.NewLogger("projection"))

	publisherDone := &group{errs: errs}
	publisherDone.Go("publisher", func() error { return publisher.Run(workerCtx) })
	workers.Go("persistence", func() error { return persistWorker.Run(workerCtx) })
	workers.Go("projection", func() error { return projWorker.Run(workerCtx) })

	// --- Sequencer ---
	seqCtx, cancelSequencer := context.WithCancel(context.Background())
	defer cancelSequencer()
	sequencer := core.NewSequencer(c, cfg.Pipeline.SequencerBuffer)
	sequencing.Go("sequencer", func() error { return sequencer.Run(seqCtx) })
	health.Register("sequencer", func(ctx context.Context) error {
		return sequencer.Read(ctx, func(*core.View) error { return nil })
	})

	if err := applyGenesis(sigCtx, sequencer, cfg.Genesis, logger); err != nil {
		return err
	}

	// --- Ingress ---
	ingressCtx, cancelIngress := context.WithCancel(sigCtx)
	defer cancelIngress()

	rawChan := make(chan ingestion.RawEvent, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, cfg.ConsumerOptions(), observability.NewLogger("nats"))
	if err := subscriber.Subscribe(ingressCtx, ingestion.DefaultSubjects()); err != nil {
		return err
	}
	ingress.Go("ingest", func() error {
		return ingestion.Pump(ingressCtx, rawChan, sequencer, observability.NewLogger("ingest"))
	})

	if cfg.Pyth.Enabled {
		relay := ingestion.NewPriceRelay(js, metrics, observability.NewLogger("price_relay"))
		stream := oracle.NewPythStream(cfg.Pyth.WsURL, cfg.Genesis.FeedIDs(), relay.Handle, observability.NewLogger("pyth"))
		ingress.Go("pyth", func() error { return stream.Run(ingressCtx) })
		health.Register("price_stream", func(context.Context) error {
			if !stream.Healthy() {
				return fmt.Errorf("no heartbeat since %s", stream.LastHeartbeat().Format(time.RFC3339))
			}
			return nil
		})
	}

	snapshotter := persistence.NewSnapshotter(sequencer, snapMgr, cfg.Pipeline.SnapshotInterval, metrics, observability.NewLogger("snapshots"))
	ingress.Go("snapshotter", func() error { return snapshotter.Run(ingressCtx) })

	svc := server.NewService(
		query.NewQueryService(sequencer, db, metrics),
		ingestion.NewGRPCIngestService(sequencer),
		snapshotter,
		snapMgr,
	)
	srv := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Service:       svc,
		HealthChecker: health,
		Metrics:       metrics,
		Logger:        logger,
	})
	ingress.Go("grpc", func() error { return srv.StartGRPC(ingressCtx) })
	ingress.Go("http", func() error { return srv.StartHTTPGateway(ingressCtx) })

	health.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("sequence", c.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Msg("amxd ready")

	var failure error
	select {
	case <-sigCtx.Done():
		logger.Info().Msg("signal received, shutting down")
	case failure = <-errs:
		logger.Error().Err(failure).Msg("component failed, shutting down")
	}

	// Ingress stops first; the snapshotter takes its shutdown snapshot while
	// the sequencer still runs. Then the sequencer stops and the workers
	// drain what it produced.
	health.SetReady(false)
	srv.SetServing(false)
	subscriber.Stop()
	cancelIngress()
	ingress.wg.Wait()

	cancelSequencer()
	sequencing.wg.Wait()

	close(persistChan)
	close(projectionChan)
	workers.wg.Wait()
	close(publishChan)
	publisherDone.wg.Wait()

	return failure
}

// applyGenesis submits the configured market setup. Commands carry stable
// IDs, so on a restart the ones already applied are skipped as duplicates.
func applyGenesis(ctx context.Context, sequencer *core.Sequencer, g config.Genesis, logger zerolog.Logger) error {
	cmds, err := g.Commands(time.Now().Unix())
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	for _, cmd := range cmds {
		if err := sequencer.Submit(ctx, cmd); err != nil {
			// governance moved on past genesis; keep what the log says
			logger.Warn().Err(err).Stringer("command", cmd.EventType()).Msg("genesis stopped")
			return nil
		}
	}
	if len(cmds) > 0 {
		logger.Info().Int("commands", len(cmds)).Msg("genesis applied")
	}
	return nil
}
