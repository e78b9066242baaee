package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"jobmate/analysis-service/internal/analysis"
	"jobmate/analysis-service/internal/config"
	"jobmate/analysis-service/internal/curriculum"
	"jobmate/analysis-service/internal/db"
	"jobmate/analysis-service/internal/events"
	"jobmate/analysis-service/internal/grpcserver"
	"jobmate/analysis-service/internal/httpapi"
	"jobmate/analysis-service/internal/platform"
	"jobmate/analysis-service/internal/requirement"
	"jobmate/analysis-service/internal/scoring"
	"jobmate/analysis-service/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST and gRPC servers, the worker pool and the event intake",
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, cfg, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		if err := serve(cmd.Context(), cfg, log); err != nil {
			log.Error("service stopped with error", zap.Error(err))
			return err
		}
		log.Info("stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting", zap.String("version", version), zap.String("store", cfg.Store), zap.Int("workers", cfg.Workers))

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("postgres connected")

	var st analysis.Store = store.NewPostgres(pool)
	if cfg.Store == config.StoreMemory {
		st = store.NewMemory()
	}

	// ── Redis ────────────────────────────────────────────────────────────────
	opts := analysis.Options{MaxAttempts: cfg.MaxAttempts, Logger: log}
	var rdb *redis.Client
	if cfg.Events {
		rdb, err = db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		log.Info("redis connected")
		opts.Notifier = events.NewRedisNotifier(rdb, log)
	}

	// ── Pipeline ─────────────────────────────────────────────────────────────
	engine, err := scoring.NewEngine(cfg.Scoring)
	if err != nil {
		return err
	}
	svc := analysis.NewService(st, platform.NewApplications(pool), opts)
	pipeline := analysis.NewPipeline(svc,
		curriculum.NewBuilder(platform.NewCurricula(pool)),
		requirement.NewModel(platform.NewJobs(pool)),
		engine, log)
	workers := analysis.NewWorkerPool(svc, pipeline, cfg.Workers, cfg.PollInterval, cfg.JobTimeout, log)

	// A worker gives up after JobTimeout, so only jobs held well past it
	// belong to a dead worker.
	reaper := analysis.NewReaper(svc, cfg.ReapInterval, 2*cfg.JobTimeout, log)

	if err := reaper.Start(ctx); err != nil {
		return err
	}
	defer reaper.Stop()

	// ── Intake ───────────────────────────────────────────────────────────────
	intake := events.NewIntake(svc, log)
	var consumer *events.AMQPConsumer
	if cfg.AMQP.URL != "" {
		conn, err := db.NewAMQPConnection(cfg.AMQP.URL)
		if err != nil {
			return err
		}
		defer conn.Close()
		if consumer, err = events.NewAMQPConsumer(conn, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey, cfg.AMQP.Queue, intake); err != nil {
			return err
		}
	}

	// ── HTTP + gRPC ──────────────────────────────────────────────────────────
	app := httpapi.NewApp(httpapi.NewHandler(svc, version, log))
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen :%s: %w", cfg.GRPCPort, err)
	}
	gs := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.LoggingInterceptor(log)))
	health := grpcserver.Register(gs, grpcserver.NewServer(svc, log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		workers.Run(gctx)
		return nil
	})
	if rdb != nil {
		sub := events.NewRedisSubscriber(rdb, intake)
		g.Go(func() error { return sub.Run(gctx) })
	}
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("http listening", zap.String("port", cfg.Port))
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		log.Info("grpc listening", zap.String("port", cfg.GRPCPort))
		return gs.Serve(lis)
	})

	// ── Graceful shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		health.Shutdown()
		gs.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
