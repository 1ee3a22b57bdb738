package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quarrysearch/quarry/internal/analytics"
	"github.com/quarrysearch/quarry/internal/analyzer"
	enginecache "github.com/quarrysearch/quarry/internal/cache"
	"github.com/quarrysearch/quarry/internal/engine"
	"github.com/quarrysearch/quarry/internal/ranker"
	"github.com/quarrysearch/quarry/internal/server"
	"github.com/quarrysearch/quarry/internal/store"
	"github.com/quarrysearch/quarry/pkg/config"
	"github.com/quarrysearch/quarry/pkg/health"
	"github.com/quarrysearch/quarry/pkg/kafka"
	"github.com/quarrysearch/quarry/pkg/logger"
	"github.com/quarrysearch/quarry/pkg/metrics"
	"github.com/quarrysearch/quarry/pkg/middleware"
	pkgpostgres "github.com/quarrysearch/quarry/pkg/postgres"
	pkgredis "github.com/quarrysearch/quarry/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting quarry search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Document store: the service runs in-memory-only when Postgres is
	// unreachable, it just loses durability.
	var docStore store.DocumentStore
	var pgClient *pkgpostgres.Client
	pgClient, err = pkgpostgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, running without persistence", "error", err)
		pgClient = nil
	} else {
		defer pgClient.Close()
		pg, err := store.NewPostgres(ctx, pgClient)
		if err != nil {
			slog.Error("failed to prepare document store", "error", err)
			os.Exit(1)
		}
		docStore = pg
		slog.Info("document store ready", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	// Result cache: optional, searches just skip the cache when Redis is
	// down.
	var resultCache enginecache.ResultCache
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		resultCache = enginecache.New(redisClient, cfg.Redis)
		slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	analyzerCfg := analyzer.DefaultConfig()
	analyzerCfg.MinTokenLength = cfg.Analyzer.MinTokenLength
	analyzerCfg.Stemming = cfg.Analyzer.Stemming
	analyzerCfg.NGramSize = cfg.Analyzer.NGramSize
	analyzerCfg.ExtraStopwords = cfg.Analyzer.ExtraStopwords

	eng := engine.New(engine.Options{
		Analyzer:      analyzerCfg,
		Store:         docStore,
		Cache:         resultCache,
		Metrics:       m,
		Ranking:       ranker.Params{K1: cfg.Search.BM25K1, B: cfg.Search.BM25B},
		QueryTimeout:  cfg.Search.QueryTimeout,
		BulkChunkSize: cfg.Index.BulkChunkSize,
		MaxAsyncJobs:  cfg.Search.MaxAsyncJobs,
		JobRetention:  cfg.Search.JobRetention,
	})
	if err := eng.Load(ctx); err != nil {
		slog.Error("failed to rebuild index from store", "error", err)
		os.Exit(1)
	}
	eng.StartJobSweeper(ctx)

	// Analytics pipeline: collector publishes usage events to Kafka, the
	// aggregator consumes them back into rolling stats served over HTTP.
	var collector *analytics.Collector
	var analyticsH *analytics.Handler
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.AnalyticsTopic)
		defer producer.Close()
		collector = analytics.NewCollector(producer, 100, 5*time.Second)
		collector.Start(ctx)
		defer collector.Close()

		aggregator := analytics.NewAggregator()
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.AnalyticsTopic, analytics.Handle(aggregator))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("analytics consumer stopped", "error", err)
			}
		}()
		analyticsH = analytics.NewHandler(aggregator)

		if pgClient != nil {
			snapshots, err := analytics.NewSnapshotStore(ctx, pgClient)
			if err != nil {
				slog.Warn("analytics snapshots disabled", "error", err)
			} else {
				snapshots.StartSnapshotLoop(ctx, aggregator, 5*time.Minute)
			}
		}
		slog.Info("analytics pipeline started", "topic", cfg.Kafka.AnalyticsTopic)
	} else {
		slog.Warn("no kafka brokers configured, analytics disabled")
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		stats := eng.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents, %d terms", stats.DocCount, stats.TermCount),
		}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if pgClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := pgClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := server.New(eng, collector, cfg.Search.DefaultLimit, cfg.Search.MaxResults)

	mux := http.NewServeMux()
	h.Register(mux)
	if analyticsH != nil {
		mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	}
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("quarry search service listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("quarry search service stopped")
}
