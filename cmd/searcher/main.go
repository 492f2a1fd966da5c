// Command searcher serves the document search index over HTTP.
//
// The index lives in memory, is snapshotted to the data directory on a
// flush interval and on shutdown, and is reloaded on start. Search
// responses are cached in Redis when it is reachable.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/searcher.yaml]
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/searcher.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "index", cfg.Search.IndexName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	engine, err := indexer.NewEngine(cfg.Indexer, cfg.Search.IndexName, m)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	engine.StartFlushLoop(ctx)
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Error("failed to close index", "error", err)
		}
	}()
	slog.Info("index engine initialized", "data_dir", cfg.Indexer.DataDir, "documents", engine.DocCount())

	var queryCache *cache.QueryCache
	redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Search.IndexName, cfg.Redis.CacheTTL)
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	checker := health.NewChecker()
	checker.Register("index_engine", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents indexed", engine.DocCount()),
		}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not connected"}
		}
		return health.PingCheck(redisClient.Ping, true)(ctx)
	})

	exec := executor.New(engine, cfg.Search.NameBoost)
	h := handler.New(engine, exec, queryCache, m, handler.Options{
		DefaultLimit:       cfg.Search.DefaultLimit,
		MaxResults:         cfg.Search.MaxResults,
		MinimumShouldMatch: cfg.Search.MinimumShouldMatch,
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdownMetrics(context.Background())
	}

	server := &http.Server{
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
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}
