// Command ingestion starts the document HTTP service.
//
// It wires the upload, update and delete sagas across PostgreSQL, the S3
// object store, the search service and Kafka, and serves them under
// /api/v1/documents with liveness and readiness probes under /health.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ingestion/coordinator"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/client"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/postgres"
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
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := metadata.Migrate(ctx, db); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	objects, err := objectstore.NewS3Store(ctx, cfg.ObjectStore)
	if err != nil {
		slog.Error("failed to configure object store", "error", err)
		os.Exit(1)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		slog.Error("failed to prepare bucket", "bucket", cfg.ObjectStore.Bucket, "error", err)
		os.Exit(1)
	}
	slog.Info("object store ready", "endpoint", cfg.ObjectStore.Endpoint, "bucket", cfg.ObjectStore.Bucket)

	m := metrics.New(prometheus.DefaultRegisterer)
	pub := publisher.NewKafka(cfg.Kafka, m)
	defer pub.Close()
	slog.Info("kafka publisher initialized", "topic", cfg.Kafka.Topics.DocumentUploaded)

	search := client.New(cfg.Search)
	coord := coordinator.New(
		coordinator.PostgresMetadata(metadata.NewStore(db)),
		objects,
		search,
		pub,
		cfg.Coordinator,
		m,
	)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, false))
	checker.Register("object_store", health.PingCheck(objects.Ping, false))
	checker.Register("search_index", health.PingCheck(search.Ping, false))
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka)
	}, true))

	mux := http.NewServeMux()
	handler.New(coord, cfg.Coordinator.MaxUploadBytes).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var limiter *middleware.Limiter
	if cfg.Server.WriteRateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.WriteRateLimit, time.Minute)
		go limiter.StartPruning(ctx)
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
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

	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
