// Command ocrworker consumes document upload events, extracts text with
// Tesseract and writes it back through the coordinator's update saga.
//
// Several workers may run at once; they share one consumer group and the
// bus spreads partitions across them.
//
// Usage:
//
//	go run ./cmd/ocrworker [-config configs/ocrworker.yaml]
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
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ingestion/coordinator"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ocr"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ocr/tesseract"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ocr/worker"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/client"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/ocrworker.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ocr worker",
		"topic", cfg.Kafka.Topics.DocumentUploaded,
		"group", cfg.Kafka.ConsumerGroup,
		"tesseract", tesseract.Version(),
		"language", cfg.OCR.Language,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	objects, err := objectstore.NewS3Store(ctx, cfg.ObjectStore)
	if err != nil {
		slog.Error("failed to configure object store", "error", err)
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	pub := publisher.NewKafka(cfg.Kafka, m)
	defer pub.Close()

	search := client.New(cfg.Search)
	coord := coordinator.New(
		coordinator.PostgresMetadata(metadata.NewStore(db)),
		objects,
		search,
		pub,
		cfg.Coordinator,
		m,
	)

	extractor := ocr.NewExtractor(tesseract.New(cfg.OCR), ocr.NewPDFCPU())
	w := worker.New(worker.KafkaSubscriber(cfg.Kafka), coord, objects, extractor, pub, worker.Options{
		Backoff:    cfg.Worker.Backoff,
		OCRTimeout: cfg.OCR.Timeout,
	}, m)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, false))
	checker.Register("object_store", health.PingCheck(objects.Ping, false))
	checker.Register("search_index", health.PingCheck(search.Ping, false))
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka)
	}, false))
	checker.Register("worker", func(ctx context.Context) health.ComponentHealth {
		state := w.State()
		if state == worker.Backoff {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: state.String()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: state.String()}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"GET /health/live":  checker.LiveHandler(),
			"GET /health/ready": checker.ReadyHandler(),
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdownMetrics(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("ocr worker exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("ocr worker stopped")
}
