// Command paperctl is the operator CLI for the document pipeline: schema
// migration, listing, deletion, re-running OCR and rebuilding the search
// index.
//
// Usage:
//
//	paperctl [--config configs/development.yaml] <command>
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ingestion/coordinator"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/client"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/pkg/postgres"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "paperctl",
	Short: "Operate the paperless document pipeline",
	Long: `paperctl runs maintenance tasks against the pipeline's stores: applying the
schema, listing and deleting documents, republishing upload events so the OCR
worker runs again, and rebuilding the search index from PostgreSQL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/development.yaml", "path to config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// backend holds the connections a command opened. close releases them in
// reverse order.
type backend struct {
	db      *postgres.Client
	coord   *coordinator.Coordinator
	closers []func() error
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("closing connection failed", "error", err)
		}
	}
}

func openDB() (*backend, error) {
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return &backend{db: db, closers: []func() error{db.Close}}, nil
}

// openCoordinator connects every store the sagas touch.
func openCoordinator(ctx context.Context) (*backend, error) {
	b, err := openDB()
	if err != nil {
		return nil, err
	}
	objects, err := objectstore.NewS3Store(ctx, cfg.ObjectStore)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("configuring object store: %w", err)
	}
	pub := publisher.NewKafka(cfg.Kafka, nil)
	b.closers = append(b.closers, pub.Close)
	b.coord = coordinator.New(
		coordinator.PostgresMetadata(metadata.NewStore(b.db)),
		objects,
		client.New(cfg.Search),
		pub,
		cfg.Coordinator,
		nil,
	)
	return b, nil
}

var errUsage = errors.New("invalid arguments")
