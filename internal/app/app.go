// Package app initializes and holds the long-lived services of the
// caching service, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/docstash/docstash/internal/clock/system"
	"github.com/docstash/docstash/internal/config"
	"github.com/docstash/docstash/internal/doccache"
	collyfetcher "github.com/docstash/docstash/internal/fetcher/colly"
	uuidgen "github.com/docstash/docstash/internal/id/uuid"
	memorypub "github.com/docstash/docstash/internal/publisher/memory"
	pubsubpub "github.com/docstash/docstash/internal/publisher/pubsub"
	"github.com/docstash/docstash/internal/storage/gcs"
	"github.com/docstash/docstash/internal/storage/memory"
	"github.com/docstash/docstash/internal/storage/postgres"
)

// App holds the shared services for the caching service. It is built
// once at startup from the loaded configuration and passed to the
// components that need it. Initialization fails fast if any critical
// service cannot be constructed.
type App struct {
	logger  *zap.Logger
	store   doccache.DocumentStore
	runner  *doccache.Runner
	cfg     config.Config
	closers []func() error
}

// New builds the App from configuration, selecting the concrete
// document store, archive, and publisher backends per provider.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initializing application services")

	a := &App{logger: logger, cfg: cfg}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})

	a.runner = doccache.NewRunner(
		store,
		fetcher,
		blobs,
		publisher,
		system.Clock{},
		uuidgen.Generator{},
		doccache.Config{
			BatchSize:     cfg.DocCache.BatchSize,
			MaxConcurrent: cfg.DocCache.MaxConcurrent,
			ArchivePrefix: cfg.DocCache.ArchivePrefix,
		},
		logger,
	)

	logger.Info("Application services initialized")
	return a, nil
}

func (a *App) buildStore(ctx context.Context) (doccache.DocumentStore, error) {
	switch a.cfg.Database.Provider {
	case "postgres":
		a.logger.Info("Connecting to PostgreSQL", zap.String("table", a.cfg.Database.Table))
		store, err := postgres.NewDocumentStore(ctx, postgres.DocumentStoreConfig{
			DSN:             a.cfg.Database.DSN,
			Table:           a.cfg.Database.Table,
			StalenessWindow: a.cfg.DocCache.StalenessWindow,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize document store: %w", err)
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		return store, nil
	case "memory":
		a.logger.Info("Using in-memory document store. Documents will not persist.")
		return memory.NewDocumentStore(a.cfg.DocCache.StalenessWindow), nil
	default:
		return nil, fmt.Errorf("unknown database provider: %s", a.cfg.Database.Provider)
	}
}

func (a *App) buildBlobStore(ctx context.Context) (doccache.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case "gcs":
		a.logger.Info("Using GCS archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		blobs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		return blobs, nil
	case "memory":
		a.logger.Info("Using in-memory archive")
		return memory.NewBlobStore(), nil
	case "noop":
		a.logger.Info("Archiving disabled. Raw content will not be retained.")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (doccache.Publisher, error) {
	switch a.cfg.Publisher.Provider {
	case "pubsub":
		a.logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", a.cfg.Publisher.TopicName))
		pub, err := pubsubpub.New(ctx, a.cfg.Publisher.ProjectID, a.cfg.Publisher.TopicName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	case "memory":
		a.logger.Info("Using in-memory publisher")
		return memorypub.New(), nil
	case "noop":
		a.logger.Info("Event publishing disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown publisher provider: %s", a.cfg.Publisher.Provider)
	}
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store exposes the configured document store.
func (a *App) Store() doccache.DocumentStore {
	return a.store
}

// Runner returns the caching pass runner.
func (a *App) Runner() *doccache.Runner {
	return a.runner
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Close shuts down all services in reverse initialization order and
// flushes the logger.
func (a *App) Close() {
	a.logger.Info("Shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
		}
	}
	// Sync can fail on stderr sinks, nothing actionable here.
	_ = a.logger.Sync()
}
