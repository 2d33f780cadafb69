package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/domain"
	"github.com/idemdrem-diagnosis-server/internal/repository"
)

// Store is a writable catalog source.
type Store interface {
	domain.CatalogLoader
	Replace(ctx context.Context, catalog *domain.SymptomCatalog) error
}

// NewLoader returns the loader selected by cfg. pool is only used by the postgres source.
func NewLoader(cfg domain.CatalogConfig, pool *pgxpool.Pool, logger *logrus.Logger) (domain.CatalogLoader, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Source {
	case domain.CatalogSourceFile, "":
		if cfg.Path == "" {
			return nil, nil, fmt.Errorf("catalog.path is required for the file source")
		}
		return &FileLoader{Path: cfg.Path}, noop, nil
	case domain.CatalogSourceSQLite:
		if cfg.Path == "" {
			return nil, nil, fmt.Errorf("catalog.path is required for the sqlite source")
		}
		store, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case domain.CatalogSourcePostgres:
		if pool == nil {
			return nil, nil, fmt.Errorf("postgres catalog source requires a database connection")
		}
		return repository.NewCatalogRepository(pool, logger), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown catalog source %q", cfg.Source)
	}
}

// Load builds the configured loader, reads the catalog once and logs its size.
func Load(ctx context.Context, cfg domain.CatalogConfig, pool *pgxpool.Pool, logger *logrus.Logger) (*domain.SymptomCatalog, error) {
	loader, closeFn, err := NewLoader(cfg, pool, logger)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	catalog, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load symptom catalog from %s: %w", cfg.Source, err)
	}

	logger.WithFields(logrus.Fields{
		"source":     cfg.Source,
		"conditions": catalog.Len(),
	}).Info("Symptom catalog loaded")

	return catalog, nil
}
