// Package app assembles the diagnosis engine and its dependencies from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/cache"
	"github.com/idemdrem-diagnosis-server/internal/catalog"
	"github.com/idemdrem-diagnosis-server/internal/config"
	"github.com/idemdrem-diagnosis-server/internal/database"
	"github.com/idemdrem-diagnosis-server/internal/domain"
	"github.com/idemdrem-diagnosis-server/internal/service"
	"github.com/idemdrem-diagnosis-server/pkg/scoring"
)

// App holds the wired diagnosis service and everything that must be released on shutdown.
type App struct {
	Config  *domain.Config
	Logger  *logrus.Logger
	Service *service.DiagnosisService
	DB      *database.DB
	Store   domain.ContextStore

	closers []func() error
}

// New builds the logger, the catalog, the ensemble members and the context store described by
// cfg. On error every resource acquired so far is released.
func New(ctx context.Context, cfg *domain.Config) (*App, error) {
	logger, closeLog, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}
	a.closers = append(a.closers, closeLog)

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	var pool *pgxpool.Pool
	if cfg.Catalog.Source == domain.CatalogSourcePostgres {
		db, err := database.NewConnection(ctx, cfg.Database, a.Logger)
		if err != nil {
			return err
		}
		a.DB = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		pool = db.Pool
	}

	symptoms, err := catalog.Load(ctx, cfg.Catalog, pool, a.Logger)
	if err != nil {
		return err
	}

	models := WithCatalogLabels(cfg.Models, symptoms)
	scorers, closeScorers, err := scoring.NewScorers(models, cfg.ONNX, symptoms, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build classifier ensemble: %w", err)
	}
	a.closers = append(a.closers, closeScorers.Close)

	if len(scorers) == 0 {
		a.Logger.Warn("No classifier models configured, classify requests will fail")
	}

	members := make([]service.EnsembleMember, 0, len(scorers))
	for _, s := range scorers {
		members = append(members, service.EnsembleMember{
			Scorer: s,
			Weight: cfg.Engine.Ensemble.WeightFor(s.Name()),
		})
	}

	store, err := cache.NewContextStore(ctx, cfg.Cache, a.Logger)
	if err != nil {
		return err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	a.Service = service.NewDiagnosisService(a.Logger, symptoms, members, cfg.Engine, store)
	return nil
}

// WithCatalogLabels returns a copy of models where members without explicit labels score the
// catalog diseases in catalog order.
func WithCatalogLabels(models []domain.ModelConfig, symptoms *domain.SymptomCatalog) []domain.ModelConfig {
	out := make([]domain.ModelConfig, len(models))
	copy(out, models)
	for i := range out {
		if len(out[i].Labels) > 0 {
			continue
		}
		for _, id := range symptoms.Diseases() {
			out[i].Labels = append(out[i].Labels, string(id))
		}
	}
	return out
}

// HealthChecks returns the dependency probes exposed by the health endpoint.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"catalog": func(context.Context) error {
			if a.Service.Catalog().Len() == 0 {
				return errors.New("symptom catalog is empty")
			}
			return nil
		},
	}
	if a.DB != nil {
		checks["database"] = a.DB.Health
	}
	if p, ok := a.Store.(interface{ Ping(context.Context) error }); ok {
		checks["cache"] = p.Ping
	}
	return checks
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
