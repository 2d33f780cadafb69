package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/api"
	"github.com/idemdrem-diagnosis-server/internal/app"
	"github.com/idemdrem-diagnosis-server/internal/catalog"
	"github.com/idemdrem-diagnosis-server/internal/config"
	"github.com/idemdrem-diagnosis-server/internal/database"
	"github.com/idemdrem-diagnosis-server/internal/domain"
	"github.com/idemdrem-diagnosis-server/internal/repository"
)

const usage = `Usage: server [command]

Commands:
  serve                    Start the HTTP API (default)
  migrate [up|down]        Apply or roll back the catalog schema migrations
  catalog-import <file>    Load a YAML/JSON catalog into the configured sqlite or postgres source
`

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		err = serve(ctx, configManager)
	case "migrate":
		direction := "up"
		if len(os.Args) > 2 {
			direction = os.Args[2]
		}
		err = migrate(configManager, direction)
	case "catalog-import":
		if len(os.Args) < 3 {
			log.Fatalf("catalog-import requires a file\n\n%s", usage)
		}
		err = importCatalog(ctx, configManager.GetConfig(), os.Args[2])
	case "help", "--help", "-h":
		fmt.Print(usage)
		return
	default:
		log.Fatalf("Unknown command %q\n\n%s", command, usage)
	}

	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func serve(ctx context.Context, configManager *config.Manager) error {
	cfg := configManager.GetConfig()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	var opts []api.ServerOption
	for name, check := range application.HealthChecks() {
		opts = append(opts, api.WithHealthCheck(name, check))
	}

	application.Logger.WithFields(logrus.Fields{
		"host":   cfg.Server.Host,
		"port":   cfg.Server.Port,
		"models": application.Service.Models(),
	}).Info("Starting Idemdrem diagnosis server")

	server := api.NewServer(configManager, application.Service, application.Logger, opts...)
	if err := server.Start(ctx); err != nil {
		return err
	}

	application.Logger.Info("Server stopped")
	return nil
}

func migrate(configManager *config.Manager, direction string) error {
	cfg := configManager.GetConfig()
	logger, closeLog, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	runner, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	switch direction {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
}

func importCatalog(ctx context.Context, cfg *domain.Config, path string) error {
	logger, closeLog, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	symptoms, err := (&catalog.FileLoader{Path: path}).Load(ctx)
	if err != nil {
		return err
	}

	var store catalog.Store
	switch cfg.Catalog.Source {
	case domain.CatalogSourceSQLite:
		sqliteStore, err := catalog.NewSQLiteStore(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		defer sqliteStore.Close()
		store = sqliteStore
	case domain.CatalogSourcePostgres:
		db, err := database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		store = repository.NewCatalogRepository(db.Pool, logger)
	default:
		return fmt.Errorf("catalog source %q is read-only, use sqlite or postgres", cfg.Catalog.Source)
	}

	if err := store.Replace(ctx, symptoms); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"source":     cfg.Catalog.Source,
		"conditions": symptoms.Len(),
	}).Info("Symptom catalog imported")
	return nil
}
