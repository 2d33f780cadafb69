// Package main provides the stdio MCP entry point for the diagnosis engine. Without a config
// file it runs from IDEMDREM_* environment variables with an in-memory context store.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/idemdrem-diagnosis-server/internal/app"
	"github.com/idemdrem-diagnosis-server/internal/config"
	"github.com/idemdrem-diagnosis-server/internal/domain"
	"github.com/idemdrem-diagnosis-server/internal/mcp"
	"github.com/idemdrem-diagnosis-server/internal/setup"
)

func main() {
	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.NewCLI().Run(os.Args[2:]); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialise diagnosis engine: %v", err)
	}
	defer application.Close()

	server, err := mcp.NewServer(cfg.MCP, application.Service, application.Logger)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		application.Logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		application.Logger.WithError(err).Error("MCP server failed")
		return
	}

	application.Logger.Info("Diagnosis MCP server stopped")
}

// loadConfig reads IDEMDREM_CONFIG_FILE through viper when set, otherwise the environment-only
// lite configuration rooted at the data directory.
func loadConfig() (*domain.Config, error) {
	if path := os.Getenv("IDEMDREM_CONFIG_FILE"); path != "" {
		manager, err := config.NewManagerFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg := manager.GetConfig()
		// stdout carries the MCP protocol.
		if cfg.Logging.Output == "stdout" {
			cfg.Logging.Output = "stderr"
		}
		return cfg, nil
	}

	lite := config.LoadLiteConfig()
	if err := lite.EnsureDataDir(); err != nil {
		return nil, err
	}
	return lite.ToConfig(), nil
}
