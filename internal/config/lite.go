// Package config provides configuration management for the diagnosis server.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir     string // Base directory for data files
	CatalogPath string // YAML/JSON catalog file, or a .db SQLite catalog

	// Ensemble member, either remote or local
	ModelName       string
	ModelEndpoint   string
	ModelLabels     []string // empty means the catalog's conditions in sorted order
	ONNXModelPath   string
	ONNXLibraryPath string

	// Decision thresholds
	AbsoluteThreshold float64
	MarginThreshold   float64

	// Cache settings
	CacheMaxItems int           // Maximum candidate sets kept in memory
	CacheTTL      time.Duration // Candidate set lifetime

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".idemdrem")

	return &LiteConfig{
		DataDir:           dataDir,
		CatalogPath:       filepath.Join(dataDir, "catalog.yaml"),
		ModelName:         "primary",
		AbsoluteThreshold: domain.DefaultAbsoluteThreshold,
		MarginThreshold:   domain.DefaultMarginThreshold,
		CacheMaxItems:     1000,
		CacheTTL:          30 * time.Minute,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	// Data directory
	if v := os.Getenv("IDEMDREM_DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.CatalogPath = filepath.Join(v, "catalog.yaml")
	}
	if v := os.Getenv("IDEMDREM_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}

	// Model
	if v := os.Getenv("IDEMDREM_MODEL_NAME"); v != "" {
		cfg.ModelName = v
	}
	cfg.ModelEndpoint = os.Getenv("IDEMDREM_MODEL_ENDPOINT")
	if v := os.Getenv("IDEMDREM_MODEL_LABELS"); v != "" {
		for _, label := range strings.Split(v, ",") {
			if label = strings.TrimSpace(label); label != "" {
				cfg.ModelLabels = append(cfg.ModelLabels, label)
			}
		}
	}
	cfg.ONNXModelPath = os.Getenv("IDEMDREM_ONNX_MODEL")
	cfg.ONNXLibraryPath = os.Getenv("IDEMDREM_ONNX_LIBRARY")

	// Thresholds
	if v := os.Getenv("IDEMDREM_GATE_ABSOLUTE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AbsoluteThreshold = f
		}
	}
	if v := os.Getenv("IDEMDREM_GATE_MARGIN_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MarginThreshold = f
		}
	}

	// Cache settings
	if v := os.Getenv("IDEMDREM_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("IDEMDREM_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Logging
	if v := os.Getenv("IDEMDREM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("IDEMDREM_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// CatalogSource reports how the catalog file should be read.
func (c *LiteConfig) CatalogSource() string {
	switch strings.ToLower(filepath.Ext(c.CatalogPath)) {
	case ".db", ".sqlite", ".sqlite3":
		return domain.CatalogSourceSQLite
	default:
		return domain.CatalogSourceFile
	}
}

// ToConfig expands the lite settings into a full configuration. The MCP server always keeps
// candidate sets in memory and logs to stderr, leaving stdout to the protocol.
func (c *LiteConfig) ToConfig() *domain.Config {
	engine := domain.DefaultEngineConfig()
	engine.Gate.AbsoluteThreshold = c.AbsoluteThreshold
	engine.Gate.MarginThreshold = c.MarginThreshold

	cfg := &domain.Config{
		Environment: "development",
		Engine:      engine,
		Catalog: domain.CatalogConfig{
			Source: c.CatalogSource(),
			Path:   c.CatalogPath,
		},
		ONNX: domain.ONNXConfig{LibraryPath: c.ONNXLibraryPath},
		Cache: domain.CacheConfig{
			Backend:    domain.CacheBackendMemory,
			ContextTTL: c.CacheTTL,
			MaxItems:   c.CacheMaxItems,
		},
		Logging: domain.LoggingConfig{
			Level:  c.LogLevel,
			Format: c.LogFormat,
			Output: "stderr",
		},
		MCP: domain.MCPConfig{
			ServerName:    "idemdrem-diagnosis",
			ServerVersion: "1.0.0",
		},
	}

	switch {
	case c.ONNXModelPath != "":
		cfg.Models = []domain.ModelConfig{{
			Name:     c.ModelName,
			Kind:     domain.ModelKindONNX,
			Labels:   c.ModelLabels,
			ONNXPath: c.ONNXModelPath,
		}}
	case c.ModelEndpoint != "":
		cfg.Models = []domain.ModelConfig{{
			Name:     c.ModelName,
			Kind:     domain.ModelKindRemote,
			Labels:   c.ModelLabels,
			Endpoint: c.ModelEndpoint,
		}}
	}

	return cfg
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}
