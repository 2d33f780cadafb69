package domain

import (
	"strings"
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Engine      EngineConfig   `mapstructure:"engine"`
	Catalog     CatalogConfig  `mapstructure:"catalog"`
	Models      []ModelConfig  `mapstructure:"models"`
	ONNX        ONNXConfig     `mapstructure:"onnx"`
	Database    DatabaseConfig `mapstructure:"database"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	MCP         MCPConfig      `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second per client, 0 disables
	RateBurst      int           `mapstructure:"rate_burst"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// EngineConfig holds every tunable of the decision pipeline.
type EngineConfig struct {
	TopK     int            `mapstructure:"top_k"`
	Ensemble EnsembleConfig `mapstructure:"ensemble"`
	Gate     GateConfig     `mapstructure:"gate"`
	Severity SeverityConfig `mapstructure:"severity"`

	// MaxImagePixels caps width*height of an upload before it is decoded.
	MaxImagePixels int64 `mapstructure:"max_image_pixels"`
}

// EnsembleConfig maps member model names to their weight. Models without a weight, or with a
// zero weight, count with weight 1 so an empty map means equal weighting.
type EnsembleConfig struct {
	Weights map[string]float64 `mapstructure:"weights"`
}

// WeightFor returns the effective weight of the named model.
func (e EnsembleConfig) WeightFor(model string) float64 {
	w, ok := e.Weights[model]
	if !ok {
		// viper lowercases map keys read from files and the environment.
		w, ok = e.Weights[strings.ToLower(model)]
	}
	if ok && w > 0 {
		return w
	}
	return 1.0
}

// GateConfig holds the out-of-distribution cutoffs.
type GateConfig struct {
	// AbsoluteThreshold is T_abs: a top-1 confidence below it is flagged unknown.
	AbsoluteThreshold float64 `mapstructure:"absolute_threshold"`
	// MarginThreshold is T_margin: a top-1/top-2 gap below it is flagged unknown.
	MarginThreshold float64 `mapstructure:"margin_threshold"`
}

// SeverityConfig holds the lower bounds of the severity bands over the match ratio.
type SeverityConfig struct {
	Severe   float64 `mapstructure:"severe"`
	Moderate float64 `mapstructure:"moderate"`
}

// Engine defaults.
const (
	DefaultTopK              = 3
	DefaultAbsoluteThreshold = 0.5
	DefaultMarginThreshold   = 0.1
	DefaultSevereBand        = 0.75
	DefaultModerateBand      = 0.4
	DefaultMaxImagePixels    = 40_000_000
)

// DefaultEngineConfig returns the documented engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TopK: DefaultTopK,
		Gate: GateConfig{
			AbsoluteThreshold: DefaultAbsoluteThreshold,
			MarginThreshold:   DefaultMarginThreshold,
		},
		Severity: SeverityConfig{
			Severe:   DefaultSevereBand,
			Moderate: DefaultModerateBand,
		},
		MaxImagePixels: DefaultMaxImagePixels,
	}
}

// Catalog sources.
const (
	CatalogSourceFile     = "file"
	CatalogSourceSQLite   = "sqlite"
	CatalogSourcePostgres = "postgres"
)

// CatalogConfig selects where the symptom catalog is loaded from.
type CatalogConfig struct {
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
}

// Model kinds.
const (
	ModelKindRemote = "remote"
	ModelKindONNX   = "onnx"
)

// ModelConfig describes one ensemble member.
type ModelConfig struct {
	Name         string        `mapstructure:"name"`
	Kind         string        `mapstructure:"kind"`
	Labels       []string      `mapstructure:"labels"`
	InputWidth   int           `mapstructure:"input_width"`
	InputHeight  int           `mapstructure:"input_height"`
	ApplySoftmax bool          `mapstructure:"apply_softmax"`
	Endpoint     string        `mapstructure:"endpoint"`
	ModelName    string        `mapstructure:"model_name"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
	ONNXPath     string        `mapstructure:"onnx_path"`
	InputName    string        `mapstructure:"input_name"`
	OutputName   string        `mapstructure:"output_name"`
}

// ONNXConfig configures the local ONNX Runtime.
type ONNXConfig struct {
	LibraryPath string `mapstructure:"library_path"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// CacheConfig configures the candidate-context store.
type CacheConfig struct {
	Backend     string        `mapstructure:"backend"`
	RedisURL    string        `mapstructure:"redis_url"`
	ContextTTL  time.Duration `mapstructure:"context_ttl"`
	MaxItems    int           `mapstructure:"max_items"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
