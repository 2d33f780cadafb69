package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. IDEMDREM_ENGINE_GATE_ABSOLUTE_THRESHOLD.
const EnvPrefix = "IDEMDREM"

var _ domain.ConfigManager = (*Manager)(nil)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

// NewManager loads config.yaml from the standard search paths, environment variables and
// defaults.
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile loads configuration from an explicit file. An empty path searches the
// standard locations.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	v := viper.New()
	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/idemdrem/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The file is optional when searching; an explicit file must exist.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7860)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "45s")
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Engine defaults
	v.SetDefault("engine.top_k", domain.DefaultTopK)
	v.SetDefault("engine.ensemble.weights", map[string]float64{})
	v.SetDefault("engine.gate.absolute_threshold", domain.DefaultAbsoluteThreshold)
	v.SetDefault("engine.gate.margin_threshold", domain.DefaultMarginThreshold)
	v.SetDefault("engine.severity.severe", domain.DefaultSevereBand)
	v.SetDefault("engine.severity.moderate", domain.DefaultModerateBand)
	v.SetDefault("engine.max_image_pixels", domain.DefaultMaxImagePixels)

	// Catalog defaults
	v.SetDefault("catalog.source", domain.CatalogSourceFile)
	v.SetDefault("catalog.path", "config/catalog.yaml")

	v.SetDefault("onnx.library_path", "")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "idemdrem")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Cache defaults
	v.SetDefault("cache.backend", domain.CacheBackendMemory)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.context_ttl", "30m")
	v.SetDefault("cache.max_items", 10000)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("mcp.server_name", "idemdrem-diagnosis")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetEngineConfig returns the decision engine configuration
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// ConfigFileUsed returns the path of the file that was read, if any.
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration for values the service cannot run with.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server max_upload_bytes must be positive")
	}
	if config.Server.RateLimit < 0 {
		return fmt.Errorf("server rate_limit must not be negative")
	}

	if err := validateEngine(config.Engine); err != nil {
		return err
	}

	switch config.Catalog.Source {
	case domain.CatalogSourceFile, domain.CatalogSourceSQLite:
		if config.Catalog.Path == "" {
			return fmt.Errorf("catalog path is required for source %s", config.Catalog.Source)
		}
	case domain.CatalogSourcePostgres:
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	default:
		return fmt.Errorf("invalid catalog source: %s", config.Catalog.Source)
	}

	seen := make(map[string]struct{}, len(config.Models))
	for i, model := range config.Models {
		if model.Name == "" {
			return fmt.Errorf("model %d: name is required", i)
		}
		if _, dup := seen[model.Name]; dup {
			return fmt.Errorf("duplicate model name: %s", model.Name)
		}
		seen[model.Name] = struct{}{}
		switch model.Kind {
		case domain.ModelKindRemote, "":
			if model.Endpoint == "" {
				return fmt.Errorf("model %s: endpoint is required", model.Name)
			}
		case domain.ModelKindONNX:
			if model.ONNXPath == "" {
				return fmt.Errorf("model %s: onnx_path is required", model.Name)
			}
		default:
			return fmt.Errorf("model %s: invalid kind %s", model.Name, model.Kind)
		}
	}

	switch config.Cache.Backend {
	case domain.CacheBackendMemory:
	case domain.CacheBackendRedis:
		if config.Cache.RedisURL == "" {
			return fmt.Errorf("Redis URL is required")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s", config.Cache.Backend)
	}

	if _, ok := validLogLevels[strings.ToLower(config.Logging.Level)]; !ok {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

var validLogLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "warning": {}, "error": {}, "fatal": {}, "panic": {},
}

func validateEngine(engine domain.EngineConfig) error {
	if engine.TopK < 1 {
		return fmt.Errorf("engine top_k must be at least 1, got %d", engine.TopK)
	}
	for name, w := range engine.Ensemble.Weights {
		if w < 0 {
			return fmt.Errorf("ensemble weight for %s must not be negative", name)
		}
	}

	if !unitInterval(engine.Gate.AbsoluteThreshold) {
		return fmt.Errorf("gate absolute_threshold must be within [0,1], got %v", engine.Gate.AbsoluteThreshold)
	}
	if !unitInterval(engine.Gate.MarginThreshold) {
		return fmt.Errorf("gate margin_threshold must be within [0,1], got %v", engine.Gate.MarginThreshold)
	}

	if !unitInterval(engine.Severity.Severe) || !unitInterval(engine.Severity.Moderate) {
		return fmt.Errorf("severity bands must be within [0,1]")
	}
	if engine.Severity.Moderate > engine.Severity.Severe {
		return fmt.Errorf("severity moderate band %v exceeds severe band %v", engine.Severity.Moderate, engine.Severity.Severe)
	}
	if engine.MaxImagePixels < 1 {
		return fmt.Errorf("engine max_image_pixels must be positive, got %d", engine.MaxImagePixels)
	}
	return nil
}

func unitInterval(v float64) bool {
	return v >= 0 && v <= 1
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the postgres:// URL used by migrations
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
