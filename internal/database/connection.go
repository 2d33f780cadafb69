package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// DB wraps the pgxpool.Pool holding the symptom catalog tables.
type DB struct {
	Pool *pgxpool.Pool
	log  *logrus.Logger
}

// DSN renders the key/value connection string for cfg.
func DSN(cfg domain.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, sslMode,
	)
}

// URL renders the postgres:// URL for cfg, as needed by the migration runner.
func URL(cfg domain.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, sslMode)
}

// NewConnection opens and pings a connection pool.
func NewConnection(ctx context.Context, cfg domain.DatabaseConfig, logger *logrus.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 && int32(cfg.MaxIdleConns) <= poolConfig.MaxConns {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host":      cfg.Host,
		"port":      cfg.Port,
		"database":  cfg.Database,
		"max_conns": poolConfig.MaxConns,
		"min_conns": poolConfig.MinConns,
	}).Info("Database connection pool established")

	return &DB{
		Pool: pool,
		log:  logger,
	}, nil
}

// Close closes the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("Database connection pool closed")
	}
}

// Health pings the database.
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Stats returns connection pool statistics.
func (db *DB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}
