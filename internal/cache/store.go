package cache

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// NewContextStore builds the store selected by cfg.Backend.
func NewContextStore(ctx context.Context, cfg domain.CacheConfig, logger *logrus.Logger) (domain.ContextStore, error) {
	switch cfg.Backend {
	case domain.CacheBackendMemory, "":
		logger.WithFields(logrus.Fields{
			"backend":   domain.CacheBackendMemory,
			"max_items": cfg.MaxItems,
			"ttl":       cfg.ContextTTL,
		}).Info("Candidate context store ready")
		return NewMemoryContextStore(cfg.MaxItems, cfg.ContextTTL), nil
	case domain.CacheBackendRedis:
		store, err := NewRedisContextStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"backend": domain.CacheBackendRedis,
			"ttl":     store.ttl,
		}).Info("Candidate context store ready")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
