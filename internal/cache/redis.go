package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

const redisKeyPrefix = "idemdrem:context:"

// RedisContextStore keeps candidate sets in Redis so that classify and confirm may be served by
// different replicas.
type RedisContextStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// cachedCandidates is the stored form of a candidate set.
type cachedCandidates struct {
	Candidates domain.PredictionSet `json:"candidates"`
	CachedAt   time.Time            `json:"cached_at"`
}

// NewRedisContextStore connects to Redis and verifies the connection.
func NewRedisContextStore(ctx context.Context, cfg domain.CacheConfig) (*RedisContextStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.ContextTTL
	if ttl <= 0 {
		ttl = DefaultContextTTL
	}
	return &RedisContextStore{redis: client, ttl: ttl}, nil
}

// Save stores the candidates under a fresh identifier with the configured TTL.
func (s *RedisContextStore) Save(ctx context.Context, candidates domain.PredictionSet) (string, error) {
	data, err := json.Marshal(cachedCandidates{Candidates: candidates, CachedAt: time.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal candidate context: %w", err)
	}

	id := uuid.New().String()
	if err := s.redis.Set(ctx, redisKeyPrefix+id, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store candidate context: %w", err)
	}
	return id, nil
}

// Load returns the candidates stored under id. Corrupted entries are removed and reported as
// missing.
func (s *RedisContextStore) Load(ctx context.Context, id string) (domain.PredictionSet, error) {
	key := redisKeyPrefix + id
	val, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PredictionSet{}, fmt.Errorf("%w: %s", domain.ErrContextNotFound, id)
	}
	if err != nil {
		return domain.PredictionSet{}, fmt.Errorf("failed to read candidate context: %w", err)
	}

	var cached cachedCandidates
	if err := json.Unmarshal(val, &cached); err != nil {
		s.redis.Del(ctx, key)
		return domain.PredictionSet{}, fmt.Errorf("%w: %s", domain.ErrContextNotFound, id)
	}
	return cached.Candidates, nil
}

// Close closes the Redis client.
func (s *RedisContextStore) Close() error {
	return s.redis.Close()
}

// Ping checks the Redis connection.
func (s *RedisContextStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
