package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps webhook reservations in Redis so several regiflow
// processes behind one load balancer share a single dedupe window.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to redisURL and pings it before returning.
func NewRedisStore(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required: %w", domain.ErrInvalidConfig)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, logger), nil
}

func NewRedisStoreWithClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		logger: logger.With("component", "idempotency-redis"),
	}
}

func (s *RedisStore) Reserve(ctx context.Context, key, executionID string, ttl time.Duration) (string, bool, error) {
	redisKey := domain.IdempotencyKey(key)

	ok, err := s.client.SetNX(ctx, redisKey, executionID, ttl).Result()
	if err != nil {
		return "", false, domain.NewTransientError("redis setnx", err)
	}
	if ok {
		return executionID, true, nil
	}

	existing, err := s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.client.SetNX(ctx, redisKey, executionID, ttl).Result()
		if err != nil {
			return "", false, domain.NewTransientError("redis setnx", err)
		}
		if ok {
			return executionID, true, nil
		}
		existing, err = s.client.Get(ctx, redisKey).Result()
	}
	if err != nil {
		return "", false, domain.NewTransientError("redis get", err)
	}

	s.logger.Debug("duplicate delivery inside window", "key", key, "execution_id", existing)
	return existing, false, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, domain.IdempotencyKey(key)).Err(); err != nil {
		return domain.NewTransientError("redis del", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
