package sso

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/andina-labs/almacen/pkg/config"
	"github.com/andina-labs/almacen/pkg/observability"
)

const redisKeyPrefix = "almacen:oauth:pending:"

// RedisStateStore backs the pending-authorization store with Redis so
// multiple gateway instances can resolve each other's callbacks. GETDEL
// gives the same consume-once guarantee the memory store provides.
type RedisStateStore struct {
	client  *redis.Client
	metrics *observability.Metrics
}

// NewRedisStateStore connects to Redis and verifies the connection.
func NewRedisStateStore(ctx context.Context, cfg config.RedisConfig, metrics *observability.Metrics) (*RedisStateStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStateStore{client: client, metrics: metrics}, nil
}

// Put stores a pending authorization with the flow TTL. Redis handles
// expiry, so no sweeper is needed.
func (s *RedisStateStore) Put(ctx context.Context, rec *PendingAuthorization) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.client.Set(ctx, redisKeyPrefix+rec.Nonce, payload, StateTTL).Err()
	s.observe("put", err)
	return err
}

// Consume atomically fetches and deletes the record for a nonce.
func (s *RedisStateStore) Consume(ctx context.Context, nonce string) (*PendingAuthorization, error) {
	payload, err := s.client.GetDel(ctx, redisKeyPrefix+nonce).Bytes()
	if err == redis.Nil {
		s.observe("consume", ErrStateNotFound)
		return nil, ErrStateNotFound
	}
	if err != nil {
		s.observe("consume", err)
		return nil, fmt.Errorf("redis getdel: %w", err)
	}

	var rec PendingAuthorization
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.observe("consume", err)
		return nil, fmt.Errorf("decode pending authorization: %w", err)
	}
	s.observe("consume", nil)
	return &rec, nil
}

// Ping probes the Redis connection for readiness checks.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

func (s *RedisStateStore) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == ErrStateNotFound:
		result = "miss"
	case err != nil:
		result = "error"
	}
	s.metrics.StateStoreOpsTotal.WithLabelValues("redis", op, result).Inc()
}
