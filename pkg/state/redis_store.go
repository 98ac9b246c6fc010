package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "rla:checkpoint:"

// RedisStore keeps checkpoints in Redis, encoded with Encode. Keys are the
// prefix followed by Ref.Identifier().
type RedisStore[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// WithKeyPrefix replaces the default "rla:checkpoint:" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(cfg *redisConfig) {
		cfg.prefix = prefix
	}
}

// WithTTL expires checkpoints after ttl. Zero keeps them until deleted.
func WithTTL(ttl time.Duration) RedisOption {
	return func(cfg *redisConfig) {
		cfg.ttl = ttl
	}
}

// WithNow replaces time.Now for Meta.UpdatedAt.
func WithNow(now func() time.Time) RedisOption {
	return func(cfg *redisConfig) {
		cfg.now = now
	}
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore[T any](ctx context.Context, redisURL string, opts ...RedisOption) (*RedisStore[T], error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("state: parse redis url: %w", err)
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("state: connect to redis: %w", err)
	}
	return NewRedisStoreWithClient[T](client, opts...), nil
}

// NewRedisStoreWithClient builds a store over an existing client.
func NewRedisStoreWithClient[T any](client *redis.Client, opts ...RedisOption) *RedisStore[T] {
	cfg := redisConfig{prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &RedisStore[T]{client: client, prefix: cfg.prefix, ttl: cfg.ttl, now: cfg.now}
}

func (s *RedisStore[T]) key(ref Ref) (string, error) {
	id, err := ref.Identifier()
	if err != nil {
		return "", err
	}
	return s.prefix + id, nil
}

func (s *RedisStore[T]) Load(ctx context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	key, err := s.key(ref)
	if err != nil {
		return zero, Meta{}, false, err
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, Meta{}, false, nil
	}
	if err != nil {
		return zero, Meta{}, false, fmt.Errorf("state: redis get %s: %w", key, err)
	}
	snapshot, meta, err := Decode[T](data)
	if err != nil {
		return zero, Meta{}, false, err
	}
	return snapshot, meta, true, nil
}

func (s *RedisStore[T]) Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	key, err := s.key(ref)
	if err != nil {
		return Meta{}, err
	}
	stamped, err := stamp(snapshot, meta, s.now)
	if err != nil {
		return Meta{}, err
	}
	data, err := Encode(snapshot, stamped)
	if err != nil {
		return Meta{}, err
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return Meta{}, fmt.Errorf("state: redis set %s: %w", key, err)
	}
	return stamped, nil
}

func (s *RedisStore[T]) Delete(ctx context.Context, ref Ref) error {
	key, err := s.key(ref)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("state: redis del %s: %w", key, err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore[T]) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore[T]) Close() error {
	return s.client.Close()
}
