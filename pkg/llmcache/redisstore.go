package llmcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "convoke:cache:"

// RedisStoreConfig describes the Redis connection for a shared cache.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL expires entries; zero keeps them until evicted.
	TTL time.Duration
}

// RedisStore keeps entries in Redis, one key per digest. SET is atomic, so
// readers never observe partial entries.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// Get reads the entry for digest, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, digest string) (*Entry, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+digest).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}

	return &e, nil
}

// Put writes the entry for digest.
func (s *RedisStore) Put(ctx context.Context, digest string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+digest, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	return nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
