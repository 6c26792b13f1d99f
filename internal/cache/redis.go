package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"tradingcal/internal/metrics"
)

const (
	valueOpen     = "1"
	valueClosed   = "0"
	valueDegraded = "d"

	defaultOpTimeout = 500 * time.Millisecond
)

// RedisStore stores resolutions in Redis as "1", "0" or "d" (degraded open)
// strings. Every command
// runs under a short timeout; errors are logged and swallowed.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
	log       *slog.Logger
}

// NewRedisStore wraps an existing client without checking connectivity.
func NewRedisStore(client *redis.Client, opTimeout time.Duration, log *slog.Logger) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &RedisStore{
		client:    client,
		opTimeout: opTimeout,
		log:       log.With("component", "cache"),
	}
}

// DialRedis connects to url and pings it.
func DialRedis(ctx context.Context, url string, opTimeout time.Duration, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(client, opTimeout, log), nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Get returns the cached value. Misses and errors both report !ok.
func (s *RedisStore) Get(ctx context.Context, key string) (Value, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Closed, false
	}
	if err != nil {
		metrics.IncCacheError("get")
		s.log.Warn("cache get failed", "key", key, "error", err)
		return Closed, false
	}
	switch v {
	case valueOpen:
		return Open, true
	case valueClosed:
		return Closed, true
	case valueDegraded:
		return Degraded, true
	default:
		s.log.Warn("ignoring malformed cache value", "key", key, "value", v)
		return Closed, false
	}
}

// Set stores a single value.
func (s *RedisStore) Set(ctx context.Context, key string, v Value, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, key, encode(v), ttl).Err(); err != nil {
		metrics.IncCacheError("set")
		s.log.Warn("cache set failed", "key", key, "error", err)
	}
}

// BatchSet pipelines every SET into a single round trip. Keys are written in
// sorted order.
func (s *RedisStore) BatchSet(ctx context.Context, entries map[string]Value, ttl time.Duration) {
	if len(entries) == 0 {
		return
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Set(ctx, k, encode(entries[k]), ttl)
		}
		return nil
	})
	if err != nil {
		metrics.IncCacheError("batch_set")
		s.log.Warn("batch cache failed", "keys", len(keys), "error", err)
	}
}

func encode(v Value) string {
	switch v {
	case Open:
		return valueOpen
	case Degraded:
		return valueDegraded
	default:
		return valueClosed
	}
}
