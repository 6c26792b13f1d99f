// Package cache is the best-effort cache-aside layer for resolved trading
// days. No operation returns an error: a failing store behaves like an empty
// one.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL is the lifetime of a cached resolution.
const DefaultTTL = 24 * time.Hour

// Value is a cached answer. Degraded is an open answer produced by a
// fail-open fallback; it stays distinguishable from a normal open day.
type Value uint8

const (
	Closed Value = iota
	Open
	Degraded
)

// ValueOf encodes a resolution outcome.
func ValueOf(open, degraded bool) Value {
	switch {
	case open && degraded:
		return Degraded
	case open:
		return Open
	default:
		return Closed
	}
}

// IsOpen reports whether v counts as a trading day.
func (v Value) IsOpen() bool { return v != Closed }

// Store caches resolved answers by key.
type Store interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (v Value, ok bool)

	// Set stores a single value.
	Set(ctx context.Context, key string, v Value, ttl time.Duration)

	// BatchSet stores many values in one round trip.
	BatchSet(ctx context.Context, entries map[string]Value, ttl time.Duration)
}

// Compile-time interface checks.
var (
	_ Store = (*Memory)(nil)
	_ Store = Disabled{}
	_ Store = (*RedisStore)(nil)
)

// Options selects and tunes a store.
type Options struct {
	Backend   string // "redis", "memory" or "none"
	RedisURL  string
	OpTimeout time.Duration
}

// New builds the configured store. An unreachable Redis degrades to
// Disabled; the reason is logged once here and never again.
func New(ctx context.Context, opts Options, log *slog.Logger) Store {
	switch strings.ToLower(opts.Backend) {
	case "memory":
		return NewMemory()
	case "none", "disabled", "off":
		log.Info("cache disabled by configuration")
		return Disabled{}
	default:
		s, err := DialRedis(ctx, opts.RedisURL, opts.OpTimeout, log)
		if err != nil {
			log.Warn("redis connection failed, disabling cache", "error", err)
			return Disabled{}
		}
		return s
	}
}

// ---------------------------------------------------------------------------
// Disabled
// ---------------------------------------------------------------------------

// Disabled is a permanently empty store.
type Disabled struct{}

func (Disabled) Get(context.Context, string) (Value, bool)                 { return Closed, false }
func (Disabled) Set(context.Context, string, Value, time.Duration)         {}
func (Disabled) BatchSet(context.Context, map[string]Value, time.Duration) {}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// Memory is an in-process TTL store. Hits do not extend an entry's lifetime.
type Memory struct {
	items *ttlcache.Cache[string, Value]
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items: ttlcache.New[string, Value](ttlcache.WithDisableTouchOnHit[string, Value]()),
	}
}

// Get returns an unexpired value for key.
func (c *Memory) Get(_ context.Context, key string) (Value, bool) {
	item := c.items.Get(key)
	if item == nil {
		return Closed, false
	}
	return item.Value(), true
}

// Set stores key. A non-positive ttl never expires.
func (c *Memory) Set(_ context.Context, key string, v Value, ttl time.Duration) {
	c.items.Set(key, v, memoryTTL(ttl))
}

// BatchSet stores every entry.
func (c *Memory) BatchSet(_ context.Context, entries map[string]Value, ttl time.Duration) {
	ttl = memoryTTL(ttl)
	for k, v := range entries {
		c.items.Set(k, v, ttl)
	}
}

func memoryTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttlcache.NoTTL
	}
	return ttl
}
