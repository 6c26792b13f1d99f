package util

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// KeyedLimiter holds one token bucket per key, created on first use.
type KeyedLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewKeyedLimiter allows rps operations per second per key with the given
// burst. A non-positive rps disables limiting.
func NewKeyedLimiter(rps float64, burst int) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *KeyedLimiter) limiter(key string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[key] = lim
	return lim
}

// Wait blocks until a token for key is available or the context is
// cancelled.
func (l *KeyedLimiter) Wait(ctx context.Context, key string) error {
	if l == nil || l.rps <= 0 {
		return ctx.Err()
	}
	return l.limiter(key).Wait(ctx)
}
