package rate_limiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"golang.org/x/time/rate"
)

var ErrWaitTimeout = errors.New("wait timeout exceeded")

type bucket struct {
	limiter         *rate.Limiter
	totalRequests   int64
	allowedRequests int64
	deniedRequests  int64
	lastActivity    atomic.Int64
}

func (b *bucket) touch(now time.Time) {
	b.lastActivity.Store(now.UnixNano())
}

type rateLimiter struct {
	name    string
	config  ports.RateLimiterConfig
	clock   ports.Clock
	logger  *slog.Logger
	buckets sync.Map

	done      chan struct{}
	closeOnce sync.Once
}

func NewRateLimiter(name string, config ports.RateLimiterConfig, logger *slog.Logger) ports.RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 100
	}
	if config.BurstSize <= 0 {
		config.BurstSize = int(config.RequestsPerSecond)
		if config.BurstSize < 1 {
			config.BurstSize = 1
		}
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = 5 * time.Second
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.KeyExpiry <= 0 {
		config.KeyExpiry = 10 * time.Minute
	}
	clock := config.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}

	rl := &rateLimiter{
		name:   name,
		config: config,
		clock:  clock,
		logger: logger.With("component", "rate-limiter", "name", name),
		done:   make(chan struct{}),
	}

	go rl.cleanupExpiredKeys()

	return rl
}

func (rl *rateLimiter) getBucket(key string) *bucket {
	if value, ok := rl.buckets.Load(key); ok {
		return value.(*bucket)
	}

	newBucket := &bucket{
		limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
	}
	newBucket.touch(rl.clock.Now())

	value, _ := rl.buckets.LoadOrStore(key, newBucket)
	return value.(*bucket)
}

func (rl *rateLimiter) Allow(key string) bool {
	b := rl.getBucket(key)
	now := rl.clock.Now()
	b.touch(now)
	atomic.AddInt64(&b.totalRequests, 1)

	if b.limiter.AllowN(now, 1) {
		atomic.AddInt64(&b.allowedRequests, 1)
		return true
	}
	atomic.AddInt64(&b.deniedRequests, 1)
	return false
}

// Wait blocks until a token is available, ctx ends or WaitTimeout passes.
func (rl *rateLimiter) Wait(ctx context.Context, key string) error {
	if rl.Allow(key) {
		return nil
	}

	b := rl.getBucket(key)
	waitCtx, cancel := context.WithTimeout(ctx, rl.config.WaitTimeout)
	defer cancel()

	if err := b.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, ErrWaitTimeout)
	}
	atomic.AddInt64(&b.allowedRequests, 1)
	return nil
}

func (rl *rateLimiter) Metrics(key string) ports.RateLimiterMetrics {
	value, ok := rl.buckets.Load(key)
	if !ok {
		return ports.RateLimiterMetrics{TokensAvailable: float64(rl.config.BurstSize)}
	}
	b := value.(*bucket)
	return ports.RateLimiterMetrics{
		TotalRequests:   atomic.LoadInt64(&b.totalRequests),
		AllowedRequests: atomic.LoadInt64(&b.allowedRequests),
		DeniedRequests:  atomic.LoadInt64(&b.deniedRequests),
		TokensAvailable: b.limiter.TokensAt(rl.clock.Now()),
		LastActivity:    time.Unix(0, b.lastActivity.Load()),
	}
}

func (rl *rateLimiter) Reset(key string) {
	if value, ok := rl.buckets.LoadAndDelete(key); ok {
		b := value.(*bucket)
		rl.logger.Debug("reset rate limiter", "key", key, "requests", atomic.LoadInt64(&b.totalRequests))
	}
}

func (rl *rateLimiter) GlobalMetrics() map[string]ports.RateLimiterMetrics {
	metrics := make(map[string]ports.RateLimiterMetrics)
	rl.buckets.Range(func(key, _ interface{}) bool {
		keyStr := key.(string)
		metrics[keyStr] = rl.Metrics(keyStr)
		return true
	})
	return metrics
}

func (rl *rateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.done) })
}

func (rl *rateLimiter) cleanupExpiredKeys() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.performCleanup()
		}
	}
}

func (rl *rateLimiter) performCleanup() {
	now := rl.clock.Now()
	deleted := 0

	rl.buckets.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		idle := now.Sub(time.Unix(0, b.lastActivity.Load()))
		if idle > rl.config.KeyExpiry {
			rl.buckets.Delete(key)
			deleted++
		}
		return true
	})

	if deleted > 0 {
		rl.logger.Debug("cleaned up expired keys", "deleted", deleted)
	}
}
