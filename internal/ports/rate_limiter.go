package ports

import (
	"context"
	"time"
)

type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// WaitTimeout caps how long Wait blocks for a token.
	WaitTimeout     time.Duration
	CleanupInterval time.Duration
	// KeyExpiry drops idle keys so per-client buckets do not grow forever.
	KeyExpiry time.Duration
	Clock     Clock
}

type RateLimiterMetrics struct {
	TotalRequests   int64     `json:"total_requests"`
	AllowedRequests int64     `json:"allowed_requests"`
	DeniedRequests  int64     `json:"denied_requests"`
	TokensAvailable float64   `json:"tokens_available"`
	LastActivity    time.Time `json:"last_activity"`
}

// RateLimiter is a token bucket per key.
type RateLimiter interface {
	Allow(key string) bool
	Wait(ctx context.Context, key string) error
	Reset(key string)
	Metrics(key string) RateLimiterMetrics
	GlobalMetrics() map[string]RateLimiterMetrics
	Close()
}

type RateLimiterProvider interface {
	GetRateLimiter(name string) RateLimiter
	CreateRateLimiter(name string, config RateLimiterConfig) RateLimiter
	GetAllMetrics() map[string]map[string]RateLimiterMetrics
}
