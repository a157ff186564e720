package ports

import (
	"context"
	"time"
)

type CircuitBreakerState int

const (
	StateClose CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClose:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	MaxRequests      int
	// Interval is how long the breaker stays open before probing again.
	Interval time.Duration
	// IsFailure decides which errors count against the breaker. Nil counts
	// every error.
	IsFailure     func(err error) bool
	OnStateChange func(name string, from, to CircuitBreakerState)
	Clock         Clock
}

type CircuitBreakerMetrics struct {
	State              CircuitBreakerState `json:"state"`
	FailureCount       int64               `json:"failure_count"`
	SuccessCount       int64               `json:"success_count"`
	ConsecutiveSuccess int64               `json:"consecutive_success"`
	ConsecutiveFailure int64               `json:"consecutive_failure"`
	LastStateChange    time.Time           `json:"last_state_change"`
	TotalRequests      int64               `json:"total_requests"`
	RequestsAllowed    int64               `json:"requests_allowed"`
	RequestsRejected   int64               `json:"requests_rejected"`
}

type CircuitBreaker interface {
	Call(ctx context.Context, fn func(context.Context) error) error
	State() CircuitBreakerState
	Metrics() CircuitBreakerMetrics
	Reset()
}

// CircuitBreakerProvider hands out one breaker per name, creating it on first use.
type CircuitBreakerProvider interface {
	Get(name string) CircuitBreaker
	GetAllMetrics() map[string]CircuitBreakerMetrics
}
