package circuit_breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

// circuitBreaker guards calls to one remote host. Consecutive failures open
// it; after Interval it lets MaxRequests probes through and closes again on
// SuccessThreshold consecutive successes.
type circuitBreaker struct {
	name   string
	config ports.CircuitBreakerConfig
	clock  ports.Clock
	logger *slog.Logger

	mu                 sync.Mutex
	state              ports.CircuitBreakerState
	failureCount       int64
	successCount       int64
	consecutiveSuccess int64
	consecutiveFailure int64
	lastStateChange    time.Time
	nextRetry          time.Time
	totalRequests      int64
	requestsAllowed    int64
	requestsRejected   int64
	halfOpenInFlight   int64
}

func NewCircuitBreaker(name string, config ports.CircuitBreakerConfig, logger *slog.Logger) ports.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	config = withDefaults(config)

	return &circuitBreaker{
		name:            name,
		config:          config,
		clock:           config.Clock,
		logger:          logger.With("component", "circuit-breaker", "name", name),
		state:           ports.StateClose,
		lastStateChange: config.Clock.Now(),
	}
}

func withDefaults(config ports.CircuitBreakerConfig) ports.CircuitBreakerConfig {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = ports.SystemClock{}
	}
	return config
}

// Call runs fn unless the breaker is open. A rejected call returns an error
// wrapping domain.ErrCircuitOpen without invoking fn.
func (cb *circuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *circuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	if cb.state == ports.StateOpen && !cb.clock.Now().Before(cb.nextRetry) {
		cb.setState(ports.StateHalfOpen)
	}

	allowed := false
	switch cb.state {
	case ports.StateClose:
		allowed = true
	case ports.StateHalfOpen:
		if cb.halfOpenInFlight < int64(cb.config.MaxRequests) {
			cb.halfOpenInFlight++
			allowed = true
		}
	}

	if !allowed {
		cb.requestsRejected++
		cb.logger.Debug("request rejected", "state", cb.state.String())
		return fmt.Errorf("%s: %w", cb.name, domain.ErrCircuitOpen)
	}
	cb.requestsAllowed++
	return nil
}

func (cb *circuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == ports.StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if err != nil && cb.countsAsFailure(err) {
		cb.onFailure()
		return
	}
	cb.onSuccess()
}

func (cb *circuitBreaker) countsAsFailure(err error) bool {
	if cb.config.IsFailure == nil {
		return true
	}
	return cb.config.IsFailure(err)
}

func (cb *circuitBreaker) onSuccess() {
	cb.successCount++
	cb.consecutiveSuccess++
	cb.consecutiveFailure = 0

	if cb.state == ports.StateHalfOpen && cb.consecutiveSuccess >= int64(cb.config.SuccessThreshold) {
		cb.setState(ports.StateClose)
	}
}

func (cb *circuitBreaker) onFailure() {
	cb.failureCount++
	cb.consecutiveFailure++
	cb.consecutiveSuccess = 0

	switch cb.state {
	case ports.StateClose:
		if cb.consecutiveFailure >= int64(cb.config.FailureThreshold) {
			cb.setState(ports.StateOpen)
		}
	case ports.StateHalfOpen:
		cb.setState(ports.StateOpen)
	}
}

func (cb *circuitBreaker) setState(newState ports.CircuitBreakerState) {
	oldState := cb.state
	if oldState == newState {
		return
	}

	cb.logger.Info("circuit breaker state change",
		"from", oldState.String(),
		"to", newState.String(),
		"consecutive_failures", cb.consecutiveFailure,
		"consecutive_successes", cb.consecutiveSuccess)

	now := cb.clock.Now()
	cb.state = newState
	cb.lastStateChange = now
	cb.halfOpenInFlight = 0

	switch newState {
	case ports.StateOpen:
		cb.nextRetry = now.Add(cb.config.Interval)
		cb.consecutiveSuccess = 0
	case ports.StateHalfOpen:
		cb.consecutiveFailure = 0
	case ports.StateClose:
		cb.nextRetry = time.Time{}
		cb.consecutiveFailure = 0
	}

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

func (cb *circuitBreaker) State() ports.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *circuitBreaker) Metrics() ports.CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return ports.CircuitBreakerMetrics{
		State:              cb.state,
		FailureCount:       cb.failureCount,
		SuccessCount:       cb.successCount,
		ConsecutiveSuccess: cb.consecutiveSuccess,
		ConsecutiveFailure: cb.consecutiveFailure,
		LastStateChange:    cb.lastStateChange,
		TotalRequests:      cb.totalRequests,
		RequestsAllowed:    cb.requestsAllowed,
		RequestsRejected:   cb.requestsRejected,
	}
}

func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.logger.Info("circuit breaker reset")

	cb.failureCount = 0
	cb.successCount = 0
	cb.consecutiveSuccess = 0
	cb.consecutiveFailure = 0
	cb.totalRequests = 0
	cb.requestsAllowed = 0
	cb.requestsRejected = 0
	cb.setState(ports.StateClose)
}
