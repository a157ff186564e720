package circuit_breaker

import (
	"log/slog"
	"sync"

	"github.com/eleven-am/regiflow/internal/ports"
)

// Provider hands out one breaker per name, all sharing the same config.
type Provider struct {
	config ports.CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	breakers map[string]ports.CircuitBreaker
}

func NewProvider(config ports.CircuitBreakerConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		config:   withDefaults(config),
		breakers: make(map[string]ports.CircuitBreaker),
		logger:   logger.With("component", "circuit-breaker-provider"),
	}
}

func (p *Provider) Get(name string) ports.CircuitBreaker {
	p.mu.RLock()
	breaker, exists := p.breakers[name]
	p.mu.RUnlock()
	if exists {
		return breaker
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, exists := p.breakers[name]; exists {
		return existing
	}

	breaker = NewCircuitBreaker(name, p.config, p.logger)
	p.breakers[name] = breaker

	p.logger.Debug("created circuit breaker",
		"name", name,
		"failure_threshold", p.config.FailureThreshold,
		"success_threshold", p.config.SuccessThreshold,
		"max_requests", p.config.MaxRequests,
		"interval", p.config.Interval)

	return breaker
}

func (p *Provider) GetAllMetrics() map[string]ports.CircuitBreakerMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	metrics := make(map[string]ports.CircuitBreakerMetrics, len(p.breakers))
	for name, breaker := range p.breakers {
		metrics[name] = breaker.Metrics()
	}
	return metrics
}
