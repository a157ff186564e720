package rate_limiter

import (
	"log/slog"
	"sync"

	"github.com/eleven-am/regiflow/internal/ports"
)

// Provider keeps one named limiter per surface, e.g. "api" and "webhook".
type Provider struct {
	mu       sync.RWMutex
	defaults ports.RateLimiterConfig
	limiters map[string]ports.RateLimiter
	logger   *slog.Logger
}

func NewProvider(defaults ports.RateLimiterConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		defaults: defaults,
		limiters: make(map[string]ports.RateLimiter),
		logger:   logger.With("component", "rate-limiter-provider"),
	}
}

func (p *Provider) GetRateLimiter(name string) ports.RateLimiter {
	p.mu.RLock()
	limiter, exists := p.limiters[name]
	p.mu.RUnlock()

	if !exists {
		return p.CreateRateLimiter(name, p.defaults)
	}

	return limiter
}

func (p *Provider) CreateRateLimiter(name string, config ports.RateLimiterConfig) ports.RateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, exists := p.limiters[name]; exists {
		p.logger.Debug("rate limiter already exists, returning existing", "name", name)
		return existing
	}

	limiter := NewRateLimiter(name, config, p.logger)
	p.limiters[name] = limiter

	p.logger.Info("created rate limiter",
		"name", name,
		"rps", config.RequestsPerSecond,
		"burst", config.BurstSize,
		"timeout", config.WaitTimeout)

	return limiter
}

func (p *Provider) GetAllMetrics() map[string]map[string]ports.RateLimiterMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	allMetrics := make(map[string]map[string]ports.RateLimiterMetrics)
	for name, limiter := range p.limiters {
		allMetrics[name] = limiter.GlobalMetrics()
	}

	return allMetrics
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, limiter := range p.limiters {
		limiter.Close()
	}
}
