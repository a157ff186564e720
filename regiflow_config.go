package regiflow

import (
	"log/slog"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
)

type Config = domain.Config

type EngineConfig = domain.EngineConfig

type RetryConfig = domain.RetryConfig

type DispatcherConfig = domain.DispatcherConfig

type HTTPConfig = domain.HTTPConfig

type ServerConfig = domain.ServerConfig

type StorageConfig = domain.StorageConfig

type TracingConfig = domain.TracingConfig

type ConditionalPolicy = domain.ConditionalPolicy

type SchedulePolicy = domain.SchedulePolicy

type IdempotencyBackend = domain.IdempotencyBackend

type StorageBackend = domain.StorageBackend

const (
	ConditionalFallback = domain.ConditionalFallback
	ConditionalStrict   = domain.ConditionalStrict

	ScheduleSkipIfRunning = domain.ScheduleSkipIfRunning
	ScheduleAllowOverlap  = domain.ScheduleAllowOverlap

	IdempotencyMemory  = domain.IdempotencyMemory
	IdempotencyStorage = domain.IdempotencyStorage
	IdempotencyRedis   = domain.IdempotencyRedis

	StorageBadger = domain.StorageBadger
	StorageMemory = domain.StorageMemory
)

func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

func DefaultEngineConfig() EngineConfig {
	return domain.DefaultEngineConfig()
}

func DefaultRetryConfig() RetryConfig {
	return domain.DefaultRetryConfig()
}

func DefaultDispatcherConfig() DispatcherConfig {
	return domain.DefaultDispatcherConfig()
}

type ConfigBuilder struct {
	config *Config
}

func NewConfigBuilder(dataDir string) *ConfigBuilder {
	config := DefaultConfig()
	config.DataDir = dataDir
	return &ConfigBuilder{config: config}
}

func (cb *ConfigBuilder) WithLogger(logger *slog.Logger) *ConfigBuilder {
	cb.config.Logger = logger
	return cb
}

func (cb *ConfigBuilder) WithEngineSettings(maxExecutions int, stepTimeout, deadline time.Duration) *ConfigBuilder {
	cb.config.WithEngineSettings(maxExecutions, stepTimeout, deadline)
	return cb
}

func (cb *ConfigBuilder) WithRetry(maxAttempts int, initial, max time.Duration) *ConfigBuilder {
	cb.config.WithRetry(maxAttempts, initial, max)
	return cb
}

func (cb *ConfigBuilder) WithInMemoryStorage() *ConfigBuilder {
	cb.config.WithInMemoryStorage()
	return cb
}

func (cb *ConfigBuilder) WithServerAddr(addr string) *ConfigBuilder {
	cb.config.Server.Addr = addr
	return cb
}

// WithIdempotency sets the webhook dedupe window and where reservations live.
// A zero window turns deduplication off.
func (cb *ConfigBuilder) WithIdempotency(window time.Duration, backend IdempotencyBackend, redisURL string) *ConfigBuilder {
	cb.config.Dispatcher.IdempotencyWindow = window
	cb.config.Dispatcher.IdempotencyBackend = backend
	cb.config.Dispatcher.RedisURL = redisURL
	return cb
}

func (cb *ConfigBuilder) WithWaitForCompletion(wait bool) *ConfigBuilder {
	cb.config.Dispatcher.WaitForCompletion = wait
	return cb
}

func (cb *ConfigBuilder) WithConditionalPolicy(policy ConditionalPolicy) *ConfigBuilder {
	cb.config.Engine.ConditionalPolicy = policy
	return cb
}

func (cb *ConfigBuilder) WithRateLimit(requestsPerSecond float64, burst int) *ConfigBuilder {
	cb.config.RateLimiter.Enabled = requestsPerSecond > 0
	cb.config.RateLimiter.RequestsPerSecond = requestsPerSecond
	cb.config.RateLimiter.Burst = burst
	return cb
}

func (cb *ConfigBuilder) WithTracing(serviceName string) *ConfigBuilder {
	cb.config.Tracing.Enabled = true
	if serviceName != "" {
		cb.config.Tracing.ServiceName = serviceName
	}
	return cb
}

// WithEnv exposes vars to request templates as env.NAME. Later calls add to
// earlier ones.
func (cb *ConfigBuilder) WithEnv(vars map[string]string) *ConfigBuilder {
	if cb.config.Env == nil {
		cb.config.Env = make(map[string]string, len(vars))
	}
	for k, v := range vars {
		cb.config.Env[k] = v
	}
	return cb
}

// Build returns the configuration. A missing logger becomes one that
// discards output.
func (cb *ConfigBuilder) Build() *Config {
	if cb.config.Logger == nil {
		cb.config.Logger = domain.NewConfig(cb.config.DataDir, nil).Logger
	}
	return cb.config
}
