package domain

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

func DefaultConfig() *Config {
	return &Config{
		DataDir:     "./data",
		Engine:      DefaultEngineConfig(),
		Retry:       DefaultRetryConfig(),
		Dispatcher:  DefaultDispatcherConfig(),
		HTTP:        DefaultHTTPConfig(),
		RateLimiter: DefaultRateLimiterConfig(),
		Server:      DefaultServerConfig(),
		Storage:     DefaultStorageConfig(),
		Tracing:     DefaultTracingConfig(),
		Env:         make(map[string]string),
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrentExecutions: 50,
		MaxParallelSteps:        8,
		StepTimeout:             30 * time.Second,
		ExecutionDeadline:       5 * time.Minute,
		ConditionalPolicy:       ConditionalFallback,
	}
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		IdempotencyWindow:     5 * time.Minute,
		IdempotencyBackend:    IdempotencyStorage,
		WaitForCompletion:     false,
		DefaultSchedulePolicy: ScheduleSkipIfRunning,
		DefaultMaxConcurrent:  1,
	}
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		DefaultTimeout:   15 * time.Second,
		MaxResponseBytes: 1 << 20,
		UserAgent:        "regiflow/1.0",
		CircuitBreaker:   DefaultCircuitBreakerConfig(),
	}
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		MaxRequests:      1,
		Interval:         30 * time.Second,
	}
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend: StorageBadger,
	}
}

func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		ServiceName: "regiflow",
	}
}

func NewConfig(dataDir string, logger *slog.Logger) *Config {
	config := DefaultConfig()
	config.DataDir = dataDir
	config.Logger = logger

	if logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return config
}

func (c *Config) WithEngineSettings(maxExecutions int, stepTimeout, deadline time.Duration) *Config {
	c.Engine.MaxConcurrentExecutions = maxExecutions
	c.Engine.StepTimeout = stepTimeout
	c.Engine.ExecutionDeadline = deadline
	return c
}

func (c *Config) WithRetry(maxAttempts int, initial, max time.Duration) *Config {
	c.Retry = RetryConfig{MaxAttempts: maxAttempts, InitialBackoff: initial, MaxBackoff: max}
	return c
}

func (c *Config) WithInMemoryStorage() *Config {
	c.Storage.Backend = StorageMemory
	return c
}

func (c *Config) Validate() error {
	if c.Storage.Backend == StorageBadger && !c.Storage.InMemory && c.DataDir == "" {
		return NewConfigError("data_dir", ErrInvalidInput)
	}
	if c.Logger == nil {
		return NewConfigError("logger", ErrInvalidInput)
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Dispatcher.Validate(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case StorageBadger, StorageMemory:
	default:
		return NewConfigError("storage.backend", fmt.Errorf("unknown backend %q", c.Storage.Backend))
	}

	if c.RateLimiter.Enabled && (c.RateLimiter.RequestsPerSecond <= 0 || c.RateLimiter.Burst <= 0) {
		return NewConfigError("rate_limiter", ErrInvalidInput)
	}
	if c.Server.Addr == "" {
		return NewConfigError("server.addr", ErrInvalidInput)
	}
	return nil
}

func (c EngineConfig) Validate() error {
	if c.MaxConcurrentExecutions <= 0 {
		return NewConfigError("engine.max_concurrent_executions", ErrInvalidInput)
	}
	if c.MaxParallelSteps <= 0 {
		return NewConfigError("engine.max_parallel_steps", ErrInvalidInput)
	}
	if c.StepTimeout <= 0 {
		return NewConfigError("engine.step_timeout", ErrInvalidInput)
	}
	if c.ExecutionDeadline <= 0 {
		return NewConfigError("engine.execution_deadline", ErrInvalidInput)
	}
	switch c.ConditionalPolicy {
	case ConditionalFallback, ConditionalStrict:
	default:
		return NewConfigError("engine.conditional_policy", fmt.Errorf("unknown policy %q", c.ConditionalPolicy))
	}
	return nil
}

func (c RetryConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return NewConfigError("retry.max_attempts", ErrInvalidInput)
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < c.InitialBackoff {
		return NewConfigError("retry.backoff", ErrInvalidInput)
	}
	return nil
}

func (c DispatcherConfig) Validate() error {
	if c.IdempotencyWindow < 0 {
		return NewConfigError("dispatcher.idempotency_window", ErrInvalidInput)
	}
	switch c.IdempotencyBackend {
	case IdempotencyMemory, IdempotencyStorage:
	case IdempotencyRedis:
		if c.RedisURL == "" {
			return NewConfigError("dispatcher.redis_url", ErrInvalidInput)
		}
	default:
		return NewConfigError("dispatcher.idempotency_backend", fmt.Errorf("unknown backend %q", c.IdempotencyBackend))
	}
	switch c.DefaultSchedulePolicy {
	case ScheduleSkipIfRunning:
	case ScheduleAllowOverlap:
		if c.DefaultMaxConcurrent <= 0 {
			return NewConfigError("dispatcher.default_max_concurrent", ErrInvalidInput)
		}
	default:
		return NewConfigError("dispatcher.default_schedule_policy", fmt.Errorf("unknown policy %q", c.DefaultSchedulePolicy))
	}
	return nil
}

type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{
		Field: field,
		Err:   err,
	}
}
