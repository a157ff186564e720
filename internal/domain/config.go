package domain

import (
	"log/slog"
	"time"
)

type Config struct {
	DataDir string       `json:"data_dir" yaml:"data_dir"`
	Logger  *slog.Logger `json:"-" yaml:"-"`

	Engine      EngineConfig      `json:"engine" yaml:"engine"`
	Retry       RetryConfig       `json:"retry" yaml:"retry"`
	Dispatcher  DispatcherConfig  `json:"dispatcher" yaml:"dispatcher"`
	HTTP        HTTPConfig        `json:"http" yaml:"http"`
	RateLimiter RateLimiterConfig `json:"rate_limiter" yaml:"rate_limiter"`
	Server      ServerConfig      `json:"server" yaml:"server"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Tracing     TracingConfig     `json:"tracing" yaml:"tracing"`

	// Env is exposed to request templates as env.NAME.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

type ConditionalPolicy string

const (
	// ConditionalFallback takes the last declared branch on an unevaluable
	// predicate and marks the step degraded.
	ConditionalFallback ConditionalPolicy = "fallback"
	// ConditionalStrict fails the step with a ValidationError instead.
	ConditionalStrict ConditionalPolicy = "strict"
)

type EngineConfig struct {
	MaxConcurrentExecutions int               `json:"max_concurrent_executions" yaml:"max_concurrent_executions"`
	MaxParallelSteps        int               `json:"max_parallel_steps" yaml:"max_parallel_steps"`
	StepTimeout             time.Duration     `json:"step_timeout" yaml:"step_timeout"`
	ExecutionDeadline       time.Duration     `json:"execution_deadline" yaml:"execution_deadline"`
	ConditionalPolicy       ConditionalPolicy `json:"conditional_policy" yaml:"conditional_policy"`
}

type RetryConfig struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

type SchedulePolicy string

const (
	ScheduleSkipIfRunning SchedulePolicy = "skip_if_running"
	ScheduleAllowOverlap  SchedulePolicy = "allow_overlap"
)

type IdempotencyBackend string

const (
	IdempotencyMemory  IdempotencyBackend = "memory"
	IdempotencyStorage IdempotencyBackend = "storage"
	IdempotencyRedis   IdempotencyBackend = "redis"
)

type DispatcherConfig struct {
	IdempotencyWindow     time.Duration      `json:"idempotency_window" yaml:"idempotency_window"`
	IdempotencyBackend    IdempotencyBackend `json:"idempotency_backend" yaml:"idempotency_backend"`
	RedisURL              string             `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	WaitForCompletion     bool               `json:"wait_for_completion" yaml:"wait_for_completion"`
	DefaultSchedulePolicy SchedulePolicy     `json:"default_schedule_policy" yaml:"default_schedule_policy"`
	DefaultMaxConcurrent  int                `json:"default_max_concurrent" yaml:"default_max_concurrent"`
}

type HTTPConfig struct {
	DefaultTimeout   time.Duration        `json:"default_timeout" yaml:"default_timeout"`
	MaxResponseBytes int64                `json:"max_response_bytes" yaml:"max_response_bytes"`
	UserAgent        string               `json:"user_agent" yaml:"user_agent"`
	CircuitBreaker   CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
	MaxRequests      int           `json:"max_requests" yaml:"max_requests"`
	Interval         time.Duration `json:"interval" yaml:"interval"`
}

type RateLimiterConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

type ServerConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

type StorageBackend string

const (
	StorageBadger StorageBackend = "badger"
	StorageMemory StorageBackend = "memory"
)

type StorageConfig struct {
	Backend  StorageBackend `json:"backend" yaml:"backend"`
	InMemory bool           `json:"in_memory" yaml:"in_memory"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"service_name" yaml:"service_name"`
}
