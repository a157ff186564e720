package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/regiflow/internal/adapters/circuit_breaker"
	"github.com/eleven-am/regiflow/internal/adapters/dispatcher"
	"github.com/eleven-am/regiflow/internal/adapters/engine"
	"github.com/eleven-am/regiflow/internal/adapters/events"
	"github.com/eleven-am/regiflow/internal/adapters/executors"
	"github.com/eleven-am/regiflow/internal/adapters/httpapi"
	"github.com/eleven-am/regiflow/internal/adapters/idempotency"
	"github.com/eleven-am/regiflow/internal/adapters/rate_limiter"
	"github.com/eleven-am/regiflow/internal/adapters/repository"
	"github.com/eleven-am/regiflow/internal/adapters/storage"
	"github.com/eleven-am/regiflow/internal/adapters/tracing"
	"github.com/eleven-am/regiflow/internal/adapters/validator"
	"github.com/eleven-am/regiflow/internal/definitions"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	tracerName     = "github.com/eleven-am/regiflow"
	redisDialLimit = 5 * time.Second
	rateKeyExpiry  = 10 * time.Minute

	interruptedReason = "interrupted by restart"
)

// Manager owns every component of a regiflow process and their lifecycle.
type Manager struct {
	config *domain.Config
	logger *slog.Logger

	storage         ports.StoragePort
	idempotency     ports.IdempotencyStore
	idempotencyStop func() error
	breakers        *circuit_breaker.Provider
	limiter         *rate_limiter.Provider
	registry        *executors.Registry
	validator       *validator.Cache
	workflows       *repository.WorkflowRepository
	executions      *repository.ExecutionStore
	events          *events.Manager
	tracing         *tracing.Provider
	engine          *engine.Engine
	dispatcher      *dispatcher.Dispatcher
	scheduler       *dispatcher.Scheduler
	server          *httpapi.Server

	mu      sync.Mutex
	started bool
	stopped bool
}

type options struct {
	clock      ports.Clock
	newID      func() string
	httpClient *http.Client
	processors []sdktrace.SpanProcessor
}

type Option func(*options)

func WithClock(clock ports.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithIDSource(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithHTTPClient replaces the client the http_request step uses.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithSpanProcessor attaches a span processor when tracing is enabled.
func WithSpanProcessor(processor sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, processor) }
}

func New(dataDir string, logger *slog.Logger, opts ...Option) (*Manager, error) {
	return NewWithConfig(domain.NewConfig(dataDir, logger), opts...)
}

// NewWithConfig validates config and builds every component. Nothing runs
// until Start.
func NewWithConfig(config *domain.Config, opts ...Option) (*Manager, error) {
	if config == nil {
		return nil, domain.NewConfigError("config", domain.ErrInvalidInput)
	}
	if err := config.Validate(); err != nil {
		if config.Logger != nil {
			config.Logger.Error("invalid configuration", "error", err)
		}
		return nil, err
	}

	o := &options{clock: ports.SystemClock{}}
	for _, opt := range opts {
		opt(o)
	}

	logger := config.Logger.With("component", "regiflow")
	m := &Manager{config: config, logger: logger}

	appStorage, err := openStorage(config, o.clock, logger)
	if err != nil {
		return nil, err
	}
	m.storage = appStorage

	if err := m.buildIdempotency(o.clock); err != nil {
		_ = m.storage.Close()
		return nil, err
	}

	if config.HTTP.CircuitBreaker.Enabled {
		cb := config.HTTP.CircuitBreaker
		m.breakers = circuit_breaker.NewProvider(ports.CircuitBreakerConfig{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			MaxRequests:      cb.MaxRequests,
			Interval:         cb.Interval,
			IsFailure:        executors.BreakerFailure,
			OnStateChange: func(name string, from, to ports.CircuitBreakerState) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
			Clock: o.clock,
		}, logger)
	}

	if config.RateLimiter.Enabled {
		m.limiter = rate_limiter.NewProvider(ports.RateLimiterConfig{
			RequestsPerSecond: config.RateLimiter.RequestsPerSecond,
			BurstSize:         config.RateLimiter.Burst,
			CleanupInterval:   time.Minute,
			KeyExpiry:         rateKeyExpiry,
			Clock:             o.clock,
		}, logger)
	}

	deps := executors.Dependencies{
		HTTPClient:        o.httpClient,
		HTTP:              config.HTTP,
		Env:               config.Env,
		ConditionalPolicy: config.Engine.ConditionalPolicy,
		Clock:             o.clock,
		IDSource:          o.newID,
		Logger:            logger,
	}
	if m.breakers != nil {
		deps.Breakers = m.breakers
	}
	m.registry = executors.NewStandardRegistry(deps)
	m.validator = validator.NewCache(validator.New(m.registry, logger))

	m.workflows = repository.NewWorkflowRepository(m.storage, m.validator, o.clock, logger)
	m.executions = repository.NewExecutionStore(m.storage, o.clock, logger)
	m.events = events.NewManager(logger)

	var tracingOpts []tracing.Option
	for _, processor := range o.processors {
		tracingOpts = append(tracingOpts, tracing.WithSpanProcessor(processor))
	}
	m.tracing = tracing.NewProvider(config.Tracing, logger, tracingOpts...)

	engineOpts := []engine.Option{
		engine.WithEventPublisher(m.events),
		engine.WithTracer(m.tracing.Tracer(tracerName)),
		engine.WithClock(o.clock),
	}
	if o.newID != nil {
		engineOpts = append(engineOpts, engine.WithIDSource(o.newID))
	}
	m.engine = engine.NewEngine(config.Engine, config.Retry, m.registry, m.executions, logger, engineOpts...)

	var dispatchOpts []dispatcher.Option
	if o.newID != nil {
		dispatchOpts = append(dispatchOpts, dispatcher.WithIDSource(o.newID))
	}
	m.dispatcher = dispatcher.New(config.Dispatcher, m.workflows, m.engine, m.executions, m.idempotency, logger, dispatchOpts...)
	m.scheduler = dispatcher.NewScheduler(config.Dispatcher, m.workflows, m.engine, logger,
		dispatcher.WithSchedulerClock(o.clock))
	m.workflows.OnActivationChange(m.scheduler.Apply)

	apiDeps := httpapi.Dependencies{
		Workflows:  m.workflows,
		Executions: m.executions,
		Dispatcher: m.dispatcher,
		Events:     m.events,
		Engine:     m.engine,
		Schedules:  m.scheduler,
		Logger:     logger,
	}
	if m.limiter != nil {
		apiDeps.Limiter = m.limiter
	}
	m.server = httpapi.NewServer(config.Server, apiDeps)

	logger.Info("regiflow initialized",
		"storage", config.Storage.Backend,
		"idempotency", config.Dispatcher.IdempotencyBackend,
		"circuit_breaker", m.breakers != nil,
		"rate_limiter", m.limiter != nil,
		"tracing", m.tracing.Enabled())
	return m, nil
}

func openStorage(config *domain.Config, clock ports.Clock, logger *slog.Logger) (ports.StoragePort, error) {
	switch config.Storage.Backend {
	case domain.StorageMemory:
		return storage.NewMemoryStorage(clock), nil
	default:
		appStorage, err := storage.OpenAppStorage(config.DataDir, config.Storage.InMemory, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return appStorage, nil
	}
}

func (m *Manager) buildIdempotency(clock ports.Clock) error {
	if m.config.Dispatcher.IdempotencyWindow <= 0 {
		m.logger.Info("webhook deduplication disabled")
		return nil
	}

	switch m.config.Dispatcher.IdempotencyBackend {
	case domain.IdempotencyMemory:
		m.idempotency = storage.NewIdempotencyLedger(storage.NewMemoryStorage(clock), clock, m.logger)
	case domain.IdempotencyRedis:
		ctx, cancel := context.WithTimeout(context.Background(), redisDialLimit)
		defer cancel()
		store, err := idempotency.NewRedisStore(ctx, m.config.Dispatcher.RedisURL, m.logger)
		if err != nil {
			return err
		}
		m.idempotency = store
		m.idempotencyStop = store.Close
	default:
		m.idempotency = storage.NewIdempotencyLedger(m.storage, clock, m.logger)
	}
	return nil
}

// Start fails executions a previous process left running, then starts event
// delivery and registers the schedules of every active workflow. It does not
// serve HTTP; see Serve.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return domain.ErrStorageClosed
	}
	if m.started {
		return domain.ErrAlreadyStarted
	}

	if _, err := m.executions.FailInterrupted(ctx, interruptedReason); err != nil {
		return fmt.Errorf("failed to recover interrupted executions: %w", err)
	}
	if err := m.events.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event manager: %w", err)
	}
	if err := m.scheduler.Start(ctx); err != nil {
		_ = m.events.Stop()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	m.started = true
	m.logger.Info("regiflow started")
	return nil
}

// Serve runs the HTTP API until ctx is cancelled.
func (m *Manager) Serve(ctx context.Context) error {
	return m.server.Start(ctx)
}

// Stop halts the scheduler, cancels running executions and releases storage.
// It is safe to call more than once.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true

	var errs []error
	if m.started {
		if err := m.scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if err := m.engine.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if m.started {
		if err := m.events.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("event manager: %w", err))
		}
	}
	if m.limiter != nil {
		m.limiter.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), redisDialLimit)
	defer cancel()
	if err := m.tracing.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	if m.idempotencyStop != nil {
		if err := m.idempotencyStop(); err != nil {
			errs = append(errs, fmt.Errorf("idempotency store: %w", err))
		}
	}
	if err := m.storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	m.started = false
	m.logger.Info("regiflow stopped")
	return errors.Join(errs...)
}

// Seed installs the workflows each seeder provides.
func (m *Manager) Seed(ctx context.Context, seeders ...ports.Seeder) (*definitions.SeedReport, error) {
	return definitions.Install(ctx, m.workflows, m.logger, seeders...)
}

func (m *Manager) Handler() http.Handler { return m.server.Handler() }

func (m *Manager) Workflows() ports.WorkflowRepository { return m.workflows }

func (m *Manager) Executions() ports.ExecutionStore { return m.executions }

func (m *Manager) Dispatcher() ports.Dispatcher { return m.dispatcher }

func (m *Manager) Events() ports.EventBus { return m.events }

func (m *Manager) Engine() ports.ExecutionEngine { return m.engine }

func (m *Manager) Validator() ports.Validator { return m.validator }

func (m *Manager) Config() *domain.Config { return m.config }

func (m *Manager) Schedules() []dispatcher.ScheduleStatus {
	return m.scheduler.Status()
}

func (m *Manager) Metrics() domain.ExecutionMetrics {
	return m.engine.Metrics()
}

func (m *Manager) TracingMetrics() tracing.TracingMetrics {
	return m.tracing.GetMetrics()
}

// OnEvent registers handler for events whose type matches pattern, e.g.
// "execution.*". It returns an id for RemoveHandler.
func (m *Manager) OnEvent(pattern string, handler func(domain.ExecutionEvent)) string {
	return m.events.OnEvent(pattern, handler)
}

func (m *Manager) RemoveHandler(id string) {
	m.events.RemoveHandler(id)
}
