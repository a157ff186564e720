// Package engine walks a validated workflow snapshot in waves and records one
// StepResult per node.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/eleven-am/regiflow/engine"

type Engine struct {
	config   domain.EngineConfig
	retry    domain.RetryConfig
	backoff  backoff
	registry ports.StepExecutorRegistry
	store    ports.ExecutionStore
	events   ports.EventPublisher
	tracer   trace.Tracer
	clock    ports.Clock
	newID    func() string
	logger   *slog.Logger
	metrics  *domain.ExecutionMetrics

	slots chan struct{}

	mu      sync.Mutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Engine)

func WithEventPublisher(events ports.EventPublisher) Option {
	return func(e *Engine) {
		if events != nil {
			e.events = events
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

func WithClock(clock ports.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithIDSource(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

func NewEngine(config domain.EngineConfig, retry domain.RetryConfig, registry ports.StepExecutorRegistry, store ports.ExecutionStore, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := domain.DefaultEngineConfig()
	if config.MaxConcurrentExecutions <= 0 {
		config.MaxConcurrentExecutions = defaults.MaxConcurrentExecutions
	}
	if config.MaxParallelSteps <= 0 {
		config.MaxParallelSteps = defaults.MaxParallelSteps
	}
	if config.StepTimeout <= 0 {
		config.StepTimeout = defaults.StepTimeout
	}
	if config.ExecutionDeadline <= 0 {
		config.ExecutionDeadline = defaults.ExecutionDeadline
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:   config,
		retry:    retry,
		backoff:  newBackoff(retry),
		registry: registry,
		store:    store,
		events:   noopPublisher{},
		tracer:   otel.Tracer(tracerName),
		clock:    ports.SystemClock{},
		newID:    func() string { return uuid.New().String() },
		logger:   logger.With("component", "engine"),
		metrics:  domain.NewExecutionMetrics(),
		slots:    make(chan struct{}, config.MaxConcurrentExecutions),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start waits for a free execution slot, persists a running Execution and
// walks it in the background. The run is bound to the engine's lifetime, not
// to ctx, so an asynchronous webhook response does not cancel it.
func (e *Engine) Start(ctx context.Context, def *domain.WorkflowDefinition, trigger ports.Trigger) (*domain.Execution, <-chan *domain.Execution, error) {
	if def == nil {
		return nil, nil, fmt.Errorf("start execution: %w", domain.ErrInvalidInput)
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, nil, fmt.Errorf("engine stopped: %w", domain.ErrNotStarted)
	}
	e.wg.Add(1)
	e.mu.Unlock()

	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		e.wg.Done()
		return nil, nil, ctx.Err()
	case <-e.ctx.Done():
		e.wg.Done()
		return nil, nil, fmt.Errorf("engine stopped: %w", domain.ErrNotStarted)
	}

	release := func() {
		<-e.slots
		e.wg.Done()
	}

	id := trigger.ExecutionID
	if id == "" {
		id = e.newID()
	}
	exec := &domain.Execution{
		ID:              id,
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		TriggerKind:     trigger.Kind,
		TriggerPayload:  trigger.Payload.Clone(),
		Status:          domain.ExecutionRunning,
		StartedAt:       e.clock.Now().UTC(),
		Steps:           []domain.StepResult{},
	}
	if exec.TriggerPayload == nil {
		exec.TriggerPayload = domain.Item{}
	}

	if err := e.store.Create(ctx, exec); err != nil {
		release()
		return nil, nil, fmt.Errorf("create execution for workflow %s: %w", def.ID, err)
	}

	e.metrics.ExecutionStarted()
	e.publishExecution(domain.EventExecutionStarted, exec)
	e.logger.Info("execution started",
		"execution_id", exec.ID,
		"workflow_id", def.ID,
		"workflow_version", def.Version,
		"trigger_kind", trigger.Kind)

	snapshot := exec.Clone()
	done := make(chan *domain.Execution, 1)
	go func() {
		defer release()
		done <- e.execute(def, exec)
		close(done)
	}()

	return snapshot, done, nil
}

// Run executes synchronously. If ctx ends first the execution keeps running
// and ctx's error is returned.
func (e *Engine) Run(ctx context.Context, def *domain.WorkflowDefinition, trigger ports.Trigger) (*domain.Execution, error) {
	_, done, err := e.Start(ctx, def, trigger)
	if err != nil {
		return nil, err
	}
	select {
	case final := <-done:
		return final, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop cancels in-flight executions and waits for them to be recorded as
// failed.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.logger.Debug("stopping engine")
	e.cancel()
	e.wg.Wait()
	e.logger.Debug("engine stopped")
	return nil
}

func (e *Engine) Metrics() domain.ExecutionMetrics {
	return e.metrics.GetSnapshot()
}

func (e *Engine) InFlight() int {
	return len(e.slots)
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}
