// Package dispatcher turns webhooks, schedules and manual requests into
// executions.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"github.com/eleven-am/regiflow/internal/xjson"
	"github.com/google/uuid"
)

// WorkflowSource is the slice of the workflow repository the dispatcher reads.
type WorkflowSource interface {
	Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	FindByWebhookPath(ctx context.Context, path string) (*domain.WorkflowDefinition, error)
	GetValidatedWorkflow(ctx context.Context, id string, version int64) (*domain.WorkflowDefinition, error)
}

type Dispatcher struct {
	config      domain.DispatcherConfig
	workflows   WorkflowSource
	engine      ports.ExecutionEngine
	executions  ports.ExecutionStore
	idempotency ports.IdempotencyStore
	newID       func() string
	logger      *slog.Logger
}

type Option func(*Dispatcher)

func WithIDSource(newID func() string) Option {
	return func(d *Dispatcher) {
		if newID != nil {
			d.newID = newID
		}
	}
}

// New builds a Dispatcher. A nil idempotency store or a zero window turns
// webhook deduplication off.
func New(config domain.DispatcherConfig, workflows WorkflowSource, engine ports.ExecutionEngine, executions ports.ExecutionStore, idempotency ports.IdempotencyStore, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		config:      config,
		workflows:   workflows,
		engine:      engine,
		executions:  executions,
		idempotency: idempotency,
		newID:       func() string { return uuid.New().String() },
		logger:      logger.With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchWebhook resolves the workflow owning path and starts it with body as
// the trigger payload. A delivery identical to one seen inside the
// idempotency window returns the original execution with Duplicate set.
func (d *Dispatcher) DispatchWebhook(ctx context.Context, path string, body []byte) (*ports.DispatchResult, error) {
	def, err := d.workflows.FindByWebhookPath(ctx, path)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewDispatchError(domain.DispatchUnknownPath, path, "", err)
		}
		return nil, fmt.Errorf("resolve webhook path %q: %w", path, err)
	}
	if !def.Active {
		return nil, domain.NewDispatchError(domain.DispatchInactiveWorkflow, path, def.ID, nil)
	}

	payload, err := xjson.DecodeObject(body)
	if err != nil {
		return nil, domain.NewDispatchError(domain.DispatchMalformedPayload, path, def.ID, err)
	}

	validated, err := d.workflows.GetValidatedWorkflow(ctx, def.ID, def.Version)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", def.ID, err)
	}
	def = validated

	executionID := d.newID()
	key := ""
	if d.deduplicating() {
		key, err = xjson.Hash(path, payload)
		if err != nil {
			return nil, domain.NewDispatchError(domain.DispatchMalformedPayload, path, def.ID, err)
		}
		existing, reserved, err := d.idempotency.Reserve(ctx, key, executionID, d.config.IdempotencyWindow)
		if err != nil {
			return nil, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if !reserved {
			d.logger.Info("duplicate webhook delivery",
				"path", path,
				"workflow_id", def.ID,
				"execution_id", existing)
			return d.duplicate(ctx, def.ID, existing)
		}
	}

	result, err := d.start(ctx, def, ports.Trigger{
		Kind:        domain.TriggerWebhook,
		Payload:     domain.Item(payload),
		ExecutionID: executionID,
	})
	if err != nil && key != "" {
		if releaseErr := d.idempotency.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			d.logger.Warn("failed to release idempotency key", "path", path, "error", releaseErr)
		}
	}
	return result, err
}

// DispatchManual starts the current version of a workflow whether or not it
// is active. The version still has to pass validation.
func (d *Dispatcher) DispatchManual(ctx context.Context, workflowID string, payload domain.Item) (*ports.DispatchResult, error) {
	def, err := d.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	validated, err := d.workflows.GetValidatedWorkflow(ctx, def.ID, def.Version)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	def = validated

	return d.start(ctx, def, ports.Trigger{
		Kind:        domain.TriggerManual,
		Payload:     payload,
		ExecutionID: d.newID(),
	})
}

func (d *Dispatcher) start(ctx context.Context, def *domain.WorkflowDefinition, trigger ports.Trigger) (*ports.DispatchResult, error) {
	exec, done, err := d.engine.Start(ctx, def, trigger)
	if err != nil {
		return nil, fmt.Errorf("start workflow %s: %w", def.ID, err)
	}

	d.logger.Debug("execution dispatched",
		"execution_id", exec.ID,
		"workflow_id", def.ID,
		"trigger_kind", trigger.Kind)

	if !d.config.WaitForCompletion {
		return resultFor(exec, false), nil
	}

	select {
	case final, ok := <-done:
		if ok && final != nil {
			return resultFor(final, false), nil
		}
		return resultFor(exec, false), nil
	case <-ctx.Done():
		return resultFor(exec, false), ctx.Err()
	}
}

func (d *Dispatcher) duplicate(ctx context.Context, workflowID, executionID string) (*ports.DispatchResult, error) {
	result := &ports.DispatchResult{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Status:      domain.ExecutionRunning,
		Duplicate:   true,
	}
	if d.executions == nil {
		return result, nil
	}

	exec, err := d.executions.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			result.Status = domain.ExecutionPending
			return result, nil
		}
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	result.Status = exec.Status
	result.Execution = exec
	return result, nil
}

func (d *Dispatcher) deduplicating() bool {
	return d.idempotency != nil && d.config.IdempotencyWindow > 0
}

func resultFor(exec *domain.Execution, duplicate bool) *ports.DispatchResult {
	return &ports.DispatchResult{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      exec.Status,
		Duplicate:   duplicate,
		Execution:   exec,
	}
}

// scheduledPayload is the trigger payload of a schedule tick.
func scheduledPayload(at time.Time, interval time.Duration) domain.Item {
	return domain.Item{
		"scheduled_at": at.UTC().Format(time.RFC3339),
		"interval":     interval.String(),
	}
}
