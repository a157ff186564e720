package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// runStep executes one node, retrying transient and remote failures with
// capped exponential backoff. A step that eventually succeeds yields a single
// ok result carrying the attempt count.
func (r *run) runStep(ctx context.Context, node *domain.Node, input []domain.Item) stepRun {
	e := r.engine
	executor, _ := e.registry.Get(node.Type)

	result := domain.StepResult{
		NodeID:    node.ID,
		Input:     domain.CloneItems(input),
		Output:    []domain.Item{},
		StartedAt: e.now(),
	}

	e.publish(domain.ExecutionEvent{
		Type:        domain.EventStepStarted,
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		NodeID:      node.ID,
	})

	var (
		outcome ports.StepOutcome
		err     error
	)
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		result.Attempts = attempt
		outcome, err = r.attempt(ctx, executor, node, input, attempt)
		if err == nil {
			break
		}

		logAttrs := append([]any{"node_id", node.ID, "attempt", attempt}, errorLogAttrs(err)...)
		if !domain.IsRetryable(err) || attempt == e.retry.MaxAttempts || ctx.Err() != nil {
			r.logger.Warn("step failed", logAttrs...)
			break
		}

		delay := e.backoff.Delay(attempt)
		r.logger.Info("retrying step", append(logAttrs, "delay", delay)...)
		e.publish(domain.ExecutionEvent{
			Type:        domain.EventStepRetrying,
			ExecutionID: r.exec.ID,
			WorkflowID:  r.exec.WorkflowID,
			NodeID:      node.ID,
			Attempt:     attempt,
			Error:       err.Error(),
		})
		if sleepErr := sleepContext(ctx, delay); sleepErr != nil {
			break
		}
	}

	result.FinishedAt = e.now()
	if err != nil {
		result.Status = domain.StepFailed
		result.Error = domain.NewStepError(err)
		return stepRun{result: result, err: fmt.Errorf("step %s: %w", node.ID, err)}
	}

	result.Status = domain.StepOK
	result.Branch = outcome.Branch
	if outcome.Output != nil {
		result.Output = outcome.Output
	}
	return stepRun{result: result, degraded: outcome.Degraded}
}

func (r *run) attempt(ctx context.Context, executor ports.StepExecutor, node *domain.Node, input []domain.Item, attempt int) (ports.StepOutcome, error) {
	e := r.engine
	stepCtx, cancel := context.WithTimeout(ctx, e.config.StepTimeout)
	defer cancel()

	stepCtx = domain.WithExecutionContext(stepCtx, &domain.ExecutionContext{
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		Version:     r.exec.WorkflowVersion,
		NodeID:      node.ID,
		Attempt:     attempt,
	})

	stepCtx, span := e.tracer.Start(stepCtx, "regiflow.step",
		trace.WithAttributes(
			attribute.String("regiflow.execution.id", r.exec.ID),
			attribute.String("regiflow.node.id", node.ID),
			attribute.String("regiflow.node.type", string(node.Type)),
			attribute.Int("regiflow.step.attempt", attempt),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	outcome, err := r.executeWithRecovery(stepCtx, executor, node, domain.CloneItems(input))
	if err != nil && stepCtx.Err() != nil && ctx.Err() == nil && !domain.IsRetryable(err) && !domain.IsValidationError(err) {
		// The executor gave up on the step deadline without classifying it.
		e.metrics.IncrementStepsTimedOut()
		err = domain.NewTransientError("step "+node.ID, fmt.Errorf("%w after %s: %v", domain.ErrTimeout, e.config.StepTimeout, err))
	} else if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		e.metrics.IncrementStepsTimedOut()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		if outcome.Branch != "" {
			span.SetAttributes(attribute.String("regiflow.step.branch", outcome.Branch))
		}
	}
	return outcome, err
}
