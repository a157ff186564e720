package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// run is the state of one execution walk. Only the walking goroutine touches
// results; wave members write into their own slot of a per-wave slice.
type run struct {
	engine   *Engine
	def      *domain.WorkflowDefinition
	exec     *domain.Execution
	plan     *plan
	results  map[string]domain.StepResult
	degraded bool
	logger   *slog.Logger
}

type stepRun struct {
	result   domain.StepResult
	degraded bool
	err      error
}

func (e *Engine) execute(def *domain.WorkflowDefinition, exec *domain.Execution) *domain.Execution {
	started := time.Now()
	ctx, cancel := context.WithTimeout(e.ctx, e.config.ExecutionDeadline)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "regiflow.execution",
		trace.WithAttributes(
			attribute.String("regiflow.execution.id", exec.ID),
			attribute.String("regiflow.workflow.id", def.ID),
			attribute.Int64("regiflow.workflow.version", def.Version),
			attribute.String("regiflow.trigger.kind", string(exec.TriggerKind)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	r := &run{
		engine:  e,
		def:     def,
		exec:    exec,
		results: make(map[string]domain.StepResult, len(def.Nodes)),
		logger:  e.logger.With("execution_id", exec.ID, "workflow_id", def.ID),
	}

	runErr := r.walk(ctx)
	r.finish(runErr)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.String("regiflow.execution.status", string(exec.Status)),
		attribute.Bool("regiflow.execution.degraded", exec.Degraded),
	)

	e.metrics.ExecutionFinished(exec, time.Since(started))
	return exec.Clone()
}

func (r *run) walk(ctx context.Context) error {
	p, err := buildPlan(r.exec.ID, r.def)
	if err != nil {
		return err
	}
	r.plan = p

	for i := range r.def.Nodes {
		node := &r.def.Nodes[i]
		if _, ok := r.engine.registry.Get(node.Type); !ok {
			return newInvariantError(r.exec.ID, "no executor for node %s of type %q", node.ID, node.Type)
		}
	}

	for waveIdx, wave := range p.waves {
		if err := ctx.Err(); err != nil {
			return r.contextError(err)
		}

		runs := make([]stepRun, len(wave))
		g := new(errgroup.Group)
		g.SetLimit(r.engine.config.MaxParallelSteps)

		for i, node := range wave {
			input, taken := r.inputFor(node)
			if !taken {
				runs[i].result = r.skipped(node.ID)
				continue
			}
			g.Go(func() error {
				runs[i] = r.runStep(ctx, node, input)
				return nil
			})
		}
		_ = g.Wait()

		var firstErr error
		for i := range runs {
			if err := r.record(runs[i].result); err != nil {
				return err
			}
			if runs[i].degraded {
				r.degraded = true
			}
			if runs[i].err != nil && firstErr == nil {
				firstErr = runs[i].err
			}
		}

		r.logger.Debug("wave finished", "wave", waveIdx, "nodes", len(wave))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return r.contextError(ctxErr)
		}
		if firstErr != nil {
			return firstErr
		}
	}
	return nil
}

// inputFor concatenates, in edge declaration order, the outputs behind every
// taken incoming edge. The trigger's only input is the trigger payload.
func (r *run) inputFor(node *domain.Node) ([]domain.Item, bool) {
	if node.Type == domain.NodeTypeTrigger {
		return []domain.Item{r.exec.TriggerPayload.Clone()}, true
	}

	input := []domain.Item{}
	taken := false
	for _, edge := range r.plan.incoming[node.ID] {
		pred, ok := r.results[edge.From]
		if !ok || pred.Status != domain.StepOK {
			continue
		}
		if edge.Branch != nil && *edge.Branch != pred.Branch {
			continue
		}
		taken = true
		input = append(input, domain.CloneItems(pred.Output)...)
	}
	return input, taken
}

func (r *run) skipped(nodeID string) domain.StepResult {
	now := r.engine.now()
	return domain.StepResult{
		NodeID:     nodeID,
		Input:      []domain.Item{},
		Output:     []domain.Item{},
		Status:     domain.StepSkipped,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func (r *run) record(step domain.StepResult) error {
	if err := r.engine.store.AppendStep(context.WithoutCancel(r.engine.ctx), r.exec.ID, step); err != nil {
		return newInvariantError(r.exec.ID, "append step %s: %v", step.NodeID, err)
	}

	r.exec.Steps = append(r.exec.Steps, step)
	r.results[step.NodeID] = step
	r.engine.metrics.StepRecorded(step)
	r.engine.publishStep(r.exec, step)
	return nil
}

func (r *run) contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return deadlineError(err)
	}
	return domain.NewTransientError("engine stopped", err)
}

// finish records every node still without a result as skipped and stores the
// terminal execution.
func (r *run) finish(runErr error) {
	for i := range r.def.Nodes {
		nodeID := r.def.Nodes[i].ID
		if _, done := r.results[nodeID]; done {
			continue
		}
		if err := r.record(r.skipped(nodeID)); err != nil {
			r.logger.Error("failed to record skipped step", errorLogAttrs(err)...)
			break
		}
	}

	now := r.engine.now()
	r.exec.FinishedAt = &now
	r.exec.Degraded = r.degraded
	if runErr != nil {
		r.exec.Status = domain.ExecutionFailed
		r.exec.Error = runErr.Error()
	} else {
		r.exec.Status = domain.ExecutionSucceeded
	}

	if err := r.engine.store.Finish(context.WithoutCancel(r.engine.ctx), r.exec); err != nil {
		r.logger.Error("failed to store finished execution", errorLogAttrs(err)...)
	}

	switch {
	case runErr != nil && domain.IsInvariantError(runErr):
		r.logger.Error("execution failed on engine invariant", errorLogAttrs(runErr)...)
	case runErr != nil:
		r.logger.Warn("execution failed", errorLogAttrs(runErr)...)
	case r.exec.Degraded:
		r.logger.Warn("execution succeeded degraded", "degraded", true, "steps", len(r.exec.Steps))
	default:
		r.logger.Info("execution succeeded", "steps", len(r.exec.Steps))
	}

	r.engine.publishExecution(domain.EventExecutionFinished, r.exec)
}
