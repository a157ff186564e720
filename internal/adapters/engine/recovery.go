package engine

import (
	"context"
	"runtime/debug"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

// executeWithRecovery turns an executor panic into an InvariantError so one
// bad step cannot take the process down.
func (r *run) executeWithRecovery(ctx context.Context, executor ports.StepExecutor, node *domain.Node, input []domain.Item) (outcome ports.StepOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.engine.metrics.IncrementStepPanics()
			r.logger.Error("step executor panicked",
				"node_id", node.ID,
				"node_type", node.Type,
				"panic_value", p,
				"stack_trace", string(debug.Stack()),
				"operator_attention", true)
			outcome = ports.StepOutcome{}
			err = newInvariantError(r.exec.ID, "step %s panicked: %v", node.ID, p)
		}
	}()

	return executor.Execute(ctx, node, input)
}
