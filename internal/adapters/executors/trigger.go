package executors

import (
	"context"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

// TriggerExecutor passes the trigger payload through as the node's only
// output item.
type TriggerExecutor struct{}

func NewTriggerExecutor() *TriggerExecutor {
	return &TriggerExecutor{}
}

func (e *TriggerExecutor) Type() domain.NodeType {
	return domain.NodeTypeTrigger
}

func (e *TriggerExecutor) Execute(ctx context.Context, node *domain.Node, input []domain.Item) (ports.StepOutcome, error) {
	if err := ctx.Err(); err != nil {
		return ports.StepOutcome{}, err
	}
	payload := domain.Item{}
	if len(input) > 0 && input[0] != nil {
		payload = input[0].Clone()
	}
	return ports.StepOutcome{Output: []domain.Item{payload}}, nil
}

// CheckParameters accepts a webhook trigger (path), a schedule trigger
// (interval) or a bare manual trigger, never both path and interval.
func (e *TriggerExecutor) CheckParameters(node *domain.Node) error {
	path, hasPath := stringParam(node.Parameters, "path")
	_, hasInterval := stringParam(node.Parameters, "interval")
	if hasPath && hasInterval {
		return parameterError(node, "trigger declares both path and interval")
	}
	if hasPath && (path[0] == '/' || path[len(path)-1] == '/') {
		return parameterError(node, "webhook path %q must not start or end with /", path)
	}
	if hasInterval {
		interval, _, err := durationParam(node.Parameters, "interval")
		if err != nil {
			return parameterError(node, "%v", err)
		}
		if interval < time.Second {
			return parameterError(node, "schedule interval %s is shorter than one second", interval)
		}
	}
	if policy, ok := stringParam(node.Parameters, "policy"); ok {
		switch domain.SchedulePolicy(policy) {
		case domain.ScheduleSkipIfRunning, domain.ScheduleAllowOverlap:
		default:
			return parameterError(node, "unknown schedule policy %q", policy)
		}
	}
	return nil
}
