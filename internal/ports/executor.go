package ports

import (
	"context"

	"github.com/eleven-am/regiflow/internal/domain"
)

// StepOutcome is what a step executor hands back to the engine. Branch is set
// only by conditional executors.
type StepOutcome struct {
	Output   []domain.Item
	Branch   string
	Degraded bool
}

type StepExecutor interface {
	Type() domain.NodeType
	Execute(ctx context.Context, node *domain.Node, input []domain.Item) (StepOutcome, error)
}

// ParameterChecker is implemented by executors that can reject bad node
// parameters at activation time.
type ParameterChecker interface {
	CheckParameters(node *domain.Node) error
}

type StepExecutorRegistry interface {
	Get(nodeType domain.NodeType) (StepExecutor, bool)
	Register(executor StepExecutor)
	CheckParameters(node *domain.Node) error
}
