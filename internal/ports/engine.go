package ports

import (
	"context"

	"github.com/eleven-am/regiflow/internal/domain"
)

// Trigger starts one execution. ExecutionID is optional; callers that must
// know the id before the record exists (idempotent dispatch) set it.
type Trigger struct {
	Kind        domain.TriggerKind
	Payload     domain.Item
	ExecutionID string
}

// ExecutionEngine walks one validated workflow snapshot per execution.
type ExecutionEngine interface {
	// Start begins an execution and returns once its record exists. The
	// returned channel yields the finished execution.
	Start(ctx context.Context, def *domain.WorkflowDefinition, trigger Trigger) (*domain.Execution, <-chan *domain.Execution, error)
	// Run executes synchronously and returns the finished execution.
	Run(ctx context.Context, def *domain.WorkflowDefinition, trigger Trigger) (*domain.Execution, error)
	Stop() error
}
