package ports

import (
	"context"

	"github.com/eleven-am/regiflow/internal/domain"
)

// WorkflowRepository owns workflow definitions. Every stored version stays
// readable so running executions keep their bound snapshot.
type WorkflowRepository interface {
	Create(ctx context.Context, def *domain.WorkflowDefinition) (*domain.WorkflowDefinition, error)
	Update(ctx context.Context, def *domain.WorkflowDefinition, expectedVersion int64) (*domain.WorkflowDefinition, error)
	Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	GetVersion(ctx context.Context, id string, version int64) (*domain.WorkflowDefinition, error)
	List(ctx context.Context) ([]*domain.WorkflowDefinition, error)
	SetActive(ctx context.Context, id string, active bool) (*domain.WorkflowDefinition, error)
	GetValidatedWorkflow(ctx context.Context, id string, version int64) (*domain.WorkflowDefinition, error)
}

// ExecutionStore is the append-only history of runs.
type ExecutionStore interface {
	Create(ctx context.Context, exec *domain.Execution) error
	AppendStep(ctx context.Context, executionID string, step domain.StepResult) error
	Finish(ctx context.Context, exec *domain.Execution) error
	Get(ctx context.Context, id string) (*domain.Execution, error)
	List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, error)
	CountRunning(ctx context.Context, workflowID string) (int, error)
}

// Validator checks graph invariants before a workflow may become active.
type Validator interface {
	Validate(def *domain.WorkflowDefinition) error
}
