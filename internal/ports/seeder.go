package ports

import "github.com/eleven-am/regiflow/internal/domain"

// Seeder supplies workflow definitions to install at startup or on demand.
type Seeder interface {
	Workflows() ([]*domain.WorkflowDefinition, error)
	Name() string
}
