package ports

import (
	"github.com/eleven-am/regiflow/internal/domain"
)

type EventPublisher interface {
	Publish(event domain.ExecutionEvent)
}

// EventBus fans execution events out to subscribers. An empty executionID
// subscribes to every execution.
type EventBus interface {
	EventPublisher
	Subscribe(executionID string) (<-chan domain.ExecutionEvent, func())
}
