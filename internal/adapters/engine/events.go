package engine

import (
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

type noopPublisher struct{}

func (noopPublisher) Publish(domain.ExecutionEvent) {}

func (e *Engine) publish(event domain.ExecutionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clock.Now().UTC()
	}
	e.events.Publish(event)
}

func (e *Engine) publishExecution(eventType domain.EventType, exec *domain.Execution) {
	event := domain.ExecutionEvent{
		Type:        eventType,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      string(exec.Status),
		Error:       exec.Error,
	}
	if eventType == domain.EventExecutionFinished {
		event.Execution = exec.Clone()
	}
	e.publish(event)
}

func (e *Engine) publishStep(exec *domain.Execution, step domain.StepResult) {
	event := domain.ExecutionEvent{
		Type:        domain.EventStepFinished,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		NodeID:      step.NodeID,
		Status:      string(step.Status),
		Attempt:     step.Attempts,
	}
	snapshot := step
	snapshot.Input = domain.CloneItems(step.Input)
	snapshot.Output = domain.CloneItems(step.Output)
	event.Step = &snapshot
	if step.Error != nil {
		event.Error = step.Error.Message
	}
	e.publish(event)
}

var _ ports.EventPublisher = noopPublisher{}
