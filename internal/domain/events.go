package domain

import (
	"time"
)

type EventType string

const (
	EventExecutionStarted  EventType = "execution.started"
	EventExecutionFinished EventType = "execution.finished"
	EventStepStarted       EventType = "step.started"
	EventStepRetrying      EventType = "step.retrying"
	EventStepFinished      EventType = "step.finished"
)

// ExecutionEvent is published on the event bus while an execution runs.
type ExecutionEvent struct {
	Type        EventType   `json:"type"`
	ExecutionID string      `json:"execution_id"`
	WorkflowID  string      `json:"workflow_id"`
	NodeID      string      `json:"node_id,omitempty"`
	Status      string      `json:"status,omitempty"`
	Attempt     int         `json:"attempt,omitempty"`
	Error       string      `json:"error,omitempty"`
	Step        *StepResult `json:"step,omitempty"`
	Execution   *Execution  `json:"execution,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

func (e ExecutionEvent) Terminal() bool {
	return e.Type == EventExecutionFinished
}
