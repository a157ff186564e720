package domain

import (
	"time"
)

type TriggerKind string

const (
	TriggerWebhook  TriggerKind = "webhook"
	TriggerSchedule TriggerKind = "schedule"
	TriggerManual   TriggerKind = "manual"
)

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed
}

type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "error"
	StepSkipped StepStatus = "skipped"
)

// Execution is one triggered run of a workflow version. It is owned by the
// engine while running and read-only once FinishedAt is set.
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int64           `json:"workflow_version"`
	TriggerKind     TriggerKind     `json:"trigger_kind"`
	TriggerPayload  Item            `json:"trigger_payload"`
	Status          ExecutionStatus `json:"status"`
	Error           string          `json:"error,omitempty"`
	Degraded        bool            `json:"degraded,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Steps           []StepResult    `json:"steps"`
}

type StepResult struct {
	NodeID     string     `json:"node_id"`
	Input      []Item     `json:"input"`
	Output     []Item     `json:"output"`
	Status     StepStatus `json:"status"`
	Branch     string     `json:"branch,omitempty"`
	Attempts   int        `json:"attempts"`
	Error      *StepError `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// StepError is the persisted form of a step failure.
type StepError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
}

func (e *Execution) Finished() bool {
	return e.FinishedAt != nil
}

func (e *Execution) Step(nodeID string) (*StepResult, bool) {
	for i := range e.Steps {
		if e.Steps[i].NodeID == nodeID {
			return &e.Steps[i], true
		}
	}
	return nil, false
}

// Clone copies the execution deeply enough that the engine can keep appending
// to its own copy while readers hold another.
func (e *Execution) Clone() *Execution {
	clone := *e
	clone.TriggerPayload = e.TriggerPayload.Clone()
	if e.FinishedAt != nil {
		finished := *e.FinishedAt
		clone.FinishedAt = &finished
	}
	clone.Steps = make([]StepResult, len(e.Steps))
	for i, step := range e.Steps {
		step.Input = CloneItems(step.Input)
		step.Output = CloneItems(step.Output)
		if step.Error != nil {
			errCopy := *step.Error
			step.Error = &errCopy
		}
		clone.Steps[i] = step
	}
	return &clone
}

// ExecutionFilter narrows an execution listing. Results are newest first.
type ExecutionFilter struct {
	WorkflowID string
	Status     ExecutionStatus
	Limit      int
}

const (
	DefaultExecutionListLimit = 20
	MaxExecutionListLimit     = 500
)

func (f ExecutionFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultExecutionListLimit
	case f.Limit > MaxExecutionListLimit:
		return MaxExecutionListLimit
	default:
		return f.Limit
	}
}
