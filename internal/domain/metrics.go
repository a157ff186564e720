package domain

import (
	"sync/atomic"
	"time"
)

type ExecutionMetrics struct {
	ExecutionsStarted   int64 `json:"executions_started"`
	ExecutionsSucceeded int64 `json:"executions_succeeded"`
	ExecutionsFailed    int64 `json:"executions_failed"`
	ExecutionsDegraded  int64 `json:"executions_degraded"`
	ExecutionsInFlight  int64 `json:"executions_in_flight"`

	StepsExecuted int64 `json:"steps_executed"`
	StepsFailed   int64 `json:"steps_failed"`
	StepsSkipped  int64 `json:"steps_skipped"`
	StepsTimedOut int64 `json:"steps_timed_out"`
	StepsRetried  int64 `json:"steps_retried"`
	StepPanics    int64 `json:"step_panics"`

	TotalExecutionTimeNs int64 `json:"total_execution_time_ns"`
	FinishedCount        int64 `json:"finished_count"`
}

func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{}
}

func (m *ExecutionMetrics) ExecutionStarted() {
	atomic.AddInt64(&m.ExecutionsStarted, 1)
	atomic.AddInt64(&m.ExecutionsInFlight, 1)
}

func (m *ExecutionMetrics) ExecutionFinished(exec *Execution, duration time.Duration) {
	atomic.AddInt64(&m.ExecutionsInFlight, -1)
	atomic.AddInt64(&m.TotalExecutionTimeNs, int64(duration))
	atomic.AddInt64(&m.FinishedCount, 1)

	if exec.Status == ExecutionSucceeded {
		atomic.AddInt64(&m.ExecutionsSucceeded, 1)
	} else {
		atomic.AddInt64(&m.ExecutionsFailed, 1)
	}
	if exec.Degraded {
		atomic.AddInt64(&m.ExecutionsDegraded, 1)
	}
}

func (m *ExecutionMetrics) StepRecorded(step StepResult) {
	switch step.Status {
	case StepSkipped:
		atomic.AddInt64(&m.StepsSkipped, 1)
		return
	case StepFailed:
		atomic.AddInt64(&m.StepsFailed, 1)
	}
	atomic.AddInt64(&m.StepsExecuted, 1)
	if step.Attempts > 1 {
		atomic.AddInt64(&m.StepsRetried, int64(step.Attempts-1))
	}
}

func (m *ExecutionMetrics) IncrementStepsTimedOut() {
	atomic.AddInt64(&m.StepsTimedOut, 1)
}

func (m *ExecutionMetrics) IncrementStepPanics() {
	atomic.AddInt64(&m.StepPanics, 1)
}

func (m *ExecutionMetrics) GetSnapshot() ExecutionMetrics {
	return ExecutionMetrics{
		ExecutionsStarted:    atomic.LoadInt64(&m.ExecutionsStarted),
		ExecutionsSucceeded:  atomic.LoadInt64(&m.ExecutionsSucceeded),
		ExecutionsFailed:     atomic.LoadInt64(&m.ExecutionsFailed),
		ExecutionsDegraded:   atomic.LoadInt64(&m.ExecutionsDegraded),
		ExecutionsInFlight:   atomic.LoadInt64(&m.ExecutionsInFlight),
		StepsExecuted:        atomic.LoadInt64(&m.StepsExecuted),
		StepsFailed:          atomic.LoadInt64(&m.StepsFailed),
		StepsSkipped:         atomic.LoadInt64(&m.StepsSkipped),
		StepsTimedOut:        atomic.LoadInt64(&m.StepsTimedOut),
		StepsRetried:         atomic.LoadInt64(&m.StepsRetried),
		StepPanics:           atomic.LoadInt64(&m.StepPanics),
		TotalExecutionTimeNs: atomic.LoadInt64(&m.TotalExecutionTimeNs),
		FinishedCount:        atomic.LoadInt64(&m.FinishedCount),
	}
}

func (m *ExecutionMetrics) GetAverageExecutionTime() time.Duration {
	totalNs := atomic.LoadInt64(&m.TotalExecutionTimeNs)
	count := atomic.LoadInt64(&m.FinishedCount)

	if count == 0 {
		return 0
	}

	return time.Duration(totalNs / count)
}
