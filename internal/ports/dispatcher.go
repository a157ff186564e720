package ports

import (
	"context"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
)

type DispatchResult struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Duplicate   bool                   `json:"duplicate"`
	Execution   *domain.Execution      `json:"execution,omitempty"`
}

type Dispatcher interface {
	DispatchWebhook(ctx context.Context, path string, body []byte) (*DispatchResult, error)
	DispatchManual(ctx context.Context, workflowID string, payload domain.Item) (*DispatchResult, error)
}

// IdempotencyStore remembers which execution a delivery created. Reserve
// returns reserved=false together with the existing execution id when the key
// is still inside its window.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key, executionID string, ttl time.Duration) (existingID string, reserved bool, err error)
	Release(ctx context.Context, key string) error
}

// Clock is injected wherever time drives behaviour under test.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
