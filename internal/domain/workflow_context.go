package domain

import "context"

type contextKey string

const ExecutionContextKey contextKey = "regiflow:execution_context"

// ExecutionContext is attached to the context handed to step executors.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string
	Version     int64
	NodeID      string
	Attempt     int
}

func WithExecutionContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	return context.WithValue(ctx, ExecutionContextKey, execCtx)
}

func GetExecutionContext(ctx context.Context) (*ExecutionContext, bool) {
	execCtx, ok := ctx.Value(ExecutionContextKey).(*ExecutionContext)
	return execCtx, ok
}
