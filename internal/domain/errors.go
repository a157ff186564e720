package domain

import (
	"context"
	"errors"
	"fmt"
)

type StorageError struct {
	Type    ErrorType
	Key     string
	Message string
}

func (e *StorageError) Error() string {
	return e.Message
}

type ErrorType int

const (
	ErrKeyNotFound ErrorType = iota
	ErrVersionMismatch
	ErrClosed
)

func NewKeyNotFoundError(key string) *StorageError {
	return &StorageError{
		Type:    ErrKeyNotFound,
		Key:     key,
		Message: "key not found: " + key,
	}
}

func NewVersionMismatchError(key string, expected, actual int64) *StorageError {
	return &StorageError{
		Type:    ErrVersionMismatch,
		Key:     key,
		Message: fmt.Sprintf("version mismatch for key %s: expected %d, got %d", key, expected, actual),
	}
}

var (
	ErrAlreadyStarted   = errors.New("already started")
	ErrNotStarted       = errors.New("not started")
	ErrNotFound         = errors.New("resource not found")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTimeout          = errors.New("operation timeout")
	ErrVersionConflict  = errors.New("workflow version conflict")
	ErrNotValidated     = errors.New("workflow version has not been validated")
	ErrExecutionClosed  = errors.New("execution already finished")
	ErrStorageClosed    = errors.New("storage closed")
	ErrPathInUse        = errors.New("webhook path already owned by another active workflow")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrDeadlineExceeded = errors.New("execution deadline exceeded")
)

// Validation rules reported by ValidationError.Rule.
const (
	RuleTriggerCount    = "trigger_count"
	RuleTriggerIncoming = "trigger_incoming"
	RuleDanglingEdge    = "dangling_edge"
	RuleDuplicateEdge   = "duplicate_edge"
	RuleDuplicateNode   = "duplicate_node"
	RuleCycle           = "cycle"
	RuleUnreachable     = "unreachable"
	RuleBranchCoverage  = "branch_coverage"
	RuleUnknownType     = "unknown_type"
	RuleParameters      = "parameters"
	RuleStepInput       = "step_input"
	RuleTemplate        = "template"
	RulePredicate       = "predicate"
)

// ValidationError covers both a malformed workflow graph and bad step input.
// It is never retried.
type ValidationError struct {
	Rule    string
	NodeID  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("validation[%s] node %s: %s", e.Rule, e.NodeID, e.Message)
	}
	return fmt.Sprintf("validation[%s]: %s", e.Rule, e.Message)
}

func NewValidationError(rule, nodeID, format string, args ...any) *ValidationError {
	return &ValidationError{
		Rule:    rule,
		NodeID:  nodeID,
		Message: fmt.Sprintf(format, args...),
	}
}

// TransientError is a network failure or timeout. Retried per policy.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient[%s]: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// RemoteError is a non-success response from an external system.
type RemoteError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s responded %d", e.URL, e.StatusCode)
}

type DispatchErrorKind string

const (
	DispatchUnknownPath      DispatchErrorKind = "unknown_path"
	DispatchInactiveWorkflow DispatchErrorKind = "inactive_workflow"
	DispatchMalformedPayload DispatchErrorKind = "malformed_payload"
)

// DispatchError rejects a trigger before any execution is created.
type DispatchError struct {
	Kind       DispatchErrorKind
	Path       string
	WorkflowID string
	Err        error
}

func (e *DispatchError) Error() string {
	target := e.Path
	if target == "" {
		target = e.WorkflowID
	}
	if e.Err != nil {
		return fmt.Sprintf("dispatch[%s] %s: %v", e.Kind, target, e.Err)
	}
	return fmt.Sprintf("dispatch[%s] %s", e.Kind, target)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func NewDispatchError(kind DispatchErrorKind, path, workflowID string, err error) *DispatchError {
	return &DispatchError{Kind: kind, Path: path, WorkflowID: workflowID, Err: err}
}

// InvariantError marks an engine defect, such as a cycle found in a workflow
// that was accepted by the validator.
type InvariantError struct {
	ExecutionID string
	Message     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated in execution %s: %s", e.ExecutionID, e.Message)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsTransientError(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

func IsRemoteError(err error) bool {
	var target *RemoteError
	return errors.As(err, &target)
}

func IsDispatchError(err error) bool {
	var target *DispatchError
	return errors.As(err, &target)
}

func IsInvariantError(err error) bool {
	var target *InvariantError
	return errors.As(err, &target)
}

// IsRetryable is true only for transient and remote failures.
func IsRetryable(err error) bool {
	if err == nil || IsValidationError(err) {
		return false
	}
	return IsTransientError(err) || IsRemoteError(err)
}

func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var storageErr *StorageError
	return errors.As(err, &storageErr) && storageErr.Type == ErrKeyNotFound
}

func IsVersionMismatch(err error) bool {
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	var storageErr *StorageError
	return errors.As(err, &storageErr) && storageErr.Type == ErrVersionMismatch
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// ErrorKind names an error for persistence and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidationError(err):
		return "validation"
	case IsRemoteError(err):
		return "remote"
	case IsTransientError(err):
		return "transient"
	case IsDispatchError(err):
		return "dispatch"
	case IsInvariantError(err):
		return "invariant"
	default:
		return "internal"
	}
}

// NewStepError converts a step failure into its stored form, keeping the
// remote status and body when present.
func NewStepError(err error) *StepError {
	if err == nil {
		return nil
	}
	stepErr := &StepError{
		Kind:    ErrorKind(err),
		Message: err.Error(),
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		stepErr.StatusCode = remote.StatusCode
		stepErr.Body = remote.Body
	}
	return stepErr
}
