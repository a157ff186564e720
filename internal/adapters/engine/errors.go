package engine

import (
	"errors"
	"fmt"

	"github.com/eleven-am/regiflow/internal/domain"
)

func newInvariantError(executionID, format string, args ...any) *domain.InvariantError {
	return &domain.InvariantError{
		ExecutionID: executionID,
		Message:     fmt.Sprintf(format, args...),
	}
}

func deadlineError(cause error) error {
	return domain.NewTransientError("execution deadline", fmt.Errorf("%w: %v", domain.ErrDeadlineExceeded, cause))
}

func errorLogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	attrs := []any{
		"error", err,
		"error_kind", domain.ErrorKind(err),
		"error_retryable", domain.IsRetryable(err),
	}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		attrs = append(attrs, "error_rule", validation.Rule)
		if validation.NodeID != "" {
			attrs = append(attrs, "error_node_id", validation.NodeID)
		}
	}

	var remote *domain.RemoteError
	if errors.As(err, &remote) {
		attrs = append(attrs, "status_code", remote.StatusCode, "remote_url", remote.URL)
	}

	if domain.IsInvariantError(err) {
		attrs = append(attrs, "operator_attention", true)
	}

	return attrs
}
