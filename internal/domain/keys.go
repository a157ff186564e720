package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	WorkflowHeadPrefix      = "workflow:head:"
	WorkflowSnapshotPrefix  = "workflow:snapshot:"
	WorkflowValidatedPrefix = "workflow:validated:"
	ExecutionRecordPrefix   = "execution:record:"
	ExecutionIndexPrefix    = "execution:index:"
	ExecutionTimelinePrefix = "execution:timeline:"
	ExecutionRunningPrefix  = "execution:running:"
	IdempotencyPrefix       = "idempotency:"
	WebhookPathPrefix       = "webhook:path:"
)

// WorkflowHeadKey holds the latest version of a workflow.
func WorkflowHeadKey(id string) string {
	return WorkflowHeadPrefix + id
}

// WorkflowSnapshotKey holds one immutable version. Versions are zero padded so
// prefix scans return them in order.
func WorkflowSnapshotKey(id string, version int64) string {
	return fmt.Sprintf("%s%s:%020d", WorkflowSnapshotPrefix, keySegment(id), version)
}

func WorkflowValidatedKey(id string, version int64) string {
	return fmt.Sprintf("%s%s:%d", WorkflowValidatedPrefix, keySegment(id), version)
}

// WebhookPathKey maps a webhook path to the id of the active workflow that
// owns it.
func WebhookPathKey(path string) string {
	return WebhookPathPrefix + path
}

func ExecutionRecordKey(id string) string {
	return ExecutionRecordPrefix + id
}

// ExecutionIndexKey orders executions newest first within a workflow by
// inverting the start timestamp.
func ExecutionIndexKey(workflowID string, startedAt time.Time, executionID string) string {
	return fmt.Sprintf("%s%020d:%s", ExecutionIndexWorkflowPrefix(workflowID), invertedNanos(startedAt), executionID)
}

func ExecutionIndexWorkflowPrefix(workflowID string) string {
	return ExecutionIndexPrefix + keySegment(workflowID) + ":"
}

// ExecutionTimelineKey orders every execution newest first regardless of
// workflow.
func ExecutionTimelineKey(startedAt time.Time, executionID string) string {
	return fmt.Sprintf("%s%020d:%s", ExecutionTimelinePrefix, invertedNanos(startedAt), executionID)
}

// ExecutionRunningKey exists while an execution is running.
func ExecutionRunningKey(workflowID, executionID string) string {
	return ExecutionRunningWorkflowPrefix(workflowID) + executionID
}

func ExecutionRunningWorkflowPrefix(workflowID string) string {
	return ExecutionRunningPrefix + keySegment(workflowID) + ":"
}

var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// keySegment escapes the separator so one workflow's prefix never matches
// another workflow whose id extends it, as "clinic:" would "clinic:eu".
func keySegment(id string) string {
	return segmentEscaper.Replace(id)
}

func invertedNanos(t time.Time) uint64 {
	return uint64(math.MaxInt64) - uint64(t.UnixNano())
}

func IdempotencyKey(hash string) string {
	return IdempotencyPrefix + hash
}
