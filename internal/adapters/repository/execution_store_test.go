package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/regiflow/internal/adapters/storage"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func runningExecution(id, workflowID string, startedAt time.Time) *domain.Execution {
	return &domain.Execution{
		ID:              id,
		WorkflowID:      workflowID,
		WorkflowVersion: 1,
		TriggerKind:     domain.TriggerWebhook,
		TriggerPayload:  domain.Item{"email": "a@b.co"},
		Status:          domain.ExecutionRunning,
		StartedAt:       startedAt,
	}
}

func newTestStore() *ExecutionStore {
	return NewExecutionStore(storage.NewMemoryStorage(nil), nil, nil)
}

func TestExecutionStoreAppendAndFinish(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, runningExecution("exec-1", "wf-1", baseTime)))
	require.NoError(t, store.AppendStep(ctx, "exec-1", domain.StepResult{NodeID: "trigger", Status: domain.StepOK, Attempts: 1}))
	require.NoError(t, store.AppendStep(ctx, "exec-1", domain.StepResult{NodeID: "prepare", Status: domain.StepOK, Attempts: 1}))

	running, err := store.CountRunning(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, running)

	exec, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, "trigger", exec.Steps[0].NodeID)

	exec.Status = domain.ExecutionSucceeded
	require.NoError(t, store.Finish(ctx, exec))

	finished, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.True(t, finished.Finished())
	assert.Equal(t, domain.ExecutionSucceeded, finished.Status)

	running, err = store.CountRunning(ctx, "wf-1")
	require.NoError(t, err)
	assert.Zero(t, running)

	err = store.AppendStep(ctx, "exec-1", domain.StepResult{NodeID: "late"})
	require.ErrorIs(t, err, domain.ErrExecutionClosed)
	require.ErrorIs(t, store.Finish(ctx, exec), domain.ErrExecutionClosed)
}

func TestExecutionStoreFinishRequiresTerminalStatus(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	exec := runningExecution("exec-1", "wf-1", baseTime)
	require.NoError(t, store.Create(ctx, exec))

	require.ErrorIs(t, store.Finish(ctx, exec), domain.ErrInvalidInput)
}

func TestExecutionStoreConcurrentAppendsKeepEveryStep(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, runningExecution("exec-a", "wf-1", baseTime)))
	require.NoError(t, store.Create(ctx, runningExecution("exec-b", "wf-1", baseTime.Add(time.Second))))

	var wg sync.WaitGroup
	for _, id := range []string{"exec-a", "exec-b"} {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(id string, i int) {
				defer wg.Done()
				assert.NoError(t, store.AppendStep(ctx, id, domain.StepResult{NodeID: fmt.Sprintf("n%d", i)}))
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range []string{"exec-a", "exec-b"} {
		exec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Len(t, exec.Steps, 20)
	}
}

func TestExecutionStoreListNewestFirst(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		wf := "wf-1"
		if i%2 == 1 {
			wf = "wf-2"
		}
		exec := runningExecution(fmt.Sprintf("exec-%d", i), wf, baseTime.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Create(ctx, exec))
	}

	all, err := store.List(ctx, domain.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "exec-4", all[0].ID)
	assert.Equal(t, "exec-0", all[4].ID)

	wf1, err := store.List(ctx, domain.ExecutionFilter{WorkflowID: "wf-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, wf1, 2)
	assert.Equal(t, "exec-4", wf1[0].ID)
	assert.Equal(t, "exec-2", wf1[1].ID)

	exec, err := store.Get(ctx, "exec-3")
	require.NoError(t, err)
	exec.Status = domain.ExecutionFailed
	require.NoError(t, store.Finish(ctx, exec))

	failed, err := store.List(ctx, domain.ExecutionFilter{Status: domain.ExecutionFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "exec-3", failed[0].ID)
}

func TestExecutionStoreFailInterrupted(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, runningExecution("exec-1", "wf-1", baseTime)))

	count, err := store.FailInterrupted(ctx, "interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exec, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, exec.Status)
	assert.Equal(t, "interrupted by restart", exec.Error)
}

func TestExecutionStoreSeparatesWorkflowsSharingAPrefix(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, runningExecution("exec-a", "clinic", baseTime)))
	require.NoError(t, store.Create(ctx, runningExecution("exec-b", "clinic:eu", baseTime.Add(time.Second))))

	clinic, err := store.List(ctx, domain.ExecutionFilter{WorkflowID: "clinic"})
	require.NoError(t, err)
	require.Len(t, clinic, 1)
	assert.Equal(t, "exec-a", clinic[0].ID)

	eu, err := store.List(ctx, domain.ExecutionFilter{WorkflowID: "clinic:eu"})
	require.NoError(t, err)
	require.Len(t, eu, 1)
	assert.Equal(t, "exec-b", eu[0].ID)

	running, err := store.CountRunning(ctx, "clinic")
	require.NoError(t, err)
	assert.Equal(t, 1, running)

	count, err := store.FailInterrupted(ctx, "interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
