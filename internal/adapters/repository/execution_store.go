package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"github.com/eleven-am/regiflow/internal/xjson"
)

// ExecutionStore keeps each execution as one record that is rewritten whole
// on every append. Writes to one execution are serialised by its own mutex;
// different executions never contend.
type ExecutionStore struct {
	storage ports.StoragePort
	clock   ports.Clock
	logger  *slog.Logger

	locks sync.Map
}

func NewExecutionStore(storage ports.StoragePort, clock ports.Clock, logger *slog.Logger) *ExecutionStore {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &ExecutionStore{
		storage: storage,
		clock:   clock,
		logger:  logger.With("component", "execution-store"),
	}
}

func (s *ExecutionStore) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *ExecutionStore) Create(ctx context.Context, exec *domain.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution id is required: %w", domain.ErrInvalidInput)
	}

	payload, err := xjson.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to encode execution %s: %w", exec.ID, err)
	}

	ops := []ports.WriteOp{
		{Type: ports.OpPut, Key: domain.ExecutionRecordKey(exec.ID), Value: payload, Version: 1},
		{Type: ports.OpPut, Key: domain.ExecutionIndexKey(exec.WorkflowID, exec.StartedAt, exec.ID), Value: []byte(exec.ID)},
		{Type: ports.OpPut, Key: domain.ExecutionTimelineKey(exec.StartedAt, exec.ID), Value: []byte(exec.ID)},
	}
	if !exec.Status.Terminal() {
		ops = append(ops, ports.WriteOp{
			Type:  ports.OpPut,
			Key:   domain.ExecutionRunningKey(exec.WorkflowID, exec.ID),
			Value: []byte(exec.ID),
		})
	}

	if err := s.storage.BatchWrite(ops); err != nil {
		if domain.IsVersionMismatch(err) {
			return fmt.Errorf("execution %s already exists: %w", exec.ID, domain.ErrVersionConflict)
		}
		return fmt.Errorf("failed to store execution %s: %w", exec.ID, err)
	}
	return nil
}

func (s *ExecutionStore) AppendStep(ctx context.Context, executionID string, step domain.StepResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mu := s.lockFor(executionID)
	mu.Lock()
	defer mu.Unlock()

	exec, version, err := s.read(executionID)
	if err != nil {
		return err
	}
	if exec.Finished() {
		return fmt.Errorf("append to execution %s: %w", executionID, domain.ErrExecutionClosed)
	}

	exec.Steps = append(exec.Steps, step)
	return s.write(exec, version)
}

// Finish stores the terminal form of exec. The record is read-only afterwards.
func (s *ExecutionStore) Finish(ctx context.Context, exec *domain.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !exec.Status.Terminal() {
		return fmt.Errorf("execution %s finished with status %q: %w", exec.ID, exec.Status, domain.ErrInvalidInput)
	}

	mu := s.lockFor(exec.ID)
	mu.Lock()
	defer func() {
		mu.Unlock()
		s.locks.Delete(exec.ID)
	}()

	stored, version, err := s.read(exec.ID)
	if err != nil {
		return err
	}
	if stored.Finished() {
		return fmt.Errorf("finish execution %s: %w", exec.ID, domain.ErrExecutionClosed)
	}

	final := exec.Clone()
	if final.FinishedAt == nil {
		now := s.clock.Now().UTC()
		final.FinishedAt = &now
	}

	payload, err := xjson.Marshal(final)
	if err != nil {
		return fmt.Errorf("failed to encode execution %s: %w", exec.ID, err)
	}

	err = s.storage.BatchWrite([]ports.WriteOp{
		{Type: ports.OpPut, Key: domain.ExecutionRecordKey(exec.ID), Value: payload, Version: version + 1},
		{Type: ports.OpDelete, Key: domain.ExecutionRunningKey(exec.WorkflowID, exec.ID)},
	})
	if err != nil {
		return fmt.Errorf("failed to finish execution %s: %w", exec.ID, err)
	}
	return nil
}

func (s *ExecutionStore) Get(ctx context.Context, id string) (*domain.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exec, _, err := s.read(id)
	return exec, err
}

// List returns executions newest first. A workflow filter walks that
// workflow's index; otherwise the global timeline is used.
func (s *ExecutionStore) List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := domain.ExecutionTimelinePrefix
	if filter.WorkflowID != "" {
		prefix = domain.ExecutionIndexWorkflowPrefix(filter.WorkflowID)
	}

	entries, err := s.storage.ListByPrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	limit := filter.EffectiveLimit()
	results := make([]*domain.Execution, 0, min(limit, len(entries)))
	for _, entry := range entries {
		if len(results) >= limit {
			break
		}
		exec, _, err := s.read(string(entry.Value))
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		results = append(results, exec)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	return results, nil
}

func (s *ExecutionStore) CountRunning(ctx context.Context, workflowID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.storage.CountPrefix(domain.ExecutionRunningWorkflowPrefix(workflowID))
}

// FailInterrupted marks every execution still recorded as running as failed.
// It runs once at startup, before any dispatcher is live.
func (s *ExecutionStore) FailInterrupted(ctx context.Context, reason string) (int, error) {
	entries, err := s.storage.ListByPrefix(domain.ExecutionRunningPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list running executions: %w", err)
	}

	failed := 0
	for _, entry := range entries {
		exec, err := s.Get(ctx, string(entry.Value))
		if err != nil {
			if domain.IsNotFound(err) {
				_ = s.storage.Delete(entry.Key)
				continue
			}
			return failed, err
		}

		now := s.clock.Now().UTC()
		exec.Status = domain.ExecutionFailed
		exec.Error = reason
		exec.FinishedAt = &now
		if err := s.Finish(ctx, exec); err != nil {
			return failed, err
		}
		failed++
		s.logger.Warn("marked interrupted execution failed",
			"execution_id", exec.ID,
			"workflow_id", exec.WorkflowID,
			"started_at", exec.StartedAt.Format(time.RFC3339))
	}
	return failed, nil
}

func (s *ExecutionStore) read(id string) (*domain.Execution, int64, error) {
	value, version, exists, err := s.storage.Get(domain.ExecutionRecordKey(id))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read execution %s: %w", id, err)
	}
	if !exists {
		return nil, 0, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}

	var exec domain.Execution
	if err := xjson.Unmarshal(value, &exec); err != nil {
		return nil, 0, fmt.Errorf("failed to decode execution %s: %w", id, err)
	}
	return &exec, version, nil
}

func (s *ExecutionStore) write(exec *domain.Execution, version int64) error {
	payload, err := xjson.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to encode execution %s: %w", exec.ID, err)
	}
	if err := s.storage.Put(domain.ExecutionRecordKey(exec.ID), payload, version+1); err != nil {
		return fmt.Errorf("failed to store execution %s: %w", exec.ID, err)
	}
	return nil
}
