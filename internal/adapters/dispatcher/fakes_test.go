package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeEngine records Start calls. Executions stay running until the test
// finishes them, unless autoFinish is set.
type fakeEngine struct {
	mu         sync.Mutex
	started    []*domain.Execution
	triggers   []ports.Trigger
	done       map[string]chan *domain.Execution
	autoFinish bool
	startErr   error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{done: make(map[string]chan *domain.Execution)}
}

func (e *fakeEngine) Start(ctx context.Context, def *domain.WorkflowDefinition, trigger ports.Trigger) (*domain.Execution, <-chan *domain.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return nil, nil, e.startErr
	}

	id := trigger.ExecutionID
	if id == "" {
		id = fmt.Sprintf("%s-run-%d", def.ID, len(e.started)+1)
	}
	exec := &domain.Execution{
		ID:              id,
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		TriggerKind:     trigger.Kind,
		TriggerPayload:  trigger.Payload,
		Status:          domain.ExecutionRunning,
		StartedAt:       time.Now().UTC(),
	}
	e.started = append(e.started, exec)
	e.triggers = append(e.triggers, trigger)

	done := make(chan *domain.Execution, 1)
	e.done[id] = done
	if e.autoFinish {
		final := exec.Clone()
		final.Status = domain.ExecutionSucceeded
		done <- final
		close(done)
		delete(e.done, id)
	}
	return exec.Clone(), done, nil
}

func (e *fakeEngine) Run(ctx context.Context, def *domain.WorkflowDefinition, trigger ports.Trigger) (*domain.Execution, error) {
	exec, done, err := e.Start(ctx, def, trigger)
	if err != nil {
		return nil, err
	}
	select {
	case final := <-done:
		return final, nil
	case <-ctx.Done():
		return exec, ctx.Err()
	}
}

func (e *fakeEngine) Stop() error { return nil }

func (e *fakeEngine) finish(id string) {
	e.mu.Lock()
	done, ok := e.done[id]
	delete(e.done, id)
	var exec *domain.Execution
	for _, candidate := range e.started {
		if candidate.ID == id {
			exec = candidate.Clone()
		}
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	exec.Status = domain.ExecutionSucceeded
	done <- exec
	close(done)
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.started)
}

func (e *fakeEngine) lastStarted() *domain.Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.started) == 0 {
		return nil
	}
	return e.started[len(e.started)-1]
}
