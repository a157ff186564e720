package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/eleven-am/regiflow/internal/adapters/repository"
	"github.com/eleven-am/regiflow/internal/adapters/storage"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type dispatchFixture struct {
	clock      *fakeClock
	repo       *repository.WorkflowRepository
	executions *repository.ExecutionStore
	engine     *fakeEngine
	dispatcher *Dispatcher
}

func newDispatchFixture(t *testing.T, configure func(*domain.DispatcherConfig)) *dispatchFixture {
	t.Helper()
	clock := newFakeClock()
	mem := storage.NewMemoryStorage(clock)

	config := domain.DefaultDispatcherConfig()
	if configure != nil {
		configure(&config)
	}

	f := &dispatchFixture{
		clock:      clock,
		repo:       repository.NewWorkflowRepository(mem, nil, clock, quietLogger()),
		executions: repository.NewExecutionStore(mem, clock, quietLogger()),
		engine:     newFakeEngine(),
	}
	seq := 0
	f.dispatcher = New(config, f.repo, f.engine, f.executions,
		storage.NewIdempotencyLedger(mem, clock, quietLogger()),
		quietLogger(),
		WithIDSource(func() string {
			seq++
			return fmt.Sprintf("exec-%d", seq)
		}))
	return f
}

func webhookWorkflow(id, path string) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:   id,
		Name: id,
		Nodes: []domain.Node{
			{ID: "webhook", Name: "Webhook", Type: domain.NodeTypeTrigger, Parameters: map[string]any{"path": path}},
			{ID: "validate", Name: "Validate", Type: domain.NodeTypeFunction},
		},
		Edges: []domain.Edge{{From: "webhook", To: "validate"}},
	}
}

func (f *dispatchFixture) install(t *testing.T, def *domain.WorkflowDefinition, active bool) {
	t.Helper()
	ctx := context.Background()
	_, err := f.repo.Create(ctx, def)
	require.NoError(t, err)
	if active {
		_, err = f.repo.SetActive(ctx, def.ID, true)
		require.NoError(t, err)
	}
}

func dispatchKind(t *testing.T, err error) domain.DispatchErrorKind {
	t.Helper()
	var dispatchErr *domain.DispatchError
	require.True(t, errors.As(err, &dispatchErr), "expected DispatchError, got %v", err)
	return dispatchErr.Kind
}

func TestDispatchWebhookStartsExecution(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.install(t, webhookWorkflow("regiflow-onboarding", "regiflow-onboarding"), true)

	result, err := f.dispatcher.DispatchWebhook(context.Background(), "regiflow-onboarding",
		[]byte(`{"nome":"Clinica Boa Vista","email":"contato@boavista.com"}`))
	require.NoError(t, err)

	assert.Equal(t, "exec-1", result.ExecutionID)
	assert.Equal(t, "regiflow-onboarding", result.WorkflowID)
	assert.Equal(t, domain.ExecutionRunning, result.Status)
	assert.False(t, result.Duplicate)

	require.Equal(t, 1, f.engine.startCount())
	trigger := f.engine.triggers[0]
	assert.Equal(t, domain.TriggerWebhook, trigger.Kind)
	assert.Equal(t, "Clinica Boa Vista", trigger.Payload["nome"])
	assert.Equal(t, "exec-1", trigger.ExecutionID)
}

func TestDispatchWebhookRejections(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.install(t, webhookWorkflow("payments", "stripe-webhook"), true)
	f.install(t, webhookWorkflow("dormant", "dormant-hook"), false)

	tests := []struct {
		name string
		path string
		body string
		kind domain.DispatchErrorKind
	}{
		{name: "unknown path", path: "nope", body: `{}`, kind: domain.DispatchUnknownPath},
		{name: "inactive workflow", path: "dormant-hook", body: `{}`, kind: domain.DispatchInactiveWorkflow},
		{name: "array payload", path: "stripe-webhook", body: `[1,2]`, kind: domain.DispatchMalformedPayload},
		{name: "broken json", path: "stripe-webhook", body: `{"type":`, kind: domain.DispatchMalformedPayload},
		{name: "null payload", path: "stripe-webhook", body: `null`, kind: domain.DispatchMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.dispatcher.DispatchWebhook(context.Background(), tt.path, []byte(tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.kind, dispatchKind(t, err))
		})
	}
	assert.Equal(t, 0, f.engine.startCount())
}

func TestDispatchWebhookEmptyBodyIsEmptyObject(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.install(t, webhookWorkflow("monitor", "ping"), true)

	_, err := f.dispatcher.DispatchWebhook(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Empty(t, f.engine.triggers[0].Payload)
}

func TestDispatchWebhookIdempotencyWindow(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.install(t, webhookWorkflow("payments", "stripe-webhook"), true)
	ctx := context.Background()
	body := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)

	first, err := f.dispatcher.DispatchWebhook(ctx, "stripe-webhook", body)
	require.NoError(t, err)
	require.NoError(t, f.executions.Create(ctx, f.engine.lastStarted()))

	f.clock.Advance(4 * time.Minute)
	reordered := []byte(`{"type":"invoice.payment_succeeded","id":"evt_1"}`)
	second, err := f.dispatcher.DispatchWebhook(ctx, "stripe-webhook", reordered)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ExecutionID, second.ExecutionID)
	assert.Equal(t, domain.ExecutionRunning, second.Status)
	assert.Equal(t, 1, f.engine.startCount(), "duplicate must not start a second run")

	f.clock.Advance(2 * time.Minute)
	third, err := f.dispatcher.DispatchWebhook(ctx, "stripe-webhook", body)
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
	assert.NotEqual(t, first.ExecutionID, third.ExecutionID)
	assert.Equal(t, 2, f.engine.startCount())
}

func TestDispatchWebhookDifferentPayloadsAreDistinct(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.install(t, webhookWorkflow("payments", "stripe-webhook"), true)
	ctx := context.Background()

	_, err := f.dispatcher.DispatchWebhook(ctx, "stripe-webhook", []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	second, err := f.dispatcher.DispatchWebhook(ctx, "stripe-webhook", []byte(`{"id":"evt_2"}`))
	require.NoError(t, err)

	assert.False(t, second.Duplicate)
	assert.Equal(t, 2, f.engine.startCount())
}

func TestDispatchWebhookDuplicateReportsFinishedStatus(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.install(t, webhookWorkflow("payments", "stripe-webhook"), true)
	ctx := context.Background()
	body := []byte(`{"id":"evt_9"}`)

	first, err := f.dispatcher.DispatchWebhook(ctx, "stripe-webhook", body)
	require.NoError(t, err)

	exec := f.engine.lastStarted().Clone()
	require.NoError(t, f.executions.Create(ctx, exec))
	finishedAt := f.clock.Now()
	exec.Status = domain.ExecutionSucceeded
	exec.FinishedAt = &finishedAt
	require.NoError(t, f.executions.Finish(ctx, exec))

	again, err := f.dispatcher.DispatchWebhook(ctx, "stripe-webhook", body)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.ExecutionID, again.ExecutionID)
	assert.Equal(t, domain.ExecutionSucceeded, again.Status)
}

func TestDispatchWebhookReleasesKeyWhenStartFails(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.install(t, webhookWorkflow("payments", "stripe-webhook"), true)
	ctx := context.Background()
	body := []byte(`{"id":"evt_1"}`)

	f.engine.startErr = domain.ErrNotStarted
	_, err := f.dispatcher.DispatchWebhook(ctx, "stripe-webhook", body)
	require.ErrorIs(t, err, domain.ErrNotStarted)

	f.engine.startErr = nil
	result, err := f.dispatcher.DispatchWebhook(ctx, "stripe-webhook", body)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
}

func TestDispatchWebhookWaitForCompletion(t *testing.T) {
	f := newDispatchFixture(t, func(c *domain.DispatcherConfig) { c.WaitForCompletion = true })
	f.engine.autoFinish = true
	f.install(t, webhookWorkflow("payments", "stripe-webhook"), true)

	result, err := f.dispatcher.DispatchWebhook(context.Background(), "stripe-webhook", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSucceeded, result.Status)
	require.NotNil(t, result.Execution)
}

func TestDispatchWebhookZeroWindowDisablesDedupe(t *testing.T) {
	f := newDispatchFixture(t, func(c *domain.DispatcherConfig) { c.IdempotencyWindow = 0 })
	f.install(t, webhookWorkflow("payments", "stripe-webhook"), true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := f.dispatcher.DispatchWebhook(ctx, "stripe-webhook", []byte(`{"id":"evt_1"}`))
		require.NoError(t, err)
		assert.False(t, result.Duplicate)
	}
	assert.Equal(t, 3, f.engine.startCount())
}

func TestDispatchManual(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.install(t, webhookWorkflow("regiflow-onboarding", "regiflow-onboarding"), false)

	result, err := f.dispatcher.DispatchManual(context.Background(), "regiflow-onboarding", domain.Item{"nome": "Teste"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRunning, result.Status)
	assert.Equal(t, domain.TriggerManual, f.engine.triggers[0].Kind)

	_, err = f.dispatcher.DispatchManual(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
