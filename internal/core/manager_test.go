package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eleven-am/regiflow/internal/definitions"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/xjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const succeededEvent = `{"type": "invoice.payment_succeeded", "data": {"object": {"customer": "cus_42", "amount_paid": 4900}}}`

func testConfig() *domain.Config {
	config := domain.NewConfig("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	config.WithInMemoryStorage()
	config.Dispatcher.WaitForCompletion = true
	config.Dispatcher.IdempotencyBackend = domain.IdempotencyMemory
	return config
}

func newTestManager(t *testing.T, config *domain.Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewWithConfig(config, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

type dispatchReply struct {
	ExecutionID string                 `json:"execution_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Duplicate   bool                   `json:"duplicate"`
	Execution   *domain.Execution      `json:"execution"`
}

func postWebhook(t *testing.T, url, body string) dispatchReply {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var reply dispatchReply
	require.NoError(t, xjson.NewDecoder(resp.Body).Decode(&reply))
	return reply
}

func TestNewWithConfigRejectsInvalidConfig(t *testing.T) {
	config := testConfig()
	config.Engine.MaxParallelSteps = 0

	m, err := NewWithConfig(config)
	assert.Nil(t, m)

	var configErr *domain.ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "engine.max_parallel_steps", configErr.Field)

	_, err = NewWithConfig(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestManagerRunsSeededWebhook(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	config := testConfig()
	config.Tracing.Enabled = true

	m := newTestManager(t, config, WithSpanProcessor(recorder))

	finished := make(chan domain.ExecutionEvent, 4)
	m.OnEvent(string(domain.EventExecutionFinished), func(event domain.ExecutionEvent) {
		finished <- event
	})

	report, err := m.Seed(context.Background(), definitions.Embedded{})
	require.NoError(t, err)
	assert.Len(t, report.Created, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Start(ctx), domain.ErrAlreadyStarted)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	first := postWebhook(t, server.URL+"/webhook/stripe-webhook", succeededEvent)
	require.Equal(t, domain.ExecutionSucceeded, first.Status)
	require.NotNil(t, first.Execution)
	activate, ok := first.Execution.Step("activate")
	require.True(t, ok)
	assert.Equal(t, "activate_account", activate.Output[0]["action"])

	second := postWebhook(t, server.URL+"/webhook/stripe-webhook", succeededEvent)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ExecutionID, second.ExecutionID)

	select {
	case event := <-finished:
		assert.Equal(t, first.ExecutionID, event.ExecutionID)
	case <-time.After(2 * time.Second):
		t.Fatal("no execution.finished event")
	}

	stored, err := m.Executions().Get(context.Background(), first.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "regiflow-payments", stored.WorkflowID)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "regiflow.execution")
	assert.Contains(t, names, "regiflow.step")
	assert.Positive(t, m.TracingMetrics().SpansFinished)
	assert.Eventually(t, func() bool {
		return m.Metrics().ExecutionsSucceeded == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManagerRegistersSeededSchedules(t *testing.T) {
	m := newTestManager(t, testConfig())

	_, err := m.Seed(context.Background(), definitions.Embedded{})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	schedules := m.Schedules()
	require.Len(t, schedules, 1)
	assert.Equal(t, "regiflow-monitoring", schedules[0].WorkflowID)
	assert.Equal(t, "15m0s", schedules[0].Interval)

	_, err = m.Workflows().SetActive(context.Background(), "regiflow-monitoring", false)
	require.NoError(t, err)
	assert.Empty(t, m.Schedules())
}

func TestManagerPersistsWorkflowsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	config := testConfig()
	config.DataDir = dir
	config.Storage = domain.StorageConfig{Backend: domain.StorageBadger}
	config.Dispatcher.IdempotencyBackend = domain.IdempotencyStorage

	first, err := NewWithConfig(config)
	require.NoError(t, err)
	_, err = first.Seed(context.Background(), definitions.Embedded{})
	require.NoError(t, err)
	require.NoError(t, first.Stop())

	second := newTestManager(t, config)
	def, err := second.Workflows().Get(context.Background(), "regiflow-onboarding")
	require.NoError(t, err)
	assert.True(t, def.Active)

	report, err := second.Seed(context.Background(), definitions.Embedded{})
	require.NoError(t, err)
	assert.Len(t, report.Unchanged, 3)
	assert.Empty(t, report.Created)
}

func TestManagerStartFailsInterruptedExecutions(t *testing.T) {
	config := testConfig()
	config.DataDir = t.TempDir()
	config.Storage = domain.StorageConfig{Backend: domain.StorageBadger}
	config.Dispatcher.IdempotencyBackend = domain.IdempotencyStorage

	first, err := NewWithConfig(config)
	require.NoError(t, err)
	require.NoError(t, first.Executions().Create(context.Background(), &domain.Execution{
		ID:              "exec-stale",
		WorkflowID:      "regiflow-onboarding",
		WorkflowVersion: 1,
		TriggerKind:     domain.TriggerWebhook,
		Status:          domain.ExecutionRunning,
		StartedAt:       time.Now().UTC(),
	}))
	require.NoError(t, first.Stop())

	second := newTestManager(t, config)
	require.NoError(t, second.Start(context.Background()))

	exec, err := second.Executions().Get(context.Background(), "exec-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, exec.Status)
	assert.Equal(t, "interrupted by restart", exec.Error)
}

func TestManagerRedisIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	config := testConfig()
	config.Dispatcher.IdempotencyBackend = domain.IdempotencyRedis
	config.Dispatcher.RedisURL = "redis://" + mr.Addr()

	m := newTestManager(t, config)
	_, err := m.Seed(context.Background(), definitions.Embedded{})
	require.NoError(t, err)

	first, err := m.Dispatcher().DispatchWebhook(context.Background(), "stripe-webhook", []byte(succeededEvent))
	require.NoError(t, err)
	second, err := m.Dispatcher().DispatchWebhook(context.Background(), "stripe-webhook", []byte(succeededEvent))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ExecutionID, second.ExecutionID)
	assert.Len(t, mr.Keys(), 1)
}

func TestManagerRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	config := testConfig()
	config.Dispatcher.IdempotencyBackend = domain.IdempotencyRedis
	config.Dispatcher.RedisURL = "redis://" + addr

	_, err := NewWithConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestManagerStop(t *testing.T) {
	m, err := NewWithConfig(testConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Start(context.Background()), domain.ErrStorageClosed)
}

func TestManagerWithoutOptionalComponents(t *testing.T) {
	config := testConfig()
	config.RateLimiter.Enabled = false
	config.HTTP.CircuitBreaker.Enabled = false
	config.Dispatcher.IdempotencyWindow = 0

	m := newTestManager(t, config)
	assert.Nil(t, m.limiter)
	assert.Nil(t, m.breakers)
	assert.Nil(t, m.idempotency)

	_, err := m.Seed(context.Background(), definitions.Embedded{})
	require.NoError(t, err)

	first, err := m.Dispatcher().DispatchWebhook(context.Background(), "stripe-webhook", []byte(succeededEvent))
	require.NoError(t, err)
	second, err := m.Dispatcher().DispatchWebhook(context.Background(), "stripe-webhook", []byte(succeededEvent))
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)
}

func TestManagerRunsConditionalWithUnknownOperator(t *testing.T) {
	m := newTestManager(t, testConfig())
	ctx := context.Background()

	def := &domain.WorkflowDefinition{
		ID: "large-invoices",
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeTrigger},
			{ID: "large", Type: domain.NodeTypeConditional, Parameters: map[string]any{
				"conditions": []any{map[string]any{"field": "amount", "op": "greaterThan", "value": 1000}},
			}},
			{ID: "review", Type: domain.NodeTypeFunction, Parameters: map[string]any{
				"operations": []any{map[string]any{"op": "set", "field": "queue", "value": "review"}},
			}},
			{ID: "settle", Type: domain.NodeTypeFunction, Parameters: map[string]any{
				"operations": []any{map[string]any{"op": "set", "field": "queue", "value": "settle"}},
			}},
		},
		Edges: []domain.Edge{
			{From: "start", To: "large"},
			{From: "large", To: "review", Branch: domain.BranchPtr("true")},
			{From: "large", To: "settle", Branch: domain.BranchPtr("false")},
		},
	}
	_, err := m.Workflows().Create(ctx, def)
	require.NoError(t, err)
	_, err = m.Workflows().SetActive(ctx, def.ID, true)
	require.NoError(t, err)

	result, err := m.Dispatcher().DispatchManual(ctx, def.ID, domain.Item{"amount": 5000})
	require.NoError(t, err)

	exec, err := m.Executions().Get(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSucceeded, exec.Status)
	assert.True(t, exec.Degraded)

	settle, ok := exec.Step("settle")
	require.True(t, ok)
	assert.Equal(t, domain.StepOK, settle.Status)
	assert.Equal(t, "settle", settle.Output[0]["queue"])
	review, ok := exec.Step("review")
	require.True(t, ok)
	assert.Equal(t, domain.StepSkipped, review.Status)
}
