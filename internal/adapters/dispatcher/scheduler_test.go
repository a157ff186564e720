package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/eleven-am/regiflow/internal/adapters/repository"
	"github.com/eleven-am/regiflow/internal/adapters/storage"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduledWorkflow(id string, params map[string]any) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:   id,
		Name: id,
		Nodes: []domain.Node{
			{ID: "tick", Name: "Every 15 minutes", Type: domain.NodeTypeTrigger, Parameters: params},
			{ID: "prepare", Name: "Prepare checks", Type: domain.NodeTypeFunction},
		},
		Edges: []domain.Edge{{From: "tick", To: "prepare"}},
	}
}

type schedulerFixture struct {
	clock     *fakeClock
	repo      *repository.WorkflowRepository
	engine    *fakeEngine
	scheduler *Scheduler
}

func newSchedulerFixture(t *testing.T, configure func(*domain.DispatcherConfig)) *schedulerFixture {
	t.Helper()
	clock := newFakeClock()
	config := domain.DefaultDispatcherConfig()
	if configure != nil {
		configure(&config)
	}

	f := &schedulerFixture{
		clock:  clock,
		repo:   repository.NewWorkflowRepository(storage.NewMemoryStorage(clock), nil, clock, quietLogger()),
		engine: newFakeEngine(),
	}
	f.scheduler = NewScheduler(config, f.repo, f.engine, quietLogger(), WithSchedulerClock(clock))
	f.repo.OnActivationChange(f.scheduler.Apply)
	return f
}

func (f *schedulerFixture) activate(t *testing.T, def *domain.WorkflowDefinition) {
	t.Helper()
	ctx := context.Background()
	_, err := f.repo.Create(ctx, def)
	require.NoError(t, err)
	_, err = f.repo.SetActive(ctx, def.ID, true)
	require.NoError(t, err)
}

func (f *schedulerFixture) inFlight(workflowID string) int {
	for _, status := range f.scheduler.Status() {
		if status.WorkflowID == workflowID {
			return status.InFlight
		}
	}
	return -1
}

func TestSchedulerSkipIfRunningNeverOverlaps(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.activate(t, scheduledWorkflow("regiflow-monitoring", map[string]any{"interval": "15m"}))
	ctx := context.Background()

	fired, err := f.scheduler.Tick(ctx, "regiflow-monitoring")
	require.NoError(t, err)
	require.True(t, fired)
	held := f.engine.lastStarted()

	// The run is held open across four more 15 minute ticks.
	for i := 0; i < 4; i++ {
		f.clock.Advance(15 * time.Minute)
		fired, err := f.scheduler.Tick(ctx, "regiflow-monitoring")
		require.NoError(t, err)
		assert.False(t, fired)
	}
	assert.Equal(t, 1, f.engine.startCount())
	assert.Equal(t, int64(4), f.scheduler.Skipped())
	assert.Equal(t, 1, f.inFlight("regiflow-monitoring"))

	f.engine.finish(held.ID)
	require.Eventually(t, func() bool { return f.inFlight("regiflow-monitoring") == 0 }, time.Second, 5*time.Millisecond)

	f.clock.Advance(15 * time.Minute)
	fired, err = f.scheduler.Tick(ctx, "regiflow-monitoring")
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, 2, f.engine.startCount())
	assert.Equal(t, int64(2), f.scheduler.Fired())
}

func TestSchedulerTickPayload(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.activate(t, scheduledWorkflow("regiflow-monitoring", map[string]any{"interval": "15m"}))

	_, err := f.scheduler.Tick(context.Background(), "regiflow-monitoring")
	require.NoError(t, err)

	trigger := f.engine.triggers[0]
	assert.Equal(t, domain.TriggerSchedule, trigger.Kind)
	assert.Equal(t, "2024-03-01T12:00:00Z", trigger.Payload["scheduled_at"])
	assert.Equal(t, "15m0s", trigger.Payload["interval"])
}

func TestSchedulerAllowOverlapCap(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.activate(t, scheduledWorkflow("sync", map[string]any{
		"interval":       "1m",
		"policy":         "allow_overlap",
		"max_concurrent": float64(2),
	}))
	ctx := context.Background()

	var results []bool
	for i := 0; i < 3; i++ {
		fired, err := f.scheduler.Tick(ctx, "sync")
		require.NoError(t, err)
		results = append(results, fired)
	}
	assert.Equal(t, []bool{true, true, false}, results)
	assert.Equal(t, 2, f.engine.startCount())
}

func TestSchedulerDefaultPolicyFromConfig(t *testing.T) {
	f := newSchedulerFixture(t, func(c *domain.DispatcherConfig) {
		c.DefaultSchedulePolicy = domain.ScheduleAllowOverlap
		c.DefaultMaxConcurrent = 3
	})
	f.activate(t, scheduledWorkflow("sync", map[string]any{"interval": "1m"}))

	status := f.scheduler.Status()
	require.Len(t, status, 1)
	assert.Equal(t, domain.ScheduleAllowOverlap, status[0].Policy)
	assert.Equal(t, 3, status[0].MaxConcurrent)
	assert.Equal(t, "1m0s", status[0].Interval)
}

func TestSchedulerFollowsActivation(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	ctx := context.Background()
	f.activate(t, scheduledWorkflow("regiflow-monitoring", map[string]any{"interval": "15m"}))
	require.Len(t, f.scheduler.Status(), 1)

	_, err := f.repo.SetActive(ctx, "regiflow-monitoring", false)
	require.NoError(t, err)
	assert.Empty(t, f.scheduler.Status())

	_, err = f.scheduler.Tick(ctx, "regiflow-monitoring")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.repo.SetActive(ctx, "regiflow-monitoring", true)
	require.NoError(t, err)
	assert.Len(t, f.scheduler.Status(), 1)
}

func TestSchedulerIgnoresWebhookWorkflows(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.activate(t, webhookWorkflow("payments", "stripe-webhook"))
	assert.Empty(t, f.scheduler.Status())
}

func TestSchedulerSyncPicksUpExistingWorkflows(t *testing.T) {
	clock := newFakeClock()
	repo := repository.NewWorkflowRepository(storage.NewMemoryStorage(clock), nil, clock, quietLogger())
	ctx := context.Background()

	_, err := repo.Create(ctx, scheduledWorkflow("a", map[string]any{"interval": "15m"}))
	require.NoError(t, err)
	_, err = repo.SetActive(ctx, "a", true)
	require.NoError(t, err)
	_, err = repo.Create(ctx, scheduledWorkflow("b", map[string]any{"interval": "5m"}))
	require.NoError(t, err)

	scheduler := NewScheduler(domain.DefaultDispatcherConfig(), repo, newFakeEngine(), quietLogger(), WithSchedulerClock(clock))
	require.NoError(t, scheduler.Start(ctx))
	defer func() { _ = scheduler.Stop() }()

	status := scheduler.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "a", status[0].WorkflowID)

	assert.ErrorIs(t, scheduler.Start(ctx), domain.ErrAlreadyStarted)
}

func TestSchedulerCronFires(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	f.engine.autoFinish = true
	f.activate(t, scheduledWorkflow("fast", map[string]any{"interval": "1s"}))

	require.NoError(t, f.scheduler.Start(context.Background()))
	require.Eventually(t, func() bool { return f.engine.startCount() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, f.scheduler.Stop())
	assert.ErrorIs(t, f.scheduler.Stop(), domain.ErrNotStarted)
}
