package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	cronlib "github.com/robfig/cron/v3"
)

// ScheduleSource is the slice of the workflow repository the scheduler reads.
type ScheduleSource interface {
	List(ctx context.Context) ([]*domain.WorkflowDefinition, error)
	GetValidatedWorkflow(ctx context.Context, id string, version int64) (*domain.WorkflowDefinition, error)
}

// cronParser accepts "@every <duration>" descriptors alongside standard
// five-field expressions.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Scheduler fires schedule-triggered workflows on their declared interval.
// At most one execution starts per tick.
type Scheduler struct {
	config    domain.DispatcherConfig
	workflows ScheduleSource
	engine    ports.ExecutionEngine
	clock     ports.Clock
	logger    *slog.Logger
	cron      *cronlib.Cron

	mu      sync.Mutex
	entries map[string]*scheduleEntry

	fired   atomic.Int64
	skipped atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
}

type scheduleEntry struct {
	workflowID    string
	version       int64
	interval      time.Duration
	policy        domain.SchedulePolicy
	maxConcurrent int
	cronID        cronlib.EntryID
	// inFlight is shared with the entry this one replaced, so runs started
	// under an older version still count against the limit.
	inFlight *int
	skipped  int64
}

// ScheduleStatus is a point-in-time view of one registered schedule.
type ScheduleStatus struct {
	WorkflowID    string                `json:"workflow_id"`
	Version       int64                 `json:"version"`
	Interval      string                `json:"interval"`
	Policy        domain.SchedulePolicy `json:"policy"`
	MaxConcurrent int                   `json:"max_concurrent"`
	InFlight      int                   `json:"in_flight"`
	Skipped       int64                 `json:"skipped"`
	Next          *time.Time            `json:"next,omitempty"`
}

type SchedulerOption func(*Scheduler)

func WithSchedulerClock(clock ports.Clock) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewScheduler(config domain.DispatcherConfig, workflows ScheduleSource, engine ports.ExecutionEngine, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DefaultSchedulePolicy == "" {
		config.DefaultSchedulePolicy = domain.ScheduleSkipIfRunning
	}
	if config.DefaultMaxConcurrent <= 0 {
		config.DefaultMaxConcurrent = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		config:    config,
		workflows: workflows,
		engine:    engine,
		clock:     ports.SystemClock{},
		logger:    logger.With("component", "scheduler"),
		cron:      cronlib.New(),
		entries:   make(map[string]*scheduleEntry),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers every active schedule and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return domain.ErrAlreadyStarted
	}
	if err := s.Sync(ctx); err != nil {
		s.running.Store(false)
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "schedules", len(s.Status()))
	return nil
}

// Stop halts the cron loop and waits for in-flight ticks to hand their
// executions to the engine. Running executions are the engine's to stop.
func (s *Scheduler) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return domain.ErrNotStarted
	}
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped", "fired", s.fired.Load(), "skipped", s.skipped.Load())
	return nil
}

// Sync reconciles registered entries with the active workflows.
func (s *Scheduler) Sync(ctx context.Context) error {
	workflows, err := s.workflows.List(ctx)
	if err != nil {
		return fmt.Errorf("list workflows for scheduling: %w", err)
	}

	seen := make(map[string]struct{}, len(workflows))
	for _, def := range workflows {
		seen[def.ID] = struct{}{}
		s.Apply(def)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if _, ok := seen[id]; !ok {
			s.removeLocked(entry)
		}
	}
	return nil
}

// Apply registers, replaces or removes the schedule of one workflow. It is
// the activation listener the workflow repository calls.
func (s *Scheduler) Apply(def *domain.WorkflowDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.entries[def.ID]
	raw, scheduled := def.ScheduleInterval()
	if !def.Active || !scheduled {
		if existing != nil {
			s.removeLocked(existing)
		}
		return
	}

	entry, err := s.entryFor(def, raw)
	if err != nil {
		s.logger.Warn("workflow schedule rejected", "workflow_id", def.ID, "interval", raw, "error", err)
		if existing != nil {
			s.removeLocked(existing)
		}
		return
	}

	if existing != nil {
		if existing.version == entry.version && existing.interval == entry.interval &&
			existing.policy == entry.policy && existing.maxConcurrent == entry.maxConcurrent {
			return
		}
		entry.inFlight = existing.inFlight
		entry.skipped = existing.skipped
		s.cron.Remove(existing.cronID)
	}

	schedule, err := cronParser.Parse("@every " + entry.interval.String())
	if err != nil {
		s.logger.Warn("workflow schedule rejected", "workflow_id", def.ID, "interval", raw, "error", err)
		delete(s.entries, def.ID)
		return
	}

	workflowID := def.ID
	entry.cronID = s.cron.Schedule(schedule, cronlib.FuncJob(func() {
		if _, err := s.Tick(s.ctx, workflowID); err != nil {
			s.logger.Warn("scheduled tick failed", "workflow_id", workflowID, "error", err)
		}
	}))
	s.entries[def.ID] = entry

	s.logger.Info("workflow scheduled",
		"workflow_id", def.ID,
		"version", def.Version,
		"interval", entry.interval,
		"policy", entry.policy,
		"max_concurrent", entry.maxConcurrent)
}

// Tick fires one schedule occurrence for workflowID. It reports whether an
// execution was started; a tick is skipped while the policy's concurrency
// limit is reached.
func (s *Scheduler) Tick(ctx context.Context, workflowID string) (bool, error) {
	s.mu.Lock()
	entry, ok := s.entries[workflowID]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("workflow %s has no schedule: %w", workflowID, domain.ErrNotFound)
	}
	if *entry.inFlight >= entry.limit() {
		entry.skipped++
		s.skipped.Add(1)
		inFlight, skipped := *entry.inFlight, entry.skipped
		s.mu.Unlock()
		s.logger.Info("schedule tick skipped",
			"workflow_id", workflowID,
			"policy", entry.policy,
			"in_flight", inFlight,
			"skipped_total", skipped)
		return false, nil
	}
	*entry.inFlight++
	counter := entry.inFlight
	version, interval := entry.version, entry.interval
	s.wg.Add(1)
	s.mu.Unlock()

	done, err := s.fire(ctx, workflowID, version, interval)
	if err != nil {
		s.release(counter)
		s.wg.Done()
		return false, err
	}
	s.fired.Add(1)

	go func() {
		defer s.wg.Done()
		<-done
		s.release(counter)
	}()
	return true, nil
}

func (s *Scheduler) fire(ctx context.Context, workflowID string, version int64, interval time.Duration) (<-chan *domain.Execution, error) {
	def, err := s.workflows.GetValidatedWorkflow(ctx, workflowID, version)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s v%d: %w", workflowID, version, err)
	}

	exec, done, err := s.engine.Start(ctx, def, ports.Trigger{
		Kind:    domain.TriggerSchedule,
		Payload: scheduledPayload(s.clock.Now(), interval),
	})
	if err != nil {
		return nil, fmt.Errorf("start scheduled workflow %s: %w", workflowID, err)
	}

	s.logger.Debug("schedule fired", "workflow_id", workflowID, "execution_id", exec.ID)
	return done, nil
}

func (s *Scheduler) release(counter *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *counter > 0 {
		*counter--
	}
}

// Status lists registered schedules by workflow id.
func (s *Scheduler) Status() []ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduleStatus, 0, len(s.entries))
	for _, entry := range s.entries {
		status := ScheduleStatus{
			WorkflowID:    entry.workflowID,
			Version:       entry.version,
			Interval:      entry.interval.String(),
			Policy:        entry.policy,
			MaxConcurrent: entry.limit(),
			InFlight:      *entry.inFlight,
			Skipped:       entry.skipped,
		}
		if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
			status.Next = &next
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out
}

func (s *Scheduler) Fired() int64   { return s.fired.Load() }
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

func (s *Scheduler) removeLocked(entry *scheduleEntry) {
	s.cron.Remove(entry.cronID)
	delete(s.entries, entry.workflowID)
	s.logger.Info("workflow unscheduled", "workflow_id", entry.workflowID)
}

func (s *Scheduler) entryFor(def *domain.WorkflowDefinition, raw string) (*scheduleEntry, error) {
	interval, err := time.ParseDuration(raw)
	if err != nil {
		return nil, err
	}
	if interval < time.Second {
		return nil, fmt.Errorf("interval %s is shorter than one second", interval)
	}

	entry := &scheduleEntry{
		workflowID:    def.ID,
		version:       def.Version,
		interval:      interval,
		policy:        s.config.DefaultSchedulePolicy,
		maxConcurrent: s.config.DefaultMaxConcurrent,
		inFlight:      new(int),
	}

	trigger, _ := def.Trigger()
	if policy, ok := trigger.Parameters["policy"].(string); ok && policy != "" {
		entry.policy = domain.SchedulePolicy(policy)
	}
	switch n := trigger.Parameters["max_concurrent"].(type) {
	case int:
		entry.maxConcurrent = n
	case int64:
		entry.maxConcurrent = int(n)
	case float64:
		entry.maxConcurrent = int(n)
	}

	switch entry.policy {
	case domain.ScheduleSkipIfRunning, domain.ScheduleAllowOverlap:
	default:
		return nil, fmt.Errorf("unknown schedule policy %q", entry.policy)
	}
	if entry.maxConcurrent <= 0 {
		entry.maxConcurrent = 1
	}
	return entry, nil
}

func (e *scheduleEntry) limit() int {
	if e.policy == domain.ScheduleSkipIfRunning {
		return 1
	}
	return e.maxConcurrent
}
