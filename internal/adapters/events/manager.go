package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/google/uuid"
)

const defaultBufferSize = 64

// Manager is the in-process execution event bus. Channel subscribers get a
// bounded buffer; a slow reader loses intermediate events but always receives
// the terminal one, after which its channel is closed.
type Manager struct {
	logger     *slog.Logger
	bufferSize int

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	handlers      []genericSubscription
	running       bool
	ctx           context.Context
	cancel        context.CancelFunc

	dropped atomic.Int64
}

type genericSubscription struct {
	id      string
	pattern string
	handler func(domain.ExecutionEvent)
}

type subscription struct {
	id          string
	executionID string
	ch          chan domain.ExecutionEvent
	closed      bool
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger:        logger.With("component", "event-manager"),
		bufferSize:    defaultBufferSize,
		subscriptions: make(map[string]*subscription),
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return domain.ErrAlreadyStarted
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.logger.Debug("event manager started")
	return nil
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return domain.ErrNotStarted
	}

	m.cancel()
	for id, sub := range m.subscriptions {
		m.closeLocked(sub)
		delete(m.subscriptions, id)
	}

	m.running = false
	m.logger.Debug("event manager stopped", "dropped_events", m.dropped.Load())
	return nil
}

// Subscribe returns a channel of events for one execution, or for every
// execution when executionID is empty. The cancel func is safe to call more
// than once.
func (m *Manager) Subscribe(executionID string) (<-chan domain.ExecutionEvent, func()) {
	sub := &subscription{
		id:          uuid.New().String(),
		executionID: executionID,
		ch:          make(chan domain.ExecutionEvent, m.bufferSize),
	}

	m.mu.Lock()
	m.subscriptions[sub.id] = sub
	m.mu.Unlock()

	return sub.ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subscriptions[sub.id]; ok {
			m.closeLocked(sub)
			delete(m.subscriptions, sub.id)
		}
	}
}

// OnEvent registers a callback for events whose type matches pattern, e.g.
// "step.*", "execution.finished" or "*". Handlers run on their own goroutine.
func (m *Manager) OnEvent(pattern string, handler func(domain.ExecutionEvent)) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := genericSubscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: handler,
	}
	m.handlers = append(m.handlers, sub)
	return sub.id
}

func (m *Manager) RemoveHandler(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := m.handlers[:0]
	for _, sub := range m.handlers {
		if sub.id != id {
			filtered = append(filtered, sub)
		}
	}
	m.handlers = filtered
}

func (m *Manager) Publish(event domain.ExecutionEvent) {
	m.mu.Lock()
	for id, sub := range m.subscriptions {
		if sub.executionID != "" && sub.executionID != event.ExecutionID {
			continue
		}
		m.deliverLocked(sub, event)
		if event.Terminal() && sub.executionID != "" {
			m.closeLocked(sub)
			delete(m.subscriptions, id)
		}
	}

	var matching []func(domain.ExecutionEvent)
	for _, sub := range m.handlers {
		if m.patternMatches(sub.pattern, string(event.Type)) {
			matching = append(matching, sub.handler)
		}
	}
	m.mu.Unlock()

	for _, handler := range matching {
		go m.safeCall(func() { handler(event) })
	}
}

func (m *Manager) deliverLocked(sub *subscription, event domain.ExecutionEvent) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- event:
		return
	default:
	}

	if !event.Terminal() {
		m.dropped.Add(1)
		m.logger.Debug("subscriber buffer full, dropping event",
			"execution_id", event.ExecutionID,
			"type", event.Type)
		return
	}

	// Make room for the terminal event.
	select {
	case <-sub.ch:
		m.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- event:
	default:
	}
}

func (m *Manager) closeLocked(sub *subscription) {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

func (m *Manager) patternMatches(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

func (m *Manager) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}
