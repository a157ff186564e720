package validator

import (
	"sync"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

// Cache remembers which (id, version) snapshots passed validation. Snapshots
// are immutable, so a pass never needs re-checking. Failures are not cached.
type Cache struct {
	inner ports.Validator

	mu     sync.RWMutex
	passed map[domain.WorkflowRef]struct{}
}

func NewCache(inner ports.Validator) *Cache {
	return &Cache{
		inner:  inner,
		passed: make(map[domain.WorkflowRef]struct{}),
	}
}

func (c *Cache) Validate(def *domain.WorkflowDefinition) error {
	if def != nil && c.Contains(def.Ref()) {
		return nil
	}
	if err := c.inner.Validate(def); err != nil {
		return err
	}

	c.mu.Lock()
	c.passed[def.Ref()] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Cache) Contains(ref domain.WorkflowRef) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.passed[ref]
	return ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.passed)
}
