package storage

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

// MemoryStorage is a map-backed StoragePort with the same version and TTL
// semantics as AppStorage. Expiry is read from the injected clock.
type MemoryStorage struct {
	mu     sync.Mutex
	clock  ports.Clock
	data   map[string]memoryEntry
	closed bool
}

type memoryEntry struct {
	value    []byte
	version  int64
	expireAt time.Time
}

func NewMemoryStorage(clock ports.Clock) *MemoryStorage {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &MemoryStorage{
		clock: clock,
		data:  make(map[string]memoryEntry),
	}
}

func (m *MemoryStorage) live(key string) (memoryEntry, bool) {
	entry, ok := m.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expireAt.IsZero() && !m.clock.Now().Before(entry.expireAt) {
		delete(m.data, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *MemoryStorage) Get(key string) ([]byte, int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, 0, false, domain.ErrStorageClosed
	}
	entry, ok := m.live(key)
	if !ok {
		return nil, 0, false, nil
	}
	valCopy := append([]byte(nil), entry.value...)
	return valCopy, entry.version, true, nil
}

func (m *MemoryStorage) Put(key string, value []byte, version int64) error {
	return m.PutWithTTL(key, value, version, 0)
}

func (m *MemoryStorage) PutWithTTL(key string, value []byte, version int64, ttl time.Duration) error {
	return m.BatchWrite([]ports.WriteOp{{Type: ports.OpPut, Key: key, Value: value, Version: version, TTL: ttl}})
}

func (m *MemoryStorage) Delete(key string) error {
	return m.BatchWrite([]ports.WriteOp{{Type: ports.OpDelete, Key: key}})
}

func (m *MemoryStorage) Exists(key string) (bool, error) {
	_, _, ok, err := m.Get(key)
	return ok, err
}

func (m *MemoryStorage) BatchWrite(ops []ports.WriteOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrStorageClosed
	}

	for _, op := range ops {
		if op.Type != ports.OpPut || op.Version == 0 {
			continue
		}
		current, _ := m.live(op.Key)
		if op.Version != current.version+1 {
			return domain.NewVersionMismatchError(op.Key, op.Version-1, current.version)
		}
	}

	for _, op := range ops {
		switch op.Type {
		case ports.OpPut:
			current, _ := m.live(op.Key)
			next := op.Version
			if next == 0 {
				next = current.version + 1
			}
			entry := memoryEntry{
				value:   append([]byte(nil), op.Value...),
				version: next,
			}
			if op.TTL > 0 {
				entry.expireAt = m.clock.Now().Add(op.TTL)
			}
			m.data[op.Key] = entry
		case ports.OpDelete:
			delete(m.data, op.Key)
		default:
			return domain.ErrInvalidInput
		}
	}
	return nil
}

func (m *MemoryStorage) ListByPrefix(prefix string) ([]ports.KeyValueVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrStorageClosed
	}

	keys := make([]string, 0)
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	results := make([]ports.KeyValueVersion, 0, len(keys))
	for _, key := range keys {
		entry, ok := m.live(key)
		if !ok {
			continue
		}
		results = append(results, ports.KeyValueVersion{
			Key:     key,
			Value:   append([]byte(nil), entry.value...),
			Version: entry.version,
		})
	}
	return results, nil
}

func (m *MemoryStorage) CountPrefix(prefix string) (int, error) {
	kvs, err := m.ListByPrefix(prefix)
	return len(kvs), err
}

func (m *MemoryStorage) DeleteByPrefix(prefix string) (int, error) {
	kvs, err := m.ListByPrefix(prefix)
	if err != nil {
		return 0, err
	}
	ops := make([]ports.WriteOp, 0, len(kvs))
	for _, kv := range kvs {
		ops = append(ops, ports.WriteOp{Type: ports.OpDelete, Key: kv.Key})
	}
	return len(ops), m.BatchWrite(ops)
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
