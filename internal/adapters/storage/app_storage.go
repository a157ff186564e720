package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

const (
	versionKeyPrefix = "v:"
	maxTxnRetries    = 5
)

// AppStorage is the badger-backed StoragePort. Each key has a companion
// "v:<key>" entry holding its version.
type AppStorage struct {
	db     *badger.DB
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// OpenAppStorage opens (or creates) a badger database under dir. An empty dir
// with inMemory set keeps everything in memory.
func OpenAppStorage(dir string, inMemory bool, logger *slog.Logger) (*AppStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return NewAppStorage(db, logger), nil
}

func NewAppStorage(db *badger.DB, logger *slog.Logger) *AppStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppStorage{
		db:     db,
		logger: logger.With("component", "app-storage"),
	}
}

func versionKey(key string) []byte {
	return []byte(versionKeyPrefix + key)
}

func encodeVersion(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeVersion(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func readVersion(txn *badger.Txn, key string) (int64, bool, error) {
	item, err := txn.Get(versionKey(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	return decodeVersion(raw), true, nil
}

// liveVersion is the stored version of key, or zero when the key is absent
// or expired.
func liveVersion(txn *badger.Txn, key string) (int64, error) {
	if _, err := txn.Get([]byte(key)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	version, _, err := readVersion(txn, key)
	return version, err
}

func (s *AppStorage) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &domain.StorageError{Type: domain.ErrClosed, Message: "storage is closed"}
	}
	return nil
}

func (s *AppStorage) Get(key string) (value []byte, version int64, exists bool, err error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, false, err
	}

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				exists = false
				return nil
			}
			return err
		}

		exists = true
		value, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}

		version, _, err = readVersion(txn, key)
		return err
	})

	return value, version, exists, err
}

func (s *AppStorage) Put(key string, value []byte, version int64) error {
	return s.PutWithTTL(key, value, version, 0)
}

func (s *AppStorage) PutWithTTL(key string, value []byte, version int64, ttl time.Duration) error {
	return s.BatchWrite([]ports.WriteOp{{
		Type:    ports.OpPut,
		Key:     key,
		Value:   value,
		Version: version,
		TTL:     ttl,
	}})
}

func (s *AppStorage) Delete(key string) error {
	return s.BatchWrite([]ports.WriteOp{{Type: ports.OpDelete, Key: key}})
}

func (s *AppStorage) Exists(key string) (bool, error) {
	_, _, exists, err := s.Get(key)
	return exists, err
}

// BatchWrite applies all ops in one badger transaction. Versioned puts are
// checked inside the same transaction, so either every op lands or none does.
func (s *AppStorage) BatchWrite(ops []ports.WriteOp) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			for _, op := range ops {
				if err := applyOp(txn, op); err != nil {
					return err
				}
			}
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.logger.Debug("badger transaction conflict, retrying", "attempt", attempt+1)
	}

	if errors.Is(err, badger.ErrConflict) && len(ops) > 0 {
		return domain.NewVersionMismatchError(ops[0].Key, ops[0].Version, -1)
	}
	return err
}

func applyOp(txn *badger.Txn, op ports.WriteOp) error {
	switch op.Type {
	case ports.OpPut:
		current, err := liveVersion(txn, op.Key)
		if err != nil {
			return err
		}

		next := op.Version
		if op.Version == 0 {
			next = current + 1
		} else if op.Version != current+1 {
			return domain.NewVersionMismatchError(op.Key, op.Version-1, current)
		}

		valueEntry := badger.NewEntry([]byte(op.Key), op.Value)
		versionEntry := badger.NewEntry(versionKey(op.Key), encodeVersion(next))
		if op.TTL > 0 {
			valueEntry = valueEntry.WithTTL(op.TTL)
			versionEntry = versionEntry.WithTTL(op.TTL)
		}
		if err := txn.SetEntry(valueEntry); err != nil {
			return err
		}
		return txn.SetEntry(versionEntry)

	case ports.OpDelete:
		if err := txn.Delete([]byte(op.Key)); err != nil {
			return err
		}
		return txn.Delete(versionKey(op.Key))

	default:
		return domain.ErrInvalidInput
	}
}

func (s *AppStorage) ListByPrefix(prefix string) ([]ports.KeyValueVersion, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var results []ports.KeyValueVersion

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())

			if strings.HasPrefix(key, versionKeyPrefix) {
				continue
			}

			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			version, _, err := readVersion(txn, key)
			if err != nil {
				return err
			}

			results = append(results, ports.KeyValueVersion{
				Key:     key,
				Value:   value,
				Version: version,
			})
		}

		return nil
	})

	return results, err
}

func (s *AppStorage) CountPrefix(prefix string) (count int, err error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if strings.HasPrefix(string(it.Item().Key()), versionKeyPrefix) {
				continue
			}
			count++
		}
		return nil
	})

	return count, err
}

func (s *AppStorage) DeleteByPrefix(prefix string) (deletedCount int, err error) {
	keys, err := s.ListByPrefix(prefix)
	if err != nil {
		return 0, err
	}

	ops := make([]ports.WriteOp, 0, len(keys))
	for _, kv := range keys {
		ops = append(ops, ports.WriteOp{
			Type: ports.OpDelete,
			Key:  kv.Key,
		})
		deletedCount++
	}

	if len(ops) > 0 {
		err = s.BatchWrite(ops)
	}

	return deletedCount, err
}

func (s *AppStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("closing badger storage")
	return s.db.Close()
}
