package ports

import (
	"time"
)

// StoragePort is a versioned key/value store. Put with a non-zero version is
// a compare-and-set: it succeeds only when the stored version is version-1.
// Version 0 writes unconditionally and bumps the stored version.
type StoragePort interface {
	Get(key string) (value []byte, version int64, exists bool, err error)
	Put(key string, value []byte, version int64) error
	PutWithTTL(key string, value []byte, version int64, ttl time.Duration) error
	Delete(key string) error

	Exists(key string) (bool, error)
	BatchWrite(ops []WriteOp) error

	ListByPrefix(prefix string) ([]KeyValueVersion, error)
	CountPrefix(prefix string) (count int, err error)
	DeleteByPrefix(prefix string) (deletedCount int, err error)

	Close() error
}

type WriteOp struct {
	Type    OpType
	Key     string
	Value   []byte
	Version int64
	TTL     time.Duration
}

type KeyValueVersion struct {
	Key     string
	Value   []byte
	Version int64
}

type OpType int

const (
	OpPut OpType = iota
	OpDelete
)
