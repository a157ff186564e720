package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"github.com/eleven-am/regiflow/internal/xjson"
)

// IdempotencyLedger is a StoragePort-backed ports.IdempotencyStore. A
// reservation is a versioned write, so two deliveries racing for the same key
// cannot both win.
type IdempotencyLedger struct {
	storage ports.StoragePort
	clock   ports.Clock
	logger  *slog.Logger
}

type reservation struct {
	ExecutionID string    `json:"execution_id"`
	ReservedAt  time.Time `json:"reserved_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func NewIdempotencyLedger(storage ports.StoragePort, clock ports.Clock, logger *slog.Logger) *IdempotencyLedger {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &IdempotencyLedger{
		storage: storage,
		clock:   clock,
		logger:  logger.With("component", "idempotency-ledger"),
	}
}

func (l *IdempotencyLedger) Reserve(ctx context.Context, key, executionID string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	storageKey := domain.IdempotencyKey(key)
	record, version, exists, err := l.readRecord(storageKey)
	if err != nil {
		return "", false, err
	}

	now := l.clock.Now().UTC()
	if exists && record.ExpiresAt.After(now) {
		return record.ExecutionID, false, nil
	}

	payload, err := xjson.Marshal(reservation{
		ExecutionID: executionID,
		ReservedAt:  now,
		ExpiresAt:   now.Add(ttl),
	})
	if err != nil {
		return "", false, err
	}

	if err := l.storage.PutWithTTL(storageKey, payload, version+1, ttl); err != nil {
		if !domain.IsVersionMismatch(err) {
			return "", false, err
		}
		// Lost the race; report whoever won.
		winner, _, found, readErr := l.readRecord(storageKey)
		if readErr != nil {
			return "", false, readErr
		}
		if !found {
			return "", false, err
		}
		l.logger.Debug("idempotency reservation lost race", "key", key, "winner", winner.ExecutionID)
		return winner.ExecutionID, false, nil
	}

	return executionID, true, nil
}

// Release drops a reservation whose execution never got created.
func (l *IdempotencyLedger) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.storage.Delete(domain.IdempotencyKey(key)); err != nil && !domain.IsNotFound(err) {
		return err
	}
	return nil
}

func (l *IdempotencyLedger) readRecord(key string) (reservation, int64, bool, error) {
	value, version, exists, err := l.storage.Get(key)
	if err != nil {
		return reservation{}, 0, false, err
	}
	if !exists || len(value) == 0 {
		return reservation{}, version, false, nil
	}

	var record reservation
	if err := xjson.Unmarshal(value, &record); err != nil {
		return reservation{}, version, false, err
	}
	return record, version, true, nil
}
