package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"github.com/eleven-am/regiflow/internal/xjson"
	"github.com/google/uuid"
)

// ActivationListener is told about every workflow whose active state changed.
type ActivationListener func(def *domain.WorkflowDefinition)

// WorkflowRepository stores workflow heads and immutable per-version
// snapshots on a StoragePort.
type WorkflowRepository struct {
	storage   ports.StoragePort
	validator ports.Validator
	clock     ports.Clock
	logger    *slog.Logger

	// activation serialises SetActive so the webhook path check and the
	// write cannot interleave.
	activation sync.Mutex

	listenersMu sync.RWMutex
	listeners   []ActivationListener
}

func NewWorkflowRepository(storage ports.StoragePort, validator ports.Validator, clock ports.Clock, logger *slog.Logger) *WorkflowRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &WorkflowRepository{
		storage:   storage,
		validator: validator,
		clock:     clock,
		logger:    logger.With("component", "workflow-repository"),
	}
}

func (r *WorkflowRepository) OnActivationChange(listener ActivationListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, listener)
}

func (r *WorkflowRepository) Create(ctx context.Context, def *domain.WorkflowDefinition) (*domain.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if def == nil {
		return nil, fmt.Errorf("workflow definition is nil: %w", domain.ErrInvalidInput)
	}

	created := def.Clone()
	if strings.TrimSpace(created.ID) == "" {
		created.ID = uuid.New().String()
	}
	now := r.clock.Now().UTC()
	created.Version = 1
	created.Active = false
	created.CreatedAt = now
	created.UpdatedAt = now

	payload, err := xjson.Marshal(created)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow %s: %w", created.ID, err)
	}

	err = r.storage.BatchWrite([]ports.WriteOp{
		{Type: ports.OpPut, Key: domain.WorkflowHeadKey(created.ID), Value: payload, Version: 1},
		{Type: ports.OpPut, Key: domain.WorkflowSnapshotKey(created.ID, 1), Value: payload, Version: 1},
	})
	if err != nil {
		if domain.IsVersionMismatch(err) {
			return nil, fmt.Errorf("workflow %s already exists: %w", created.ID, domain.ErrVersionConflict)
		}
		return nil, fmt.Errorf("failed to store workflow %s: %w", created.ID, err)
	}

	r.logger.Info("workflow created", "workflow_id", created.ID, "name", created.Name)
	return created, nil
}

// Update stores def as the next version. It fails with ErrVersionConflict
// unless the stored version is expectedVersion, and always leaves the
// workflow inactive.
func (r *WorkflowRepository) Update(ctx context.Context, def *domain.WorkflowDefinition, expectedVersion int64) (*domain.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if def == nil {
		return nil, fmt.Errorf("workflow definition is nil: %w", domain.ErrInvalidInput)
	}

	head, storageVersion, err := r.readHead(def.ID)
	if err != nil {
		return nil, err
	}
	if head.Version != expectedVersion {
		return nil, fmt.Errorf("workflow %s is at version %d, expected %d: %w",
			def.ID, head.Version, expectedVersion, domain.ErrVersionConflict)
	}

	next := def.Clone()
	next.Version = head.Version + 1
	next.Active = false
	next.CreatedAt = head.CreatedAt
	next.UpdatedAt = r.clock.Now().UTC()

	payload, err := xjson.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow %s: %w", next.ID, err)
	}

	ops := []ports.WriteOp{
		{Type: ports.OpPut, Key: domain.WorkflowHeadKey(next.ID), Value: payload, Version: storageVersion + 1},
		{Type: ports.OpPut, Key: domain.WorkflowSnapshotKey(next.ID, next.Version), Value: payload, Version: 1},
	}
	if head.Active {
		release, err := r.releasePath(head)
		if err != nil {
			return nil, err
		}
		ops = append(ops, release...)
	}

	err = r.storage.BatchWrite(ops)
	if err != nil {
		if domain.IsVersionMismatch(err) {
			return nil, fmt.Errorf("workflow %s changed concurrently: %w", next.ID, domain.ErrVersionConflict)
		}
		return nil, fmt.Errorf("failed to store workflow %s: %w", next.ID, err)
	}

	r.logger.Info("workflow updated",
		"workflow_id", next.ID,
		"version", next.Version,
		"was_active", head.Active)

	if head.Active {
		r.notify(next)
	}
	return next, nil
}

func (r *WorkflowRepository) Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	head, _, err := r.readHead(id)
	return head, err
}

// GetVersion returns a stored snapshot. Active reflects the head only when
// version is the current one.
func (r *WorkflowRepository) GetVersion(ctx context.Context, id string, version int64) (*domain.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value, _, exists, err := r.storage.Get(domain.WorkflowSnapshotKey(id, version))
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s@%d: %w", id, version, err)
	}
	if !exists {
		return nil, fmt.Errorf("workflow %s@%d: %w", id, version, domain.ErrNotFound)
	}

	var snapshot domain.WorkflowDefinition
	if err := xjson.Unmarshal(value, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s@%d: %w", id, version, err)
	}

	snapshot.Active = false
	if head, _, err := r.readHead(id); err == nil && head.Version == version {
		snapshot.Active = head.Active
	}
	return &snapshot, nil
}

func (r *WorkflowRepository) List(ctx context.Context) ([]*domain.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kvs, err := r.storage.ListByPrefix(domain.WorkflowHeadPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]*domain.WorkflowDefinition, 0, len(kvs))
	for _, kv := range kvs {
		var def domain.WorkflowDefinition
		if err := xjson.Unmarshal(kv.Value, &def); err != nil {
			r.logger.Warn("skipping undecodable workflow head", "key", kv.Key, "error", err)
			continue
		}
		workflows = append(workflows, &def)
	}
	return workflows, nil
}

// SetActive flips the active flag on the current version. Activation
// validates the graph and refuses a webhook path another active workflow
// already owns.
func (r *WorkflowRepository) SetActive(ctx context.Context, id string, active bool) (*domain.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.activation.Lock()
	defer r.activation.Unlock()

	head, storageVersion, err := r.readHead(id)
	if err != nil {
		return nil, err
	}
	if head.Active == active {
		return head, nil
	}

	ops := make([]ports.WriteOp, 0, 3)
	if active {
		if err := r.validate(head); err != nil {
			return nil, err
		}
		claim, err := r.claimPath(head)
		if err != nil {
			return nil, err
		}
		ops = append(ops, claim...)
		ops = append(ops, ports.WriteOp{
			Type:  ports.OpPut,
			Key:   domain.WorkflowValidatedKey(head.ID, head.Version),
			Value: []byte("1"),
		})
	} else {
		release, err := r.releasePath(head)
		if err != nil {
			return nil, err
		}
		ops = append(ops, release...)
	}

	updated := head.Clone()
	updated.Active = active
	updated.UpdatedAt = r.clock.Now().UTC()

	payload, err := xjson.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow %s: %w", id, err)
	}
	ops = append(ops, ports.WriteOp{
		Type:    ports.OpPut,
		Key:     domain.WorkflowHeadKey(id),
		Value:   payload,
		Version: storageVersion + 1,
	})

	if err := r.storage.BatchWrite(ops); err != nil {
		if domain.IsVersionMismatch(err) {
			return nil, fmt.Errorf("workflow %s changed concurrently: %w", id, domain.ErrVersionConflict)
		}
		return nil, fmt.Errorf("failed to store workflow %s: %w", id, err)
	}

	r.logger.Info("workflow activation changed",
		"workflow_id", id,
		"version", updated.Version,
		"active", active)

	r.notify(updated)
	return updated, nil
}

// GetValidatedWorkflow returns the (id, version) snapshot once it has passed
// validation. An unseen version is validated on first read and remembered.
func (r *WorkflowRepository) GetValidatedWorkflow(ctx context.Context, id string, version int64) (*domain.WorkflowDefinition, error) {
	snapshot, err := r.GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}

	validatedKey := domain.WorkflowValidatedKey(id, version)
	marked, err := r.storage.Exists(validatedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read validation marker for %s@%d: %w", id, version, err)
	}
	if marked {
		return snapshot, nil
	}

	if err := r.validate(snapshot); err != nil {
		return nil, err
	}
	if err := r.storage.Put(validatedKey, []byte("1"), 0); err != nil {
		return nil, fmt.Errorf("failed to store validation marker for %s@%d: %w", id, version, err)
	}
	return snapshot, nil
}

// FindByWebhookPath returns the active workflow owning path, or the most
// recently updated inactive one when no active workflow claims it. Active
// owners are found through the path index; only a miss scans the heads.
func (r *WorkflowRepository) FindByWebhookPath(ctx context.Context, path string) (*domain.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	owner, err := r.pathOwner(path)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return owner, nil
	}

	workflows, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var inactive *domain.WorkflowDefinition
	for _, def := range workflows {
		owned, ok := def.WebhookPath()
		if !ok || owned != path || def.Active {
			continue
		}
		if inactive == nil || def.UpdatedAt.After(inactive.UpdatedAt) {
			inactive = def
		}
	}
	if inactive != nil {
		return inactive, nil
	}
	return nil, fmt.Errorf("webhook path %q: %w", path, domain.ErrNotFound)
}

func (r *WorkflowRepository) validate(def *domain.WorkflowDefinition) error {
	if r.validator == nil {
		return nil
	}
	if err := r.validator.Validate(def); err != nil {
		r.logger.Warn("workflow failed validation",
			"workflow_id", def.ID,
			"version", def.Version,
			"error", err)
		return err
	}
	return nil
}

// claimPath returns the index write that makes def the owner of its webhook
// path, or ErrPathInUse when another active workflow owns it.
func (r *WorkflowRepository) claimPath(def *domain.WorkflowDefinition) ([]ports.WriteOp, error) {
	path, ok := def.WebhookPath()
	if !ok {
		return nil, nil
	}

	owner, err := r.pathOwner(path)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.ID != def.ID {
		return nil, fmt.Errorf("path %q is owned by workflow %s: %w", path, owner.ID, domain.ErrPathInUse)
	}
	return []ports.WriteOp{{Type: ports.OpPut, Key: domain.WebhookPathKey(path), Value: []byte(def.ID)}}, nil
}

// releasePath returns the index delete for def's webhook path when def is
// the recorded owner.
func (r *WorkflowRepository) releasePath(def *domain.WorkflowDefinition) ([]ports.WriteOp, error) {
	path, ok := def.WebhookPath()
	if !ok {
		return nil, nil
	}

	key := domain.WebhookPathKey(path)
	value, _, exists, err := r.storage.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook path index %q: %w", path, err)
	}
	if !exists || string(value) != def.ID {
		return nil, nil
	}
	return []ports.WriteOp{{Type: ports.OpDelete, Key: key}}, nil
}

// pathOwner follows the path index to the active workflow owning path. An
// entry whose workflow is gone, inactive or now on another path yields nil.
func (r *WorkflowRepository) pathOwner(path string) (*domain.WorkflowDefinition, error) {
	value, _, exists, err := r.storage.Get(domain.WebhookPathKey(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook path index %q: %w", path, err)
	}
	if !exists {
		return nil, nil
	}

	owner, _, err := r.readHead(string(value))
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if owned, ok := owner.WebhookPath(); !owner.Active || !ok || owned != path {
		return nil, nil
	}
	return owner, nil
}

func (r *WorkflowRepository) readHead(id string) (*domain.WorkflowDefinition, int64, error) {
	value, storageVersion, exists, err := r.storage.Get(domain.WorkflowHeadKey(id))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}
	if !exists {
		return nil, 0, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}

	var def domain.WorkflowDefinition
	if err := xjson.Unmarshal(value, &def); err != nil {
		return nil, 0, fmt.Errorf("failed to decode workflow %s: %w", id, err)
	}
	return &def, storageVersion, nil
}

func (r *WorkflowRepository) notify(def *domain.WorkflowDefinition) {
	r.listenersMu.RLock()
	listeners := append([]ActivationListener(nil), r.listeners...)
	r.listenersMu.RUnlock()

	for _, listener := range listeners {
		listener(def.Clone())
	}
}
