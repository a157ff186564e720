// Package regiflow runs declarative workflow graphs for the RegiFlow SaaS
// backend: clinic onboarding, payment webhooks and service monitoring.
//
// A workflow is a graph of trigger, function, httpRequest and conditional
// nodes. Webhooks, schedules and manual requests start executions; every
// step result is recorded and can be streamed while the execution runs.
//
// Basic usage:
//
//	manager, err := regiflow.New("./data", logger)
//	if err != nil {
//	    return err
//	}
//	defer manager.Stop()
//
//	if _, err := manager.Seed(ctx, regiflow.EmbeddedWorkflows()); err != nil {
//	    return err
//	}
//	if err := manager.Start(ctx); err != nil {
//	    return err
//	}
//	return manager.Serve(ctx)
package regiflow

import (
	"log/slog"

	"github.com/eleven-am/regiflow/internal/adapters/dispatcher"
	"github.com/eleven-am/regiflow/internal/core"
	"github.com/eleven-am/regiflow/internal/definitions"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

// Manager owns storage, the execution engine, the dispatcher, the scheduler
// and the HTTP API of one regiflow process.
type Manager = core.Manager

// Option customizes a Manager at construction time.
type Option = core.Option

// WorkflowDefinition is a versioned graph of nodes and edges.
type WorkflowDefinition = domain.WorkflowDefinition

// Node is one step of a workflow graph.
type Node = domain.Node

// Edge connects two nodes; Branch labels the edges leaving a conditional.
type Edge = domain.Edge

// NodeType selects the executor that runs a node.
type NodeType = domain.NodeType

// Item is one JSON object flowing between steps.
type Item = domain.Item

// Execution is the recorded history of one run of a workflow version.
type Execution = domain.Execution

// StepResult is the outcome of one node within an execution.
type StepResult = domain.StepResult

// ExecutionEvent is published as executions and steps progress.
type ExecutionEvent = domain.ExecutionEvent

// ExecutionFilter narrows execution listings.
type ExecutionFilter = domain.ExecutionFilter

// DispatchResult reports the execution a webhook or manual request started.
type DispatchResult = ports.DispatchResult

// ScheduleStatus describes one registered schedule.
type ScheduleStatus = dispatcher.ScheduleStatus

// Seeder supplies workflow definitions to install.
type Seeder = ports.Seeder

// SeedReport lists what an install created, updated or left alone.
type SeedReport = definitions.SeedReport

// ValidationError names the graph rule a workflow broke.
type ValidationError = domain.ValidationError

// ConfigError names the configuration field that failed validation.
type ConfigError = domain.ConfigError

const (
	NodeTypeTrigger     = domain.NodeTypeTrigger
	NodeTypeFunction    = domain.NodeTypeFunction
	NodeTypeHTTPRequest = domain.NodeTypeHTTPRequest
	NodeTypeConditional = domain.NodeTypeConditional
)

const (
	EventExecutionStarted  = domain.EventExecutionStarted
	EventExecutionFinished = domain.EventExecutionFinished
	EventStepStarted       = domain.EventStepStarted
	EventStepRetrying      = domain.EventStepRetrying
	EventStepFinished      = domain.EventStepFinished
)

const (
	ExecutionPending   = domain.ExecutionPending
	ExecutionRunning   = domain.ExecutionRunning
	ExecutionSucceeded = domain.ExecutionSucceeded
	ExecutionFailed    = domain.ExecutionFailed
)

var (
	ErrNotFound        = domain.ErrNotFound
	ErrInvalidInput    = domain.ErrInvalidInput
	ErrVersionConflict = domain.ErrVersionConflict
	ErrPathInUse       = domain.ErrPathInUse
	ErrRateLimited     = domain.ErrRateLimited
)

// New creates a manager that keeps its data under dataDir with default
// settings. See NewWithConfig for full control.
func New(dataDir string, logger *slog.Logger, opts ...Option) (*Manager, error) {
	return core.New(dataDir, logger, opts...)
}

// NewWithConfig creates a manager from a complete configuration. The
// configuration is validated first; a *ConfigError names the offending field.
//
// Example:
//
//	config := regiflow.NewConfigBuilder("./data").
//	    WithInMemoryStorage().
//	    WithServerAddr(":9090").
//	    Build()
//	manager, err := regiflow.NewWithConfig(config)
func NewWithConfig(config *Config, opts ...Option) (*Manager, error) {
	return core.NewWithConfig(config, opts...)
}

// WithIDSource replaces the generator of execution ids and generate_id
// values.
func WithIDSource(newID func() string) Option {
	return core.WithIDSource(newID)
}

// EmbeddedWorkflows returns the seeder for the onboarding, payments and
// monitoring workflows bundled with regiflow.
func EmbeddedWorkflows() Seeder {
	return definitions.Embedded{}
}

// WorkflowsFromDir returns a seeder reading every .yaml, .yml, .json and .hcl
// definition file in dir.
func WorkflowsFromDir(dir string) Seeder {
	return definitions.Dir(dir)
}

// WorkflowsFromFile returns a seeder reading one definition file.
func WorkflowsFromFile(path string) Seeder {
	return definitions.File(path)
}

// IsNotFound reports whether err means a workflow or execution is missing.
func IsNotFound(err error) bool {
	return domain.IsNotFound(err)
}

// IsValidationError reports whether err is a graph validation failure.
func IsValidationError(err error) bool {
	return domain.IsValidationError(err)
}
