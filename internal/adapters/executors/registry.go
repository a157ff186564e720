// Package executors holds the closed set of step types a workflow node can
// be: trigger, function, httpRequest and conditional.
package executors

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

type Registry struct {
	mu        sync.RWMutex
	executors map[domain.NodeType]ports.StepExecutor
}

func NewRegistry(executors ...ports.StepExecutor) *Registry {
	r := &Registry{executors: make(map[domain.NodeType]ports.StepExecutor)}
	for _, executor := range executors {
		r.Register(executor)
	}
	return r
}

func (r *Registry) Register(executor ports.StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executor.Type()] = executor
}

func (r *Registry) Get(nodeType domain.NodeType) (ports.StepExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[nodeType]
	return executor, ok
}

// CheckParameters lets the node's executor reject its parameters. It
// satisfies ports.ParameterChecker so the validator can call it.
func (r *Registry) CheckParameters(node *domain.Node) error {
	executor, ok := r.Get(node.Type)
	if !ok {
		return domain.NewValidationError(domain.RuleUnknownType, node.ID, "no executor for node type %q", node.Type)
	}
	checker, ok := executor.(ports.ParameterChecker)
	if !ok {
		return nil
	}
	return withNode(checker.CheckParameters(node), node)
}

// Dependencies are the collaborators the standard executors need.
type Dependencies struct {
	HTTPClient        *http.Client
	Breakers          ports.CircuitBreakerProvider
	HTTP              domain.HTTPConfig
	Env               map[string]string
	ConditionalPolicy domain.ConditionalPolicy
	Clock             ports.Clock
	IDSource          func() string
	Logger            *slog.Logger
}

// NewStandardRegistry registers the four built-in step types.
func NewStandardRegistry(deps Dependencies) *Registry {
	var fnOpts []FunctionOption
	if deps.Clock != nil {
		fnOpts = append(fnOpts, WithFunctionClock(deps.Clock))
	}
	if deps.IDSource != nil {
		fnOpts = append(fnOpts, WithIDSource(deps.IDSource))
	}

	return NewRegistry(
		NewTriggerExecutor(),
		NewFunctionExecutor(deps.Env, deps.Logger, fnOpts...),
		NewHTTPRequestExecutor(deps.HTTPClient, deps.Breakers, deps.Env, deps.HTTP, deps.Logger),
		NewConditionalExecutor(deps.ConditionalPolicy, deps.Logger),
	)
}
