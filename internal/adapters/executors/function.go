package executors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"github.com/google/uuid"
)

// FunctionExecutor applies Parameters.operations, in order, to the node's
// input items. Operations are a closed set; there is no scripting.
type FunctionExecutor struct {
	clock  ports.Clock
	newID  func() string
	env    map[string]string
	logger *slog.Logger
}

type FunctionOption func(*FunctionExecutor)

func WithFunctionClock(clock ports.Clock) FunctionOption {
	return func(e *FunctionExecutor) { e.clock = clock }
}

func WithIDSource(newID func() string) FunctionOption {
	return func(e *FunctionExecutor) { e.newID = newID }
}

func NewFunctionExecutor(env map[string]string, logger *slog.Logger, opts ...FunctionOption) *FunctionExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &FunctionExecutor{
		clock:  ports.SystemClock{},
		newID:  func() string { return uuid.New().String() },
		env:    env,
		logger: logger.With("component", "function-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *FunctionExecutor) Type() domain.NodeType {
	return domain.NodeTypeFunction
}

func (e *FunctionExecutor) Execute(ctx context.Context, node *domain.Node, input []domain.Item) (ports.StepOutcome, error) {
	ops, err := e.compile(node)
	if err != nil {
		return ports.StepOutcome{}, err
	}

	items := domain.CloneItems(input)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return ports.StepOutcome{}, err
		}
		items, err = op.apply(items)
		if err != nil {
			return ports.StepOutcome{}, withNode(err, node)
		}
	}
	if items == nil {
		items = []domain.Item{}
	}
	return ports.StepOutcome{Output: items}, nil
}

func (e *FunctionExecutor) CheckParameters(node *domain.Node) error {
	_, err := e.compile(node)
	return err
}

type operation struct {
	name  string
	apply func(items []domain.Item) ([]domain.Item, error)
}

func (e *FunctionExecutor) compile(node *domain.Node) ([]operation, error) {
	specs, err := objectListParam(node.Parameters, "operations")
	if err != nil {
		return nil, parameterError(node, "%v", err)
	}

	ops := make([]operation, 0, len(specs))
	for i, spec := range specs {
		name, _ := stringParam(spec, "op")
		build, ok := operationBuilders[name]
		if !ok {
			return nil, parameterError(node, "operations[%d]: unknown op %q", i, name)
		}
		apply, err := build(e, spec)
		if err != nil {
			return nil, parameterError(node, "operations[%d] (%s): %v", i, name, err)
		}
		ops = append(ops, operation{name: name, apply: apply})
	}
	return ops, nil
}

type operationBuilder func(e *FunctionExecutor, spec map[string]any) (func([]domain.Item) ([]domain.Item, error), error)

var operationBuilders map[string]operationBuilder

func init() {
	operationBuilders = map[string]operationBuilder{
		"require":      buildRequire,
		"email":        buildEmail,
		"set":          buildSet,
		"copy":         buildCopy(false),
		"rename":       buildCopy(true),
		"remove":       buildRemove,
		"slugify":      buildSlugify,
		"generate_id":  buildGenerateID,
		"timestamp":    buildTimestamp,
		"add_duration": buildAddDuration,
		"merge":        buildMerge,
		"pick":         buildPick,
		"explode":      buildExplode,
		"collect":      buildCollect,
	}
}

// eachItem lifts a per-item transformation to the whole input list.
func eachItem(fn func(item domain.Item) (domain.Item, error)) func([]domain.Item) ([]domain.Item, error) {
	return func(items []domain.Item) ([]domain.Item, error) {
		out := make([]domain.Item, 0, len(items))
		for _, item := range items {
			if item == nil {
				item = domain.Item{}
			}
			next, err := fn(item)
			if err != nil {
				return nil, err
			}
			out = append(out, next)
		}
		return out, nil
	}
}

func requiredString(spec map[string]any, key string) (string, error) {
	value, ok := stringParam(spec, key)
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	return value, nil
}
