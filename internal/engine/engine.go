// Package engine implements the Recipe Engine (spec.md §4.G): it owns the
// context stack for one recipe run, tracks the chain of currently-active
// (possibly nested) steps, and drives each RunStep/parent-step call through
// whichever StepRunner (internal/steprunner or internal/simrunner) the run
// was configured with.
//
// Grounded on the teacher's runtime/executor/engine.go run-loop shape
// (stack ownership + active-frame chain) generalized from opal's
// task-graph model to this spec's flat recipe-step model, and on
// original_source/recipe_engine/recipe_api.py for the parent_step /
// uncaught-exception-capture semantics.
package engine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/google/uuid"

	"github.com/reciperunner/reciperunner/internal/coverage"
	"github.com/reciperunner/reciperunner/internal/ctxstack"
	"github.com/reciperunner/reciperunner/internal/deferred"
	"github.com/reciperunner/reciperunner/internal/step"
)

// StepRunner is satisfied by both internal/steprunner.Runner and
// internal/simrunner.Runner.
type StepRunner interface {
	Run(ctx context.Context, cfg step.StepConfig, frame ctxstack.Frame) (*step.Data, error)
}

// activeStep is one entry in the engine's currently-open step chain; a
// parent step's Children accumulate the StepData of steps opened beneath
// it, per spec.md's step-nesting model.
type activeStep struct {
	data   *step.Data
	parent *activeStep
}

// Engine drives one recipe run end to end.
type Engine struct {
	RunID string

	runner StepRunner
	stack  *ctxstack.Stack

	current *activeStep // nil at top level

	steps []*step.Data // top-level steps, in order

	// deferKey identifies this engine's single logical thread of execution
	// to internal/deferred, so at most one defer scope can be open at a
	// time (spec.md §4.E).
	deferKey *deferred.Scope

	// shard records, for every RunStep call, the recipe source line that
	// invoked it — this engine's stand-in for coverage.py's line tracer,
	// since the recipe "program" being covered is the Go code driving the
	// engine rather than a separately interpreted script.
	shard *coverage.Shard
}

// New creates an Engine for a single run, stamping a fresh run ID (spec.md
// §4.G: "each run is stamped with a unique identifier for correlating logs
// and coverage shards across workers").
func New(runner StepRunner, root ctxstack.Frame) *Engine {
	return &Engine{
		RunID:    uuid.NewString(),
		runner:   runner,
		stack:    ctxstack.New(root),
		deferKey: &deferred.Scope{},
		shard:    coverage.NewShard(),
	}
}

// RunStep executes cfg as a single step against the engine's current
// top-of-stack context, attaching it as a child of whatever step is
// currently active (or as a new top-level step if none is).
func (e *Engine) RunStep(ctx context.Context, cfg step.StepConfig) (*step.Data, error) {
	if _, file, line, ok := runtime.Caller(1); ok {
		e.shard.Hit(file, line)
	}

	data, err := e.runner.Run(ctx, cfg, e.stack.Top())
	if err != nil {
		return nil, err
	}
	e.attach(data)
	return data, nil
}

// CoverageShard returns the set of recipe-code call sites that drove a step
// during this run, for testdriver to merge into the batch's overall
// coverage.Shard.
func (e *Engine) CoverageShard() *coverage.Shard {
	return e.shard
}

func (e *Engine) attach(data *step.Data) {
	if e.current != nil {
		e.current.data.Children = append(e.current.data.Children, data)
		return
	}
	e.steps = append(e.steps, data)
}

// ParentStep opens a grouping ("parent") step: a step.Data with no argv of
// its own that exists only to nest child steps underneath it in the report.
// The returned Release must be called (typically via defer) to close the
// parent step and restore the previous active-step chain.
func (e *Engine) ParentStep(nameTokens []string) (*step.Data, func(), error) {
	data := &step.Data{
		Config:       step.StepConfig{NameTokens: nameTokens},
		Presentation: step.NewPresentation(),
	}
	e.attach(data)

	prev := e.current
	e.current = &activeStep{data: data, parent: prev}

	closed := false
	release := func() {
		if closed {
			return
		}
		closed = true
		e.current = prev
	}
	return data, release, nil
}

// PushContext overlays overlay onto the engine's context stack for the
// duration of the caller's scope; it is a thin pass-through to
// ctxstack.Stack.Push so engine callers never touch the stack directly.
func (e *Engine) PushContext(overlay ctxstack.Overlay) (ctxstack.Frame, ctxstack.Release, error) {
	return e.stack.Push(overlay)
}

// TopSteps returns the run's top-level step records, in execution order.
func (e *Engine) TopSteps() []*step.Data {
	return append([]*step.Data(nil), e.steps...)
}

// RunDeferred runs fn inside a new defer scope: step failures raised by fn
// (via deferred.RunStepLike) are captured into an AggregatedResult instead
// of unwinding, and are re-raised as a single *deferred.AggregateFailure
// when the scope closes, per spec.md §4.E. This is the engine's
// "uncaught-exception capture, not propagation" contract: an uncaught Go
// panic inside fn is deliberately NOT recovered here — only StepFailures
// routed through deferred.RunStepLike are aggregated, matching the
// original's distinction between expected step failures and genuine bugs.
func (e *Engine) RunDeferred(fn func(scope *deferred.Scope)) *deferred.AggregateFailure {
	scope, err := deferred.Enter(e.deferKey)
	if err != nil {
		panic(fmt.Sprintf("engine %s: %v", e.RunID, err))
	}
	fn(scope)
	return deferred.Exit(e.deferKey, scope)
}
