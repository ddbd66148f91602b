// Package deferred implements the Deferred Results mechanism (spec.md
// §4.E): a scope in which step failures are captured into an
// AggregatedResult instead of unwinding the call stack, so a recipe can
// continue past step failures while preserving structured error
// propagation.
package deferred

import (
	"fmt"
	"strings"
	"sync"
)

// StepFailure is one captured failure inside an aggregate.
type StepFailure struct {
	NameTokens []string
	Retcode    int
	Infra      bool
	Err        error
}

func (f StepFailure) Error() string {
	return fmt.Sprintf("%v failed with retcode %d", f.NameTokens, f.Retcode)
}

// AggregatedResult accumulates successes and failures across a defer scope.
type AggregatedResult struct {
	Successes            []interface{}
	Failures             []StepFailure
	ContainsInfraFailure bool

	mu sync.Mutex
}

func (a *AggregatedResult) addSuccess(v interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Successes = append(a.Successes, v)
}

func (a *AggregatedResult) addFailure(f StepFailure) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Failures = append(a.Failures, f)
	if f.Infra {
		a.ContainsInfraFailure = true
	}
}

// AggregateFailure is raised on scope exit when any failure accumulated.
// HadTimeout is true when at least one child's Err has a Timeout() method
// that reports true. StepFailure has no timeout flag of its own, so a child
// whose Err is nil never counts as timed out, whatever its Infra value.
type AggregateFailure struct {
	Failures   []StepFailure
	HadTimeout bool
}

func (e *AggregateFailure) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = fmt.Sprintf("%s (retcode=%d)", strings.Join(f.NameTokens, "."), f.Retcode)
	}
	return fmt.Sprintf("aggregate failure: %s", strings.Join(names, ", "))
}

// DeferredResult is exactly one of {value, failure}. Accessing Value on a
// failure result re-raises (panics with the failure), mirroring the
// source's DeferredResult.value semantics.
type DeferredResult struct {
	value   interface{}
	failure error
}

func Ok(v interface{}) DeferredResult       { return DeferredResult{value: v} }
func Fail(err error) DeferredResult         { return DeferredResult{failure: err} }
func (d DeferredResult) IsFailure() bool    { return d.failure != nil }
func (d DeferredResult) FailureErr() error  { return d.failure }

// Value returns the captured value, panicking with the captured failure if
// this result represents a failure.
func (d DeferredResult) Value() interface{} {
	if d.failure != nil {
		panic(d.failure)
	}
	return d.value
}

// Scope is one open defer scope. A *Scope also serves as the thread key
// passed to Enter/Exit: the package-level active map, guarded by activeMu,
// records which keys currently have an open scope, which is how a second
// Enter on the same key is rejected (spec.md §4.E).
type Scope struct {
	parent *Scope
	result *AggregatedResult
}

var activeMu sync.Mutex
var active map[*Scope]bool = map[*Scope]bool{}

// Enter opens a new defer scope. It returns an error rather than opening
// the scope if one is already active for this logical thread of execution
// (tracked by threadKey).
func Enter(threadKey *Scope) (*Scope, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active[threadKey] {
		return nil, fmt.Errorf("cannot open a defer scope: one is already active on this thread")
	}
	s := &Scope{result: &AggregatedResult{}}
	active[threadKey] = true
	return s, nil
}

// Exit closes the scope that Enter returned, against the same threadKey.
// If any failure was captured, it raises a single AggregateFailure listing
// all inner failures; otherwise it returns nil (normal fallthrough).
func Exit(threadKey *Scope, s *Scope) *AggregateFailure {
	activeMu.Lock()
	delete(active, threadKey)
	activeMu.Unlock()

	if len(s.result.Failures) == 0 {
		return nil
	}
	hadTimeout := false
	for _, f := range s.result.Failures {
		if te, ok := f.Err.(interface{ Timeout() bool }); ok && te.Timeout() {
			hadTimeout = true
		}
	}
	return &AggregateFailure{Failures: s.result.Failures, HadTimeout: hadTimeout}
}

// Result returns the scope's accumulator, for step-like functions to record
// into.
func (s *Scope) Result() *AggregatedResult { return s.result }

// RunStepLike executes fn (a function known to be step-like: it either
// executes at least one step or raises a step-failure) and records its
// outcome into scope exactly once. fn is called directly in the caller's
// context; no sub-scope is opened for its interior.
func RunStepLike(scope *Scope, fn func() (interface{}, *StepFailure)) DeferredResult {
	v, failure := fn()
	if failure == nil {
		scope.result.addSuccess(v)
		return Ok(v)
	}
	scope.result.addFailure(*failure)
	return Fail(*failure)
}
