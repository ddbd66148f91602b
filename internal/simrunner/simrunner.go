// Package simrunner implements the Simulation Step Runner (spec.md §4.H):
// a drop-in replacement for internal/steprunner that never spawns a real
// process. Each step's outcome is looked up in a TestData fixture keyed by
// its dotted name-token path; a step with no matching fixture entry is a
// "bad test" failure, not a panic, so the test driver can report it as a
// structured expectation mismatch.
//
// Grounded on original_source/recipe_engine/internal/test/execute_test_case.py
// (the simulation runner's steps_ran bookkeeping and "step wasn't mocked"
// bad-test classification).
package simrunner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/reciperunner/reciperunner/internal/ctxstack"
	"github.com/reciperunner/reciperunner/internal/step"
)

// StepOutcome is the canned result a TestData fixture supplies for one step.
type StepOutcome struct {
	Result       step.ExecutionResult
	Stdout       string
	Stderr       string
	Placeholders map[string]string
}

// BadTestError reports a step for which no fixture entry exists: the recipe
// under test drove a step the expectation file never described.
type BadTestError struct {
	NameTokens []string
}

func (e *BadTestError) Error() string {
	return fmt.Sprintf("bad test: no fixture data for step %q", strings.Join(e.NameTokens, "."))
}

// TestData is one test case's full fixture: every step it expects to run,
// keyed by the dotted join of its name tokens.
type TestData struct {
	mu       sync.Mutex
	outcomes map[string]StepOutcome
}

// NewTestData creates an empty fixture; use Step to populate it.
func NewTestData() *TestData {
	return &TestData{outcomes: map[string]StepOutcome{}}
}

// Step registers the canned outcome for the step at nameTokens, returning td
// for chaining (mirrors the teacher's fluent test-data builders).
func (td *TestData) Step(outcome StepOutcome, nameTokens ...string) *TestData {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.outcomes[strings.Join(nameTokens, ".")] = outcome
	return td
}

func (td *TestData) lookup(nameTokens []string) (StepOutcome, bool) {
	td.mu.Lock()
	defer td.mu.Unlock()
	o, ok := td.outcomes[strings.Join(nameTokens, ".")]
	return o, ok
}

// Runner replays TestData instead of spawning real processes.
type Runner struct {
	data *TestData

	mu      sync.Mutex
	stepsRan []string
}

// New creates a simulation runner bound to data.
func New(data *TestData) *Runner {
	return &Runner{data: data}
}

// StepsRan returns the dotted name-token path of every step Run was called
// with, in call order — the append-only record spec.md §4.H requires for
// computing unused fixture entries.
func (r *Runner) StepsRan() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stepsRan...)
}

// Run looks up cfg's canned outcome and returns it as step.Data, recording
// the attempt in StepsRan regardless of whether a fixture entry existed.
// ctx and frame are accepted for interface parity with
// internal/steprunner.Runner.Run but have no effect: simulated steps never
// construct a real environment or respect cancellation.
func (r *Runner) Run(_ context.Context, cfg step.StepConfig, _ ctxstack.Frame) (*step.Data, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key := strings.Join(cfg.NameTokens, ".")
	r.mu.Lock()
	r.stepsRan = append(r.stepsRan, key)
	r.mu.Unlock()

	outcome, ok := r.data.lookup(cfg.NameTokens)
	if !ok {
		return nil, &BadTestError{NameTokens: cfg.NameTokens}
	}

	data := &step.Data{
		Config:       cfg,
		Result:       outcome.Result,
		Presentation: step.NewPresentation(),
		Placeholders: outcome.Placeholders,
	}
	return data, nil
}
