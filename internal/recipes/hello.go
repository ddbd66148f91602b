// Package recipes holds the recipe runner's built-in recipes: Go values
// implementing recipedeps.Recipe, registered at startup. Loading recipes
// from disk is out of scope (spec.md §1), so a recipe here is compiled-in
// Go code rather than a file resolved at runtime — this package is the
// "worked example" every fresh checkout ships, exercising `run`, `test
// run`/`test train`, and the coverage gate end to end.
package recipes

import (
	"context"

	"github.com/reciperunner/reciperunner/internal/coverage"
	"github.com/reciperunner/reciperunner/internal/ctxstack"
	"github.com/reciperunner/reciperunner/internal/engine"
	"github.com/reciperunner/reciperunner/internal/recipedeps"
	"github.com/reciperunner/reciperunner/internal/simrunner"
	"github.com/reciperunner/reciperunner/internal/step"
	"github.com/reciperunner/reciperunner/internal/testdriver"
)

// hello greets whatever name the "name" property supplies (default
// "world") as a single step.
type hello struct{}

var _ recipedeps.Recipe = hello{}

// Hello returns the built-in "hello" recipe.
func Hello() recipedeps.Recipe { return hello{} }

// Register adds every built-in recipe to reg.
func Register(reg *recipedeps.Registry) {
	reg.Register(Hello())
	reg.Register(Cleanup())
}

func (hello) Name() string        { return "hello" }
func (hello) DependsOn() []string { return nil }

func (hello) ExpectationDir() string { return "recipes/tests/hello" }

func (hello) ExpectationPaths() []string {
	return []string{"recipes/tests/hello/basic.expected.json"}
}

// Run is this recipe's RunSteps(api) entry point (spec.md §4.G).
func (hello) Run(ctx context.Context, eng *engine.Engine, properties map[string]string) error {
	name := properties["name"]
	if name == "" {
		name = "world"
	}
	_, err := eng.RunStep(ctx, step.StepConfig{
		NameTokens: []string{"greet"},
		Argv:       []string{"echo", "hello, " + name},
	})
	return err
}

// fixtureData is the canned step outcome "hello"'s simulated runs replay:
// a clean exit from the one step Run ever issues.
func (hello) fixtureData() *simrunner.TestData {
	return simrunner.NewTestData().Step(
		simrunner.StepOutcome{Result: step.ExecutionResult{Retcode: step.IntPtr(0)}},
		"greet",
	)
}

// GenTests emits "hello"'s one simulated test case (spec.md §4.I item 2).
func (h hello) GenTests() []testdriver.TestDescription {
	return []testdriver.TestDescription{
		{
			Name:       "hello.basic",
			RecipeName: "hello",
			Data:       h.fixtureData(),
			Drive: func(eng *engine.Engine) error {
				return h.Run(context.Background(), eng, map[string]string{"name": "test"})
			},
		},
	}
}

// CoverageModules declares "hello"'s expected-covered call sites as exactly
// the ones its own GenTests fixture drives Run through once: a recipe's own
// test is the baseline for what "fully covered" means for that recipe, so a
// later change that stops exercising a line its test covers is a real
// regression, not a false positive.
func (h hello) CoverageModules() []coverage.Module {
	eng := engine.New(simrunner.New(h.fixtureData()), ctxstack.Frame{})
	_ = h.Run(context.Background(), eng, map[string]string{"name": "test"})

	shard := eng.CoverageShard()
	modules := make([]coverage.Module, 0, len(shard.Lines))
	for path, lines := range shard.Lines {
		modules = append(modules, coverage.Module{Path: path, CoveredLines: lines})
	}
	return modules
}
