package recipes

import (
	"context"

	"github.com/reciperunner/reciperunner/internal/coverage"
	"github.com/reciperunner/reciperunner/internal/ctxstack"
	"github.com/reciperunner/reciperunner/internal/deferred"
	"github.com/reciperunner/reciperunner/internal/engine"
	"github.com/reciperunner/reciperunner/internal/recipedeps"
	"github.com/reciperunner/reciperunner/internal/simrunner"
	"github.com/reciperunner/reciperunner/internal/step"
	"github.com/reciperunner/reciperunner/internal/testdriver"
)

// cleanup removes two scratch paths as independent deferred steps: a failure
// in one must not skip the other, and both failures are reported together on
// scope exit.
type cleanup struct{}

var _ recipedeps.Recipe = cleanup{}

// Cleanup returns the built-in "cleanup" recipe.
func Cleanup() recipedeps.Recipe { return cleanup{} }

func (cleanup) Name() string        { return "cleanup" }
func (cleanup) DependsOn() []string { return nil }

func (cleanup) ExpectationDir() string { return "recipes/tests/cleanup" }

func (cleanup) ExpectationPaths() []string {
	return []string{"recipes/tests/cleanup/both_fail.expected.json"}
}

// Run is this recipe's RunSteps(api) entry point (spec.md §4.G). Both
// removals run inside a single defer scope, so a failed "remove_tmp" does not
// prevent "purge_cache" from also running.
func (cleanup) Run(ctx context.Context, eng *engine.Engine, _ map[string]string) error {
	agg := eng.RunDeferred(func(scope *deferred.Scope) {
		deferred.RunStepLike(scope, func() (interface{}, *deferred.StepFailure) {
			return runDeferredStep(ctx, eng, []string{"remove_tmp"}, []string{"rm", "-rf", "/tmp/recipe-cleanup"})
		})
		deferred.RunStepLike(scope, func() (interface{}, *deferred.StepFailure) {
			return runDeferredStep(ctx, eng, []string{"purge_cache"}, []string{"rm", "-rf", "/var/cache/recipe-cleanup"})
		})
	})
	if agg != nil {
		return agg
	}
	return nil
}

// runDeferredStep runs one step and translates a non-zero or infra result
// into a *deferred.StepFailure, the shape deferred.RunStepLike expects of a
// step-like function.
func runDeferredStep(ctx context.Context, eng *engine.Engine, nameTokens, argv []string) (interface{}, *deferred.StepFailure) {
	data, err := eng.RunStep(ctx, step.StepConfig{NameTokens: nameTokens, Argv: argv})
	if err != nil {
		return nil, &deferred.StepFailure{NameTokens: nameTokens, Retcode: -1, Infra: true, Err: err}
	}
	if data.Result.Success() {
		return data, nil
	}
	retcode := 0
	if data.Result.Retcode != nil {
		retcode = *data.Result.Retcode
	}
	return nil, &deferred.StepFailure{NameTokens: nameTokens, Retcode: retcode, Infra: data.Result.Infra()}
}

// fixtureData is the canned outcome "cleanup"'s simulated run replays: both
// removals fail, with the distinct retcodes spec.md §8 S6 names.
func (cleanup) fixtureData() *simrunner.TestData {
	return simrunner.NewTestData().
		Step(simrunner.StepOutcome{Result: step.ExecutionResult{Retcode: step.IntPtr(1)}}, "remove_tmp").
		Step(simrunner.StepOutcome{Result: step.ExecutionResult{Retcode: step.IntPtr(2)}}, "purge_cache")
}

// GenTests emits "cleanup"'s one simulated test case (spec.md §4.I item 2):
// both steps fail, exercising the aggregate-failure path end to end.
func (c cleanup) GenTests() []testdriver.TestDescription {
	return []testdriver.TestDescription{
		{
			Name:       "cleanup.both_fail",
			RecipeName: "cleanup",
			Data:       c.fixtureData(),
			Drive: func(eng *engine.Engine) error {
				// Both steps failing is this test's expected outcome, captured
				// via the recorded step retcodes rather than Drive's error
				// return, so the aggregate failure Run raises is not treated
				// as a test-harness error.
				_ = c.Run(context.Background(), eng, nil)
				return nil
			},
		},
	}
}

// CoverageModules declares "cleanup"'s expected-covered call sites as
// exactly the ones its own GenTests fixture drives Run through once.
func (c cleanup) CoverageModules() []coverage.Module {
	eng := engine.New(simrunner.New(c.fixtureData()), ctxstack.Frame{})
	_ = c.Run(context.Background(), eng, nil)

	shard := eng.CoverageShard()
	modules := make([]coverage.Module, 0, len(shard.Lines))
	for path, lines := range shard.Lines {
		modules = append(modules, coverage.Module{Path: path, CoveredLines: lines})
	}
	return modules
}
