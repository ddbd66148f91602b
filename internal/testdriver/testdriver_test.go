package testdriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reciperunner/reciperunner/internal/engine"
	"github.com/reciperunner/reciperunner/internal/simrunner"
	"github.com/reciperunner/reciperunner/internal/step"
)

func stepConfig() step.StepConfig {
	return step.StepConfig{NameTokens: []string{"build"}, Argv: []string{"build"}}
}

// TestCompileFilterMatchesGlobStar verifies "*" matches any run of
// characters, including across the whole name.
func TestCompileFilterMatchesGlobStar(t *testing.T) {
	t.Parallel()

	re, err := CompileFilter("build_*")
	require.NoError(t, err)
	assert.True(t, re.MatchString("build_linux"))
	assert.False(t, re.MatchString("test_linux"))
}

// TestCompileFilterEmptyMatchesEverything verifies an empty filter string
// compiles to a nil matcher (no filtering).
func TestCompileFilterEmptyMatchesEverything(t *testing.T) {
	t.Parallel()

	re, err := CompileFilter("")
	require.NoError(t, err)
	assert.Nil(t, re)
}

// TestOutcomeStatusFollowsPrecedence verifies FIELD_TO_DISPLAY precedence:
// an internal error outranks a diff even when both are present.
func TestOutcomeStatusFollowsPrecedence(t *testing.T) {
	t.Parallel()

	o := Outcome{InternalError: assertError{}, Diff: "something changed"}
	assert.Equal(t, "internal_error", o.Status())
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

// TestRunReportsBadTestForUnmockedStep verifies a recipe driving a step
// with no fixture entry surfaces as a bad_test outcome, not a crash.
func TestRunReportsBadTestForUnmockedStep(t *testing.T) {
	t.Parallel()

	data := simrunner.NewTestData() // deliberately empty
	desc := TestDescription{
		Name: "missing_fixture",
		Data: data,
		Drive: func(eng *engine.Engine) error {
			_, err := eng.RunStep(context.Background(), stepConfig())
			return err
		},
	}

	outcomes, _, err := Run(context.Background(), Options{Workers: 1, ExpectDir: t.TempDir()}, []TestDescription{desc})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "bad_test", outcomes[0].Status())
}

// TestRunTrainWritesNewExpectation verifies a first-time run under --train
// writes an expectation file instead of reporting a diff.
func TestRunTrainWritesNewExpectation(t *testing.T) {
	t.Parallel()

	data := simrunner.NewTestData().Step(simrunner.StepOutcome{}, "build")
	desc := TestDescription{
		Name: "fresh_case",
		Data: data,
		Drive: func(eng *engine.Engine) error {
			_, err := eng.RunStep(context.Background(), stepConfig())
			return err
		},
	}

	outcomes, _, err := Run(context.Background(), Options{Workers: 1, ExpectDir: t.TempDir(), Train: true}, []TestDescription{desc})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Written)
}
