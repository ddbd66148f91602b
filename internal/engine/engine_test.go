package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reciperunner/reciperunner/internal/ctxstack"
	"github.com/reciperunner/reciperunner/internal/deferred"
	"github.com/reciperunner/reciperunner/internal/step"
)

type fakeRunner struct {
	result step.ExecutionResult
}

func (f fakeRunner) Run(_ context.Context, cfg step.StepConfig, _ ctxstack.Frame) (*step.Data, error) {
	return &step.Data{Config: cfg, Result: f.result, Presentation: step.NewPresentation()}, nil
}

// TestRunStepAttachesToTopLevelWhenNoParentOpen verifies a bare RunStep
// call becomes a top-level step.
func TestRunStepAttachesToTopLevelWhenNoParentOpen(t *testing.T) {
	t.Parallel()

	eng := New(fakeRunner{result: step.ExecutionResult{Retcode: step.IntPtr(0)}}, ctxstack.Frame{})
	_, err := eng.RunStep(context.Background(), step.StepConfig{NameTokens: []string{"build"}, Argv: []string{"x"}})
	require.NoError(t, err)

	assert.Len(t, eng.TopSteps(), 1)
}

// TestParentStepNestsChildrenUnderIt verifies steps run while a parent step
// is open become its Children, not new top-level steps.
func TestParentStepNestsChildrenUnderIt(t *testing.T) {
	t.Parallel()

	eng := New(fakeRunner{result: step.ExecutionResult{Retcode: step.IntPtr(0)}}, ctxstack.Frame{})

	parent, release, err := eng.ParentStep([]string{"group"})
	require.NoError(t, err)

	_, err = eng.RunStep(context.Background(), step.StepConfig{NameTokens: []string{"group", "child"}, Argv: []string{"x"}})
	require.NoError(t, err)
	release()

	assert.Len(t, eng.TopSteps(), 1)
	assert.Len(t, parent.Children, 1)
}

// TestRunDeferredAggregatesStepLikeFailures verifies RunDeferred surfaces a
// single AggregateFailure for failures captured via deferred.RunStepLike.
func TestRunDeferredAggregatesStepLikeFailures(t *testing.T) {
	t.Parallel()

	eng := New(fakeRunner{}, ctxstack.Frame{})

	agg := eng.RunDeferred(func(scope *deferred.Scope) {
		deferred.RunStepLike(scope, func() (interface{}, *deferred.StepFailure) {
			return nil, &deferred.StepFailure{NameTokens: []string{"a"}, Retcode: 1}
		})
	})

	require.NotNil(t, agg)
	assert.Len(t, agg.Failures, 1)
}

// TestRunDeferredReturnsNilWithoutFailures verifies a clean defer scope
// closes without raising.
func TestRunDeferredReturnsNilWithoutFailures(t *testing.T) {
	t.Parallel()

	eng := New(fakeRunner{}, ctxstack.Frame{})
	agg := eng.RunDeferred(func(scope *deferred.Scope) {
		deferred.RunStepLike(scope, func() (interface{}, *deferred.StepFailure) {
			return "ok", nil
		})
	})
	assert.Nil(t, agg)
}

// TestCoverageShardRecordsOneHitPerRunStepCallSite verifies each distinct
// RunStep call site accumulates its own line hit, and a call site invoked
// twice is still just one hit (coverage is presence, not a count).
func TestCoverageShardRecordsOneHitPerRunStepCallSite(t *testing.T) {
	t.Parallel()

	eng := New(fakeRunner{result: step.ExecutionResult{Retcode: step.IntPtr(0)}}, ctxstack.Frame{})

	runTwice := func() {
		_, err := eng.RunStep(context.Background(), step.StepConfig{NameTokens: []string{"a"}, Argv: []string{"x"}})
		require.NoError(t, err)
	}
	runTwice()
	runTwice()

	shard := eng.CoverageShard()
	require.NotNil(t, shard)
	hits := 0
	for _, lines := range shard.Lines {
		hits += len(lines)
	}
	assert.Equal(t, 1, hits)
}
