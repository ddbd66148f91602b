package steprunner

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reciperunner/reciperunner/internal/ctxstack"
	"github.com/reciperunner/reciperunner/internal/step"
)

func newTestRunner() *Runner {
	return New(nil, zerolog.Nop())
}

// TestRunReportsRealExitCode verifies a real subprocess's retcode flows
// through unchanged.
func TestRunReportsRealExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	t.Parallel()

	r := newTestRunner()
	cfg := step.StepConfig{
		NameTokens: []string{"exit_three"},
		Argv:       []string{"/bin/sh", "-c", "exit 3"},
	}

	data, err := r.Run(context.Background(), cfg, ctxstack.Frame{})
	require.NoError(t, err)
	require.NotNil(t, data.Result.Retcode)
	assert.Equal(t, 3, *data.Result.Retcode)
	assert.False(t, data.Result.Success())
}

// TestRunKillsOnTimeout verifies a step that overruns its Timeout is
// killed and reported with HadTimeout set.
func TestRunKillsOnTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell")
	}
	t.Parallel()

	r := newTestRunner()
	cfg := step.StepConfig{
		NameTokens: []string{"sleeps_forever"},
		Argv:       []string{"/bin/sh", "-c", "sleep 30"},
		Timeout:    50 * time.Millisecond,
	}

	data, err := r.Run(context.Background(), cfg, ctxstack.Frame{})
	require.NoError(t, err)
	assert.True(t, data.Result.HadTimeout)
}

// TestRunReportsUnresolvedCmd0 verifies a nonexistent argv[0] is reported
// as a data-level failure, not a Go error.
func TestRunReportsUnresolvedCmd0(t *testing.T) {
	t.Parallel()

	r := newTestRunner()
	cfg := step.StepConfig{
		NameTokens: []string{"missing"},
		Argv:       []string{"definitely-not-a-real-binary-xyz"},
	}

	data, err := r.Run(context.Background(), cfg, ctxstack.Frame{})
	require.NoError(t, err)
	assert.NotEmpty(t, data.Result.UnresolvedCmd0)
}
