package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestValidateRejectsEmptyArgv verifies the core §3 invariant that a step
// must have a non-empty argv.
func TestValidateRejectsEmptyArgv(t *testing.T) {
	t.Parallel()

	err := StepConfig{NameTokens: []string{"x"}}.Validate()
	assert.Error(t, err)
}

// TestValidateAllowsDictionaryStyleSubstitution verifies "%(NAME)s" passes
// validation while a bare "%s" does not.
func TestValidateAllowsDictionaryStyleSubstitution(t *testing.T) {
	t.Parallel()

	ok := StepConfig{
		NameTokens: []string{"x"},
		Argv:       []string{"echo"},
		Env:        map[string]EnvValue{"A": Set("%(HOME)s")},
	}
	assert.NoError(t, ok.Validate())

	bad := StepConfig{
		NameTokens: []string{"x"},
		Argv:       []string{"echo"},
		Env:        map[string]EnvValue{"A": Set("%s")},
	}
	assert.Error(t, bad.Validate())
}

// TestExecutionResultSuccessRequiresCleanExit verifies Success is false for
// a timeout or cancellation even with a zero retcode.
func TestExecutionResultSuccessRequiresCleanExit(t *testing.T) {
	t.Parallel()

	clean := ExecutionResult{Retcode: IntPtr(0)}
	assert.True(t, clean.Success())

	timedOut := ExecutionResult{Retcode: IntPtr(0), HadTimeout: true}
	assert.False(t, timedOut.Success())

	canceled := ExecutionResult{Retcode: IntPtr(0), WasCanceled: true}
	assert.False(t, canceled.Success())
}

// TestPropertyValueStringFormatsEachKind verifies String renders a
// reasonable representation for each tagged-variant kind.
func TestPropertyValueStringFormatsEachKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hi", PVString("hi").String())
	assert.Equal(t, "3", PVInt(3).String())
	assert.Equal(t, "true", PVBool(true).String())
	assert.Equal(t, "1.5", PVFloat(1.5).String())
	assert.Equal(t, "[a 2]", PVList([]PropertyValue{PVString("a"), PVInt(2)}).String())
	assert.Equal(t, "map[k:v]", PVMap(map[string]PropertyValue{"k": PVString("v")}).String())
}
