package ctxstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reciperunner/reciperunner/internal/step"
)

// TestPushMergesEnvWithoutReplacingSiblingKeys verifies env merge keeps
// keys from the parent frame that the overlay doesn't mention.
func TestPushMergesEnvWithoutReplacingSiblingKeys(t *testing.T) {
	t.Parallel()

	s := New(Frame{Env: map[string]step.EnvValue{"A": step.Set("1")}})
	top, release, err := s.Push(Overlay{Env: map[string]step.EnvValue{"B": step.Set("2")}})
	require.NoError(t, err)
	defer release()

	assert.Equal(t, "1", top.Env["A"].Value)
	assert.Equal(t, "2", top.Env["B"].Value)
}

// TestPushPrependsPrefixesAndAppendsSuffixes verifies the asymmetric merge
// direction spec.md §4.D requires for env_prefixes vs env_suffixes.
func TestPushPrependsPrefixesAndAppendsSuffixes(t *testing.T) {
	t.Parallel()

	s := New(Frame{
		EnvPrefixes: map[string][]string{"PATH": {"/base"}},
		EnvSuffixes: map[string][]string{"PATH": {"/base-suf"}},
	})
	top, release, err := s.Push(Overlay{
		EnvPrefixes: map[string][]string{"PATH": {"/new-pre"}},
		EnvSuffixes: map[string][]string{"PATH": {"/new-suf"}},
	})
	require.NoError(t, err)
	defer release()

	assert.Equal(t, []string{"/new-pre", "/base"}, top.EnvPrefixes["PATH"])
	assert.Equal(t, []string{"/base-suf", "/new-suf"}, top.EnvSuffixes["PATH"])
}

// TestPushIsNoopForEmptyOverlay verifies an all-absent overlay doesn't grow
// the stack depth.
func TestPushIsNoopForEmptyOverlay(t *testing.T) {
	t.Parallel()

	s := New(Frame{})
	before := s.Depth()
	_, release, err := s.Push(Overlay{})
	require.NoError(t, err)
	defer release()

	assert.Equal(t, before, s.Depth())
}

// TestReleaseRestoresExactPriorFrame verifies push-then-release is
// bit-identical to never having pushed (spec.md §8 invariant 3).
func TestReleaseRestoresExactPriorFrame(t *testing.T) {
	t.Parallel()

	s := New(Frame{Cwd: "/work", Env: map[string]step.EnvValue{"A": step.Set("1")}})
	before := s.Top()

	cwd := "/other"
	_, release, err := s.Push(Overlay{Cwd: &cwd, Env: map[string]step.EnvValue{"B": step.Set("2")}})
	require.NoError(t, err)
	release()

	assert.Equal(t, before, s.Top())
	assert.Equal(t, 1, s.Depth())
}

// TestDeletionYieldsToNonEmptyPrefix verifies the Open Question resolution:
// a "none" env value is overridden by a non-empty prefix/suffix tuple on
// the same key.
func TestDeletionYieldsToNonEmptyPrefix(t *testing.T) {
	t.Parallel()

	s := New(Frame{})
	top, release, err := s.Push(Overlay{
		Env:         map[string]step.EnvValue{"FOO": step.Delete()},
		EnvPrefixes: map[string][]string{"FOO": {"/pre"}},
	})
	require.NoError(t, err)
	defer release()

	_, stillPresent := top.Env["FOO"]
	assert.False(t, stillPresent, "deletion marker on a key with a non-empty prefix must be dropped")
	assert.Equal(t, []string{"/pre"}, top.EnvPrefixes["FOO"])
}

// TestDeletionAppliesWhenNoPrefixOrSuffix verifies the deletion path still
// works for keys that carry no prefix/suffix at all.
func TestDeletionAppliesWhenNoPrefixOrSuffix(t *testing.T) {
	t.Parallel()

	s := New(Frame{Env: map[string]step.EnvValue{"FOO": step.Set("bar")}})
	top, release, err := s.Push(Overlay{Env: map[string]step.EnvValue{"FOO": step.Delete()}})
	require.NoError(t, err)
	defer release()

	v, ok := top.Env["FOO"]
	require.True(t, ok, "deletion is recorded explicitly, not just absent")
	assert.True(t, v.Deleted)
}

// TestPushRejectsSequentialSubstitution verifies env validation rejects
// "%s" in favor of the "%(NAME)s" dictionary-style form.
func TestPushRejectsSequentialSubstitution(t *testing.T) {
	t.Parallel()

	s := New(Frame{})
	_, _, err := s.Push(Overlay{Env: map[string]step.EnvValue{"FOO": step.Set("a%sb")}})
	assert.Error(t, err)
}
