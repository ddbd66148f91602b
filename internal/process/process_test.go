package process

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reciperunner/reciperunner/internal/step"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

// TestResolveAbsolutePath verifies an absolute, executable cmd0 resolves
// to itself.
func TestResolveAbsolutePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable-bit semantics differ on windows")
	}
	t.Parallel()

	dir := t.TempDir()
	bin := writeExecutable(t, dir, "tool")

	resolved, reason := Resolve(bin, dir, nil)
	assert.Equal(t, bin, resolved)
	assert.Empty(t, reason)
}

// TestResolveSearchesPathEntries verifies a bare cmd0 is found by walking
// pathEntries in order.
func TestResolveSearchesPathEntries(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable-bit semantics differ on windows")
	}
	t.Parallel()

	empty := t.TempDir()
	dir := t.TempDir()
	writeExecutable(t, dir, "tool")

	resolved, reason := Resolve("tool", "", []string{empty, dir})
	assert.Equal(t, filepath.Join(dir, "tool"), resolved)
	assert.Empty(t, reason)
}

// TestResolveFailsWithReasonWhenNotFound verifies an unresolvable cmd0
// returns an explanatory reason instead of an empty string silently.
func TestResolveFailsWithReasonWhenNotFound(t *testing.T) {
	t.Parallel()

	resolved, reason := Resolve("definitely-not-a-real-binary", "", nil)
	assert.Empty(t, resolved)
	assert.NotEmpty(t, reason)
}

// TestBuildEnvironAppliesDeletionsAndSubstitutions verifies deletions and
// %(NAME)s substitution both reference the pre-substitution parent env.
func TestBuildEnvironAppliesDeletionsAndSubstitutions(t *testing.T) {
	t.Parallel()

	parent := map[string]string{"HOME": "/home/u", "DROP_ME": "x"}
	env := map[string]step.EnvValue{
		"DROP_ME": step.Delete(),
		"GREETING": step.Set("hello %(HOME)s"),
	}

	out := BuildEnviron(parent, env, nil, nil)
	assert.Equal(t, "hello /home/u", out["GREETING"])
	_, present := out["DROP_ME"]
	assert.False(t, present)
}

// TestBuildEnvironJoinsPrefixesWithoutTrailingSeparatorOnEmptyBase
// verifies a key with only a prefix (no existing base value) doesn't gain
// a spurious trailing list separator.
func TestBuildEnvironJoinsPrefixesWithoutTrailingSeparatorOnEmptyBase(t *testing.T) {
	t.Parallel()

	out := BuildEnviron(map[string]string{}, nil,
		map[string][]string{"PATH": {"/a", "/b"}}, nil)

	expected := "/a" + string(os.PathListSeparator) + "/b"
	assert.Equal(t, expected, out["PATH"])
}
