// Package expect implements expectation-file management (spec.md §4.I): one
// JSON file per test case recording its expected steps_ran and step
// presentations, diffed against the actual run with go-cmp, and
// atomically rewritten in `test train` mode.
//
// Grounded on original_source/recipe_engine/internal/commands/test/run_train.py
// (write-to-temp-then-rename, and "expectation files not visited by this
// run are unused and get deleted in train mode") and on the teacher's
// core/planfmt/canonical.go for the "diff-friendly canonical JSON" idea,
// adapted from opal's plan format to per-test expectation files.
package expect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/go-cmp/cmp"
)

// StepExpectation is the recorded shape of one step's outcome, as persisted
// to an expectation file.
type StepExpectation struct {
	NameTokens []string          `json:"name_tokens"`
	Retcode    *int              `json:"retcode"`
	Status     string            `json:"status"`
	Logs       map[string]string `json:"logs,omitempty"`
}

// TestExpectation is one test case's full expectation file contents.
type TestExpectation struct {
	Steps []StepExpectation `json:"steps"`
}

// Path returns the on-disk path for testName's expectation file under dir,
// matching the teacher's "one file per leaf test case" layout.
func Path(dir, testName string) string {
	return filepath.Join(dir, testName+".expected.json")
}

// Load reads and parses the expectation file at path. A missing file is not
// an error: it reports ok=false so callers can distinguish "no expectation
// yet" (train mode creates one) from a real read failure.
func Load(path string) (exp TestExpectation, ok bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return TestExpectation{}, false, nil
	}
	if err != nil {
		return TestExpectation{}, false, fmt.Errorf("read expectation %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &exp); err != nil {
		return TestExpectation{}, false, fmt.Errorf("parse expectation %s: %w", path, err)
	}
	return exp, true, nil
}

// Diff reports the human-readable difference between want and got, or ""
// if they are equivalent. Field order inside Steps matters (it mirrors
// execution order), so this is a straightforward cmp.Diff rather than a
// set comparison.
func Diff(want, got TestExpectation) string {
	return cmp.Diff(want, got)
}

// Write atomically replaces the expectation file at path with exp's
// canonical JSON encoding: write to a sibling temp file, then os.Rename,
// so a crash mid-write never leaves a corrupt expectation file for the
// next run to misread as a real (and wrong) expectation.
func Write(path string, exp TestExpectation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode expectation %s: %w", path, err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp expectation %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename expectation %s: %w", path, err)
	}
	return nil
}

// Unused computes which files under dir match the "*.expected.json" naming
// convention but were not in visited (the set of test names this run
// actually exercised) — candidates for deletion in train mode.
func Unused(dir string, visited map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list expectation dir %s: %w", dir, err)
	}

	const suffix = ".expected.json"
	var unused []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		testName := name[:len(name)-len(suffix)]
		if !visited[testName] {
			unused = append(unused, filepath.Join(dir, name))
		}
	}
	sort.Strings(unused)
	return unused, nil
}

// DeleteUnused removes every path in paths; used by `test train` to prune
// expectation files for tests that no longer exist.
func DeleteUnused(paths []string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove unused expectation %s: %w", p, err)
		}
	}
	return nil
}
