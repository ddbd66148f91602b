// Package recipedeps declares the narrow interfaces a recipe run depends on
// for discovering recipes and modules, plus an in-memory Registry
// implementing them. Loading a dependency graph from disk or a remote fetch
// is explicitly out of scope for this engine (spec.md §1); recipes here are
// Go values registered at startup (see internal/recipes), the idiomatic Go
// stand-in for a dynamically-loaded recipe module.
package recipedeps

import (
	"context"
	"sort"
	"sync"

	"github.com/reciperunner/reciperunner/internal/coverage"
	"github.com/reciperunner/reciperunner/internal/engine"
	"github.com/reciperunner/reciperunner/internal/testdriver"
)

// Module is one loaded recipe module: a name plus the set of step-name
// tokens it's known to expose, for suggest.Best to rank unknown-module
// errors against.
type Module interface {
	Name() string
	StepNames() []string
}

// Recipe is one loaded recipe: its name, declared module dependencies, its
// expectation-file layout, real execution, and the test cases it generates
// — spec.md §3's RecipeDeps data model (`expectation_dir`,
// `expectation_paths`, `gen_tests()`) plus the real `RunSteps(api)` entry
// point §4.G's `run_steps` invokes.
type Recipe interface {
	Name() string
	DependsOn() []string

	// ExpectationDir names the directory this recipe declares for its
	// per-test expectation files. internal/testdriver does not call it: the
	// driver reads and writes every test's file directly under
	// Options.ExpectDir as "<test name>.expected.json".
	ExpectationDir() string

	// ExpectationPaths lists the expectation files this recipe declares.
	// internal/testdriver does not call it: unused files are computed from
	// the "*.expected.json" files present in Options.ExpectDir.
	ExpectationPaths() []string

	// Run drives the recipe for real against eng, the spec.md §4.G
	// `RunSteps(api)` entry point. properties carries the recipe's
	// resolved input properties (spec.md §9 "from_environ → default →
	// explicit").
	Run(ctx context.Context, eng *engine.Engine, properties map[string]string) error

	// GenTests emits this recipe's simulated test cases (spec.md §4.I item
	// 2). Emitted tests must have unique Names and unique expectation
	// paths within a single recipe.
	GenTests() []testdriver.TestDescription

	// CoverageModules declares the source locations this recipe is
	// expected to fully exercise, for the coverage.Check 100%-or-fail gate.
	CoverageModules() []coverage.Module
}

// RecipeDeps is the read-only view over a resolved dependency graph that
// engine/test-driver code is written against.
type RecipeDeps interface {
	Recipe(name string) (Recipe, bool)
	Module(name string) (Module, bool)
	RecipeNames() []string
	ModuleNames() []string
}

// Registry is an in-memory RecipeDeps: every recipe and module this binary
// was compiled with, registered at startup (see internal/recipes.Register).
type Registry struct {
	mu      sync.RWMutex
	recipes map[string]Recipe
	modules map[string]Module
}

var _ RecipeDeps = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{recipes: map[string]Recipe{}, modules: map[string]Module{}}
}

// Register adds rec, keyed by its own Name().
func (r *Registry) Register(rec Recipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipes[rec.Name()] = rec
}

// RegisterModule adds m, keyed by its own Name().
func (r *Registry) RegisterModule(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

func (r *Registry) Recipe(name string) (Recipe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recipes[name]
	return rec, ok
}

func (r *Registry) Module(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

func (r *Registry) RecipeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.recipes))
	for n := range r.recipes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) ModuleNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
