// Package testdriver implements the Test Worker Pool (spec.md §4.I): a
// bounded pool of workers draining a description queue, each running one
// test case through internal/simrunner and internal/engine, reconciling its
// expectation file, merging its coverage shard, and publishing a
// TestOutcome on a results channel. The queue is drained with one poison
// sentinel per worker, the same shutdown idiom the teacher uses for its
// task-graph executor pool.
//
// Grounded on original_source/recipe_engine/internal/commands/test/run_train.py
// (worker-pool + queue.Queue + None-sentinel draining) and the teacher's
// runtime/executor worker-pool goroutine/channel shape.
package testdriver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/reciperunner/reciperunner/internal/coverage"
	"github.com/reciperunner/reciperunner/internal/ctxstack"
	"github.com/reciperunner/reciperunner/internal/engine"
	"github.com/reciperunner/reciperunner/internal/expect"
	"github.com/reciperunner/reciperunner/internal/simrunner"
	"github.com/reciperunner/reciperunner/internal/step"
)

// TestDescription is one unit of work: a named test case plus the
// simulated steps it should drive the recipe through.
type TestDescription struct {
	Name       string
	RecipeName string
	Data       *simrunner.TestData
	Drive      func(eng *engine.Engine) error // executes the recipe under test
}

// Outcome classifies how one test case concluded, per spec.md §4.I/§4.J's
// FIELD_TO_DISPLAY precedence (internal_error > bad_test > crash_mismatch >
// check > diff > removed > written > success).
type Outcome struct {
	Name          string
	InternalError error
	BadTest       *simrunner.BadTestError
	Diff          string // non-empty means an expectation mismatch
	Written       bool   // train mode wrote a new/updated expectation
	Removed       bool   // train mode deleted an unused expectation
	Success       bool
	CoverageShard *coverage.Shard
}

// Status renders the single-word classification used by the reporter,
// applying FIELD_TO_DISPLAY precedence.
func (o Outcome) Status() string {
	switch {
	case o.InternalError != nil:
		return "internal_error"
	case o.BadTest != nil:
		return "bad_test"
	case o.Diff != "" && !o.Written:
		return "diff"
	case o.Removed:
		return "removed"
	case o.Written:
		return "written"
	default:
		return "success"
	}
}

// Options configures one test-driver run.
type Options struct {
	Workers     int
	ExpectDir   string
	Train       bool
	FilterGlob  string // "" means no filter
}

// CompileFilter translates a shell-glob filter (spec.md §4.I's `--filter`)
// into a matcher. No example repo in the corpus vendors a glob-to-regexp
// translator for this narrow a grammar (`*` and `?` only, no character
// classes), so this is hand-rolled rather than forcing in an unrelated
// dependency — see DESIGN.md.
func CompileFilter(glob string) (*regexp.Regexp, error) {
	if glob == "" {
		return nil, nil
	}
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// Run drains descriptions across Options.Workers workers and returns every
// Outcome plus the union of all per-test coverage shards.
func Run(ctx context.Context, opts Options, descriptions []TestDescription) ([]Outcome, *coverage.Shard, error) {
	filter, err := CompileFilter(opts.FilterGlob)
	if err != nil {
		return nil, nil, fmt.Errorf("compile --filter: %w", err)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	queue := make(chan *TestDescription, len(descriptions)+workers)
	results := make(chan Outcome, len(descriptions))

	visited := map[string]bool{}
	var visitedMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for desc := range queue {
				if desc == nil { // poison sentinel
					return
				}
				visitedMu.Lock()
				visited[desc.Name] = true
				visitedMu.Unlock()
				results <- runOne(opts, *desc)
			}
		}()
	}

	queued := 0
	for i := range descriptions {
		d := descriptions[i]
		if filter != nil && !filter.MatchString(d.Name) {
			continue
		}
		queue <- &d
		queued++
	}
	for i := 0; i < workers; i++ {
		queue <- nil // poison sentinel, one per worker
	}
	close(queue)

	go func() {
		wg.Wait()
		close(results)
	}()

	var outcomes []Outcome
	var shards []*coverage.Shard
	for o := range results {
		outcomes = append(outcomes, o)
		if o.CoverageShard != nil {
			shards = append(shards, o.CoverageShard)
		}
	}

	if opts.Train {
		unused, err := expect.Unused(opts.ExpectDir, visited)
		if err != nil {
			return outcomes, coverage.Merge(shards...), fmt.Errorf("compute unused expectations: %w", err)
		}
		if err := expect.DeleteUnused(unused); err != nil {
			return outcomes, coverage.Merge(shards...), fmt.Errorf("delete unused expectations: %w", err)
		}
		for _, p := range unused {
			outcomes = append(outcomes, Outcome{Name: p, Removed: true})
		}
	}

	return outcomes, coverage.Merge(shards...), nil
}

func runOne(opts Options, desc TestDescription) Outcome {
	o := Outcome{Name: desc.Name}

	eng := engine.New(simrunner.New(desc.Data), ctxstack.Frame{})

	var driveErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				o.InternalError = fmt.Errorf("panic running %s: %v", desc.Name, r)
			}
		}()
		driveErr = desc.Drive(eng)
	}()
	if o.InternalError != nil {
		return o
	}
	if driveErr != nil {
		if bte, ok := driveErr.(*simrunner.BadTestError); ok {
			o.BadTest = bte
			return o
		}
		o.InternalError = driveErr
		return o
	}

	o.CoverageShard = eng.CoverageShard()

	got := expect.TestExpectation{}
	for _, s := range eng.TopSteps() {
		got.Steps = append(got.Steps, toExpectation(s))
	}

	path := expect.Path(opts.ExpectDir, desc.Name)
	want, existed, err := expect.Load(path)
	if err != nil {
		o.InternalError = err
		return o
	}

	diff := ""
	if existed {
		diff = expect.Diff(want, got)
	} else if !opts.Train {
		diff = "(no expectation file; run `test train` to create one)"
	}

	if opts.Train && (diff != "" || !existed) {
		if err := expect.Write(path, got); err != nil {
			o.InternalError = err
			return o
		}
		o.Written = true
		return o
	}

	o.Diff = diff
	o.Success = diff == ""
	return o
}

func toExpectation(s *step.Data) expect.StepExpectation {
	e := expect.StepExpectation{
		NameTokens: s.Config.NameTokens,
		Retcode:    s.Result.Retcode,
	}
	if s.Presentation != nil {
		e.Status = s.Presentation.Status
		e.Logs = s.Presentation.Logs
	}
	return e
}
