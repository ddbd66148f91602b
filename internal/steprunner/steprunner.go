// Package steprunner implements the real (subprocess-backed) Step Runner
// (spec.md §4.C): it resolves a StepConfig and a ContextFrame into a spawned
// child, multiplexes its stdout/stderr through internal/streammux, waits for
// completion under a cancellation/timeout budget, and reaps the multiplexer
// workers, reporting a leaked handle back through the scheduler's pool
// grower.
//
// Grounded on original_source/recipe_engine/internal/step_runner/subproc.py
// for the overall resolve→spawn→stream→wait→reap sequence and on the
// teacher's runtime/executor package for per-step zerolog debug logging.
package steprunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/reciperunner/reciperunner/internal/ctxstack"
	"github.com/reciperunner/reciperunner/internal/process"
	"github.com/reciperunner/reciperunner/internal/step"
	"github.com/reciperunner/reciperunner/internal/streammux"
)

// Runner executes StepConfigs as real subprocesses.
type Runner struct {
	grower streammux.PoolGrower
	log    zerolog.Logger
}

// New creates a Runner. grower receives GrowBy calls when a step's pipe
// handle leaks past the reap guard window (spec.md §4.B); pass a
// *sched.Scheduler here in production code, or nil in tests that don't care.
func New(grower streammux.PoolGrower, log zerolog.Logger) *Runner {
	return &Runner{grower: grower, log: log}
}

// Run executes cfg against frame's context, returning the completed
// step.Data. It never returns a Go error for an ordinary step failure
// (non-zero retcode, timeout, cancellation) — those are reported through the
// returned ExecutionResult, per spec.md's "failures are data, not
// exceptions" framing (§4.C). A returned error indicates the step could not
// be attempted at all (e.g. a malformed StepConfig).
func (r *Runner) Run(ctx context.Context, cfg step.StepConfig, frame ctxstack.Frame) (*step.Data, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	merged, release, err := overlayFrame(frame, cfg)
	if err != nil {
		return nil, fmt.Errorf("step %v: %w", cfg.NameTokens, err)
	}
	defer release()

	cwd := merged.Cwd
	if cwd == "" {
		cwd, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("step %v: resolve cwd: %w", cfg.NameTokens, err)
		}
	}

	environ := process.BuildEnviron(osEnvironMap(), merged.Env, merged.EnvPrefixes, merged.EnvSuffixes)

	var stdin io.Reader
	if cfg.Stdin != "" {
		f, err := os.Open(cfg.Stdin)
		if err != nil {
			return nil, fmt.Errorf("step %v: open stdin: %w", cfg.NameTokens, err)
		}
		defer f.Close()
		stdin = f
	}

	outSink, outCloser, err := buildSink(cfg.Stdout, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("step %v: stdout target: %w", cfg.NameTokens, err)
	}
	defer closeIfSet(outCloser)

	errSink, errCloser, err := buildSink(cfg.Stderr, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("step %v: stderr target: %w", cfg.NameTokens, err)
	}
	defer closeIfSet(errCloser)

	r.log.Debug().Strs("argv", cfg.Argv).Str("cwd", cwd).Msg("spawning step")

	h, pipes, err := process.Spawn(process.Request{
		Cmd:     cfg.Argv,
		Environ: environ,
		Cwd:     cwd,
		Stdin:   stdin,
		OpenOut: true,
		OpenErr: true,
	})
	if err != nil {
		data := newStepData(cfg)
		data.Result = step.ExecutionResult{UnresolvedCmd0: err.Error()}
		return data, nil
	}

	annotating := !cfg.AllowSubannotations
	outMux := streammux.Start(pipes.Stdout, outSink, annotating)
	errMux := streammux.Start(pipes.Stderr, errSink, false)

	result := h.Wait(ctx, cfg.Timeout)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); streammux.Reap(outMux, r.grower) }()
	go func() { defer wg.Done(); streammux.Reap(errMux, r.grower) }()
	wg.Wait()

	if outMux.LeakedHandle() || errMux.LeakedHandle() {
		r.log.Warn().Strs("argv", cfg.Argv).Msg("pipe handle leaked past reap guard")
	}

	data := newStepData(cfg)
	data.Result = result
	return data, nil
}

func newStepData(cfg step.StepConfig) *step.Data {
	return &step.Data{Config: cfg, Presentation: step.NewPresentation()}
}

// overlayFrame applies cfg's own cwd/env/prefix/suffix/infra fields on top
// of frame using the same merge rules a context-stack push uses, since a
// step's own configuration is, semantically, one more overlay frame scoped
// to the step's lifetime.
func overlayFrame(frame ctxstack.Frame, cfg step.StepConfig) (ctxstack.Frame, ctxstack.Release, error) {
	stack := ctxstack.New(frame)
	overlay := ctxstack.Overlay{
		Env:         cfg.Env,
		EnvPrefixes: cfg.EnvPrefixes,
		EnvSuffixes: cfg.EnvSuffixes,
	}
	if cfg.Cwd != "" {
		cwd := cfg.Cwd
		overlay.Cwd = &cwd
	}
	if cfg.InfraStep {
		infra := true
		overlay.Infra = &infra
	}
	merged, release, err := stack.Push(overlay)
	if err != nil {
		return ctxstack.Frame{}, nil, err
	}
	return merged, release, nil
}

func osEnvironMap() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}

type writerSink struct{ w io.Writer }

func (s writerSink) WriteLine(line string) error {
	_, err := fmt.Fprintln(s.w, line)
	return err
}

// buildSink resolves an OutTarget to a step.Sink, falling back to fallback
// (the parent process's own stdout/stderr) when the target is Empty. The
// second return value is a non-nil io.Closer only when a file was opened.
func buildSink(target step.OutTarget, fallback io.Writer) (step.Sink, io.Closer, error) {
	switch {
	case target.Sink != nil:
		return target.Sink, nil, nil
	case target.Handle != nil:
		return writerSink{target.Handle}, nil, nil
	case target.Path != "":
		if err := os.MkdirAll(filepath.Dir(target.Path), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(target.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return writerSink{f}, f, nil
	default:
		return writerSink{fallback}, nil, nil
	}
}

func closeIfSet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
