// Package step holds the core data model shared by the step execution
// engine, the context stack, and both step runners: StepConfig (the
// immutable request to run a step), ExecutionResult, and StepData (the
// post-step record the engine accumulates).
package step

import (
	"fmt"
	"io"
	"time"
)

// Sink is a destination for step output lines, used when stdout/stderr is
// neither a plain file path nor an *os.File handle. Annotation-escaping
// (leading "@@@" -> "!@@@") is applied by the stream multiplexer before a
// line reaches a Sink, never by the Sink itself.
type Sink interface {
	WriteLine(line string) error
}

// OutTarget is exactly one of: a file path, an open handle, or a Sink.
type OutTarget struct {
	Path   string
	Handle io.Writer
	Sink   Sink
}

// Empty reports whether no output target was configured at all (inherit
// the parent's stdout/stderr).
func (t OutTarget) Empty() bool {
	return t.Path == "" && t.Handle == nil && t.Sink == nil
}

// EnvValue is either a present string or an explicit deletion ("none" in
// spec.md terms).
type EnvValue struct {
	Value   string
	Deleted bool
}

func Set(v string) EnvValue { return EnvValue{Value: v} }
func Delete() EnvValue      { return EnvValue{Deleted: true} }

// StepConfig is the immutable request to run one step.
//
// Invariants (enforced by Validate, which both step runners call before
// running a step; the context stack separately checks env values when a
// frame is pushed, per spec.md §4.D/§4.C):
//   - Argv is non-empty
//   - env values contain only "%(NAME)s" dictionary-style substitutions,
//     never sequential "%s"
//   - Timeout, if set, is > 0
type StepConfig struct {
	NameTokens []string `validate:"min=1"`
	Argv       []string `validate:"min=1"`

	Cwd string // absolute path, or "" for none

	Env         map[string]EnvValue
	EnvPrefixes map[string][]string
	EnvSuffixes map[string][]string

	Stdin string // absolute path, or "" for none

	Stdout OutTarget
	Stderr OutTarget

	Timeout time.Duration // 0 means unset

	InfraStep           bool
	AllowSubannotations bool
}

// Validate checks the invariants spec.md §3 assigns to StepConfig.
func (s StepConfig) Validate() error {
	if len(s.Argv) == 0 {
		return fmt.Errorf("step %v: argv must not be empty", s.NameTokens)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("step %v: timeout must be > 0 if set, got %v", s.NameTokens, s.Timeout)
	}
	for k, v := range s.Env {
		if v.Deleted {
			continue
		}
		if err := validateEnvSubstitution(v.Value); err != nil {
			return fmt.Errorf("step %v: env[%s]: %w", s.NameTokens, k, err)
		}
	}
	return nil
}

// validateEnvSubstitution rejects sequential printf-style "%s" verbs while
// allowing "%(NAME)s" dictionary-style references.
func validateEnvSubstitution(value string) error {
	for i := 0; i < len(value); i++ {
		if value[i] != '%' {
			continue
		}
		if i+1 >= len(value) {
			return fmt.Errorf("dangling %% in %q", value)
		}
		if value[i+1] == '%' {
			i++
			continue
		}
		if value[i+1] == '(' {
			// %(NAME)s — expanded later by process.BuildEnviron.
			continue
		}
		return fmt.Errorf("sequential %%-style substitution is not allowed in %q; use %%(VAR)s", value)
	}
	return nil
}

// ExecutionResult is the outcome of running one step.
type ExecutionResult struct {
	// Retcode is nil exactly when the step never produced an exit code
	// (e.g. argv[0] could not be resolved). A "nil" retcode is never
	// reported alongside success.
	Retcode     *int
	HadTimeout  bool
	WasCanceled bool

	// UnresolvedCmd0 records the reason the step never spawned.
	UnresolvedCmd0 string
}

// Success reports whether the step completed with retcode 0 and no
// timeout/cancellation.
func (r ExecutionResult) Success() bool {
	return r.Retcode != nil && *r.Retcode == 0 && !r.HadTimeout && !r.WasCanceled
}

// Infra reports whether this result must be classified as an infra failure:
// any timeout, any cancellation, or (decided by the caller, since StepConfig
// carries InfraStep) an infra-marked step that failed.
func (r ExecutionResult) Infra() bool {
	return r.HadTimeout || r.WasCanceled
}

func IntPtr(v int) *int { return &v }

// Presentation is the mutable summary/log attachment surface a running step
// exposes to recipe code (step_link/log lines/status), mirrored into the
// final StepData once the step closes.
type Presentation struct {
	Status     string // "SUCCESS", "FAILURE", "EXCEPTION", or "" (pending)
	StepText   string
	StepSummary string
	Logs       map[string]string
	Links      map[string]string
}

func NewPresentation() *Presentation {
	return &Presentation{
		Logs:  make(map[string]string),
		Links: make(map[string]string),
	}
}

// Data is the post-step record: configuration, result, and any nested
// children opened underneath this step (for parent/grouping steps).
type Data struct {
	Config       StepConfig
	Result       ExecutionResult
	Presentation *Presentation
	Placeholders map[string]string
	Children     []*Data
}

// PropertyValue is the tagged-variant representation of a recipe property
// binding (string|int|bool|float|list|map), per SPEC_FULL.md §3.
type PropertyValue struct {
	kind byte // 's' string, 'i' int64, 'b' bool, 'f' float64, 'l' list, 'm' map, 0 unset
	s    string
	i    int64
	b    bool
	f    float64
	l    []PropertyValue
	m    map[string]PropertyValue
}

func PVString(s string) PropertyValue                     { return PropertyValue{kind: 's', s: s} }
func PVInt(i int64) PropertyValue                          { return PropertyValue{kind: 'i', i: i} }
func PVBool(b bool) PropertyValue                          { return PropertyValue{kind: 'b', b: b} }
func PVFloat(f float64) PropertyValue                      { return PropertyValue{kind: 'f', f: f} }
func PVList(l []PropertyValue) PropertyValue               { return PropertyValue{kind: 'l', l: l} }
func PVMap(m map[string]PropertyValue) PropertyValue       { return PropertyValue{kind: 'm', m: m} }

func (p PropertyValue) IsSet() bool { return p.kind != 0 }

func (p PropertyValue) String() string {
	switch p.kind {
	case 's':
		return p.s
	case 'i':
		return fmt.Sprintf("%d", p.i)
	case 'b':
		return fmt.Sprintf("%t", p.b)
	case 'f':
		return fmt.Sprintf("%g", p.f)
	case 'l':
		return fmt.Sprintf("%v", p.l)
	case 'm':
		return fmt.Sprintf("%v", p.m)
	default:
		return ""
	}
}
