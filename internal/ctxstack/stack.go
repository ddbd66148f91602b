// Package ctxstack implements the Context Stack (spec.md §4.D): a
// non-empty sequence of ContextFrames, only the top of which is observable
// by a step, pushed and popped as scoped acquisitions with guaranteed
// release on all exit paths.
//
// Grounded on the teacher's runtime/executor/context.go immutable
// With*-copy-on-write style, generalized from "always replace" (that file
// has no prefix/suffix/overlay concept) to the merge-not-replace rules this
// spec requires for env/env_prefixes/env_suffixes.
package ctxstack

import (
	"fmt"

	"github.com/reciperunner/reciperunner/internal/invariant"
	"github.com/reciperunner/reciperunner/internal/step"
)

// Frame is the pushable record holding cwd, env, env_prefixes, env_suffixes,
// and the infra-step marker.
type Frame struct {
	Cwd         string
	Env         map[string]step.EnvValue
	EnvPrefixes map[string][]string
	EnvSuffixes map[string][]string
	Infra       bool
}

func emptyFrame() Frame {
	return Frame{
		Env:         map[string]step.EnvValue{},
		EnvPrefixes: map[string][]string{},
		EnvSuffixes: map[string][]string{},
	}
}

// Overlay is what callers push: every field is optional (nil/zero means
// "no change"), per spec.md's "overlaying any non-absent fields".
type Overlay struct {
	Cwd         *string
	Infra       *bool
	Env         map[string]step.EnvValue
	EnvPrefixes map[string][]string
	EnvSuffixes map[string][]string
}

// IsNoop reports whether this overlay would push an observably identical
// frame (spec.md §4.D: "Empty dicts and none values are no-ops (do not push
// a frame)").
func (o Overlay) IsNoop() bool {
	return o.Cwd == nil && o.Infra == nil && len(o.Env) == 0 && len(o.EnvPrefixes) == 0 && len(o.EnvSuffixes) == 0
}

// Stack is a non-empty sequence of Frames.
type Stack struct {
	frames []Frame
}

// New creates a stack with a single root frame.
func New(root Frame) *Stack {
	if root.Env == nil {
		root.Env = map[string]step.EnvValue{}
	}
	if root.EnvPrefixes == nil {
		root.EnvPrefixes = map[string][]string{}
	}
	if root.EnvSuffixes == nil {
		root.EnvSuffixes = map[string][]string{}
	}
	return &Stack{frames: []Frame{root}}
}

// Top returns the currently observable frame. The returned Frame's maps
// must not be mutated by callers.
func (s *Stack) Top() Frame {
	invariant.Invariant(len(s.frames) > 0, "context stack must never be empty")
	return s.frames[len(s.frames)-1]
}

// Release pops exactly the frame Push returned, restoring the stack to its
// previous (bit-identical, per spec.md §8 invariant 3) state. Call it via
// defer immediately after a successful Push.
type Release func()

// Push merges overlay onto the current top and pushes the result, per
// spec.md §4.D's merging rules:
//
//   - cwd replaces; infra_step replaces
//   - env: parent env merged with new keys (string or deletion);
//     validated here (dictionary-style substitutions only)
//   - env_prefixes: new values PREPEND to the existing prefix tuple
//   - env_suffixes: new values APPEND to the existing suffix tuple
//   - an empty overlay is a no-op: nothing is pushed
//
// It returns a Release that must be called (typically via defer) to pop
// the frame back off, guaranteeing release on all exit paths.
func (s *Stack) Push(overlay Overlay) (Frame, Release, error) {
	if overlay.IsNoop() {
		top := s.Top()
		return top, func() {}, nil
	}

	cur := s.Top()
	next := Frame{
		Cwd:         cur.Cwd,
		Infra:       cur.Infra,
		Env:         cloneEnv(cur.Env),
		EnvPrefixes: clonePrefixMap(cur.EnvPrefixes),
		EnvSuffixes: clonePrefixMap(cur.EnvSuffixes),
	}

	if overlay.Cwd != nil {
		next.Cwd = *overlay.Cwd
	}
	if overlay.Infra != nil {
		next.Infra = *overlay.Infra
	}

	for k, v := range overlay.Env {
		if !v.Deleted {
			if err := validateDictStyle(v.Value); err != nil {
				return Frame{}, nil, fmt.Errorf("env[%s]: %w", k, err)
			}
		}
		next.Env[k] = v
	}

	for k, vals := range overlay.EnvPrefixes {
		if len(vals) == 0 {
			continue
		}
		next.EnvPrefixes[k] = append(append([]string{}, vals...), next.EnvPrefixes[k]...)
	}

	for k, vals := range overlay.EnvSuffixes {
		if len(vals) == 0 {
			continue
		}
		next.EnvSuffixes[k] = append(append([]string{}, next.EnvSuffixes[k]...), vals...)
	}

	// Open Question resolution (see DESIGN.md): a key with a non-empty
	// prefix or suffix tuple is never deleted by a "none" env entry in the
	// same or an ancestor frame — prefix/suffix wins; deletion is only
	// honored when the key ends up with no prefixes and no suffixes.
	for k, v := range next.Env {
		if v.Deleted && (len(next.EnvPrefixes[k]) > 0 || len(next.EnvSuffixes[k]) > 0) {
			delete(next.Env, k)
		}
	}

	s.frames = append(s.frames, next)
	popped := false
	release := func() {
		invariant.Precondition(!popped, "context frame released more than once")
		popped = true
		invariant.Invariant(len(s.frames) > 1, "cannot pop the root context frame")
		s.frames = s.frames[:len(s.frames)-1]
	}
	return next, release, nil
}

func validateDictStyle(value string) error {
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
		if value[i+1] != '(' {
			return fmt.Errorf("sequential %%-style substitution is not allowed in %q; use %%(VAR)s", value)
		}
	}
	return nil
}

func cloneEnv(m map[string]step.EnvValue) map[string]step.EnvValue {
	out := make(map[string]step.EnvValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePrefixMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string{}, v...)
	}
	return out
}

// Depth returns the number of frames currently on the stack (>=1); useful
// for tests asserting push/pop leaves the stack bit-identical.
func (s *Stack) Depth() int { return len(s.frames) }
