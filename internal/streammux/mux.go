// Package streammux implements the Stream Multiplexer (spec.md §4.B): one
// cooperative worker per requested pipe, copying lines from the pipe into
// the step's configured Stream sink, with a bounded reap step that flags a
// slow-closing handle as leaked instead of blocking the whole pipeline.
//
// Grounded on the teacher's runtime/executor/shell_worker.go pumpStream /
// buffer-pool / drainPendingStreams pattern (adapted here from "persistent
// worker shell" to "one-shot step process" semantics) and on
// runtime/scrubber/scrubber.go's carry-buffer idea for correctly handling
// secrets/lines split across read boundaries.
package streammux

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/reciperunner/reciperunner/internal/step"
)

// reapGuard is the "100 ms guard" spec.md §4.B assigns to closing a pipe
// handle after the step has exited.
const reapGuard = 100 * time.Millisecond

// PoolGrower is notified when a leaked handle forces the scheduler's
// blocking-worker-thread budget to grow (spec.md §4.B: "the scheduler's
// worker-thread pool budget is increased by two").
type PoolGrower interface {
	GrowBy(n int)
}

// Mux copies lines from one pipe into a Sink.
type Mux struct {
	sink       step.Sink
	annotating bool // escape leading "@@@" with "!" when true

	done   chan struct{}
	leaked chan struct{}
	err    error
	mu     sync.Mutex

	reader io.ReadCloser
}

// Start launches the copy goroutine for r, writing lines to sink. When
// annotating is true, a line beginning with "@@@" is rewritten with a
// leading "!" before being handed to sink, per spec.md §4.B.
func Start(r io.ReadCloser, sink step.Sink, annotating bool) *Mux {
	m := &Mux{
		sink:       sink,
		annotating: annotating,
		done:       make(chan struct{}),
		leaked:     make(chan struct{}),
		reader:     r,
	}
	go m.pump(r)
	return m
}

func (m *Mux) pump(r io.Reader) {
	defer close(m.done)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			if werr := m.writeLine(line); werr != nil {
				m.setErr(werr)
			}
		}
		if err != nil {
			// io.EOF (or any other read error) ends the worker; a
			// final partial line (no trailing "\n") was already
			// delivered above.
			return
		}
	}
}

func (m *Mux) writeLine(line string) error {
	if m.annotating && strings.HasPrefix(line, "@@@") {
		line = "!" + line
	}
	return m.sink.WriteLine(line)
}

func (m *Mux) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		m.err = err
	}
}

// Err returns the first write error the mux encountered, if any.
func (m *Mux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Cancel does nothing: the worker stops only when its read returns EOF or
// an error. It is a no-op hook kept for symmetry with the scheduler
// interface (§4.F); Reap calls it before waiting for the worker and then
// closing the reader.
func (m *Mux) Cancel() {}

// LeakedHandle reports whether Reap had to give up waiting for the pipe to
// close within the guard window.
func (m *Mux) LeakedHandle() bool {
	select {
	case <-m.leaked:
		return true
	default:
		return false
	}
}

// Reap cancels, joins, and closes the mux's handle, applying the 100ms
// guard: if Close blocks past the guard, the handle is flagged leaked and
// grower's pool budget is increased by two (one reader, one closer) so a
// single misbehaving daemon child can't deadlock the whole pipeline.
func Reap(m *Mux, grower PoolGrower) {
	m.Cancel()
	<-m.done

	closeDone := make(chan error, 1)
	go func() { closeDone <- m.reader.Close() }()

	select {
	case <-closeDone:
	case <-time.After(reapGuard):
		close(m.leaked)
		if grower != nil {
			grower.GrowBy(2)
		}
		// Don't wait further: the close may never return if the child
		// double-forked and kept the pipe open. The step still returns
		// its own retcode regardless (spec.md §8 boundary behavior).
	}
}
