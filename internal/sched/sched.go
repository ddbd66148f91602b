// Package sched implements the Cooperative Scheduler Interface (spec.md
// §4.F): a single logical thread of execution per worker process,
// multiplexing recipe-driving code with the true suspension points (process
// wait, pipe read, timed close, explicit yield, queue get/put, sleep).
//
// Go has real OS threads rather than greenlets, so each spawned task runs on
// its own goroutine. The Scheduler keeps a worker-thread budget (PoolSize,
// GrowBy) but does not itself run a worker pool, and tasks are not
// serialized onto one thread. context.Context cancellation
// plays the role of a greenlet kill token (spec.md §9 "Greenlet kill ↔
// thread cancellation").
package sched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Cancellation is the error a canceled task observes at its next
// suspension point.
type Cancellation struct{ Reason string }

func (c *Cancellation) Error() string { return "task canceled: " + c.Reason }

// Task is a handle to a spawned unit of work.
type Task struct {
	id     uint64
	cancel context.CancelCauseFunc
	done   chan struct{}
	err    error
}

// Done reports whether the task has finished (successfully, with an error,
// or via cancellation).
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's terminal error, if any, once Done is closed.
func (t *Task) Err() error { return t.err }

// Scheduler is one worker process's single cooperative thread plus its
// true-blocking-work thread pool.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	poolMu   sync.Mutex
	poolSize int32

	nextID atomic.Uint64

	readyMu sync.Mutex
	ready   []func()
}

// New creates a scheduler bound to parent; canceling parent cancels every
// task spawned from it.
func New(parent context.Context, initialPoolSize int) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{ctx: ctx, cancel: cancel, poolSize: int32(initialPoolSize)}
}

// Spawn starts fn as a new task on its own goroutine. It returns once that
// goroutine has begun (an unbuffered rendezvous channel is closed at its
// start); fn itself runs concurrently with the caller, and Spawn does not
// wait for fn to reach any particular point.
func (s *Scheduler) Spawn(fn func(ctx context.Context) error) *Task {
	id := s.nextID.Add(1)
	taskCtx, cancel := context.WithCancelCause(s.ctx)
	t := &Task{id: id, cancel: cancel, done: make(chan struct{})}

	started := make(chan struct{})
	go func() {
		close(started)
		err := fn(taskCtx)
		t.err = err
		close(t.done)
	}()
	<-started // guarantees the goroutine has begun before Spawn returns

	return t
}

// YieldNow runs, in order, every function on the scheduler's ready list and
// empties the list. It does not call runtime.Gosched, and no method of
// Scheduler adds to the ready list.
func (s *Scheduler) YieldNow() {
	s.readyMu.Lock()
	ready := s.ready
	s.ready = nil
	s.readyMu.Unlock()
	for _, fn := range ready {
		fn()
	}
}

// Wait blocks until every task in tasks has finished.
func (s *Scheduler) Wait(tasks ...*Task) {
	for _, t := range tasks {
		<-t.done
	}
}

// Kill injects a cancellation into task at its next suspension point. The
// task may observe this as a context.Cause(ctx) *Cancellation and choose to
// clean up before re-raising, exactly as the step runner does to convert a
// kill into was_cancelled=true with a best-effort group kill.
func (s *Scheduler) Kill(t *Task, reason string) {
	t.cancel(&Cancellation{Reason: reason})
}

// Timeout returns a context that is canceled after d elapses, plus a stop
// function that must be called once the protected interior completes
// normally (to release the timer). This models spec.md §4.F's scoped
// "timeout(duration)" resource.
func (s *Scheduler) Timeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, d)
}

// GrowBy implements streammux.PoolGrower: a leaked pipe handle enlarges the
// scheduler's true-blocking worker-thread budget by n, per spec.md §4.B's
// "the scheduler's worker-thread pool budget is increased by two ... This
// policy replaces blocking the whole pipeline on one misbehaving daemon
// child."
func (s *Scheduler) GrowBy(n int) {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	s.poolSize += int32(n)
}

// PoolSize reports the current true-blocking worker-thread budget.
func (s *Scheduler) PoolSize() int {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	return int(s.poolSize)
}

// Close cancels every outstanding task spawned from this scheduler.
func (s *Scheduler) Close() { s.cancel() }

// String implements fmt.Stringer for debug logs.
func (t *Task) String() string { return fmt.Sprintf("task#%d", t.id) }
