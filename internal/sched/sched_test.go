package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSpawnRunsTaskToCompletion verifies Wait blocks until a spawned task's
// function returns.
func TestSpawnRunsTaskToCompletion(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), 1)
	defer s.Close()

	ran := false
	task := s.Spawn(func(ctx context.Context) error {
		ran = true
		return nil
	})
	s.Wait(task)

	assert.True(t, ran)
	assert.NoError(t, task.Err())
}

// TestKillDeliversCancellationCause verifies Kill cancels the task's
// context with a *Cancellation the task can observe via context.Cause.
func TestKillDeliversCancellationCause(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), 1)
	defer s.Close()

	started := make(chan struct{})
	var observed *Cancellation
	task := s.Spawn(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		observed, _ = context.Cause(ctx).(*Cancellation)
		return ctx.Err()
	})

	<-started
	s.Kill(task, "test-kill")
	s.Wait(task)

	require.NotNil(t, observed)
	assert.Equal(t, "test-kill", observed.Reason)
}

// TestGrowByIncreasesPoolSize verifies the streammux.PoolGrower hook raises
// the scheduler's blocking-worker budget by the requested amount.
func TestGrowByIncreasesPoolSize(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), 2)
	s.GrowBy(2)
	assert.Equal(t, 4, s.PoolSize())
}

// TestTimeoutCancelsAfterDuration verifies the scoped timeout resource
// cancels its context once the duration elapses.
func TestTimeoutCancelsAfterDuration(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), 1)
	defer s.Close()

	ctx, cancel := s.Timeout(10 * time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout context was never canceled")
	}
}
