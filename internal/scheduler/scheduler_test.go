package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workforce-queue/internal/observability"
)

func TestScheduler_RunsAfterDelay(t *testing.T) {
	s := New(observability.NopEntry())
	ran := make(chan time.Time, 1)

	start := time.Now()
	_, err := s.Schedule(20*time.Millisecond, func(ctx context.Context) {
		ran <- time.Now()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Pending())

	select {
	case at := <-ran:
		assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_Cancel(t *testing.T) {
	s := New(observability.NopEntry())
	var ran atomic.Bool

	cancel, err := s.Schedule(time.Hour, func(ctx context.Context) { ran.Store(true) })
	require.NoError(t, err)

	assert.True(t, cancel())
	assert.False(t, cancel())
	assert.Equal(t, 0, s.Pending())

	require.NoError(t, s.Shutdown(context.Background()))
	assert.False(t, ran.Load())
}

func TestScheduler_ShutdownCancelsPendingAndDrainsRunning(t *testing.T) {
	s := New(observability.NopEntry())
	started := make(chan struct{})
	release := make(chan struct{})
	var finished, pendingRan atomic.Bool

	_, err := s.Schedule(0, func(ctx context.Context) {
		close(started)
		<-release
		finished.Store(true)
	})
	require.NoError(t, err)
	_, err = s.Schedule(time.Hour, func(ctx context.Context) { pendingRan.Store(true) })
	require.NoError(t, err)

	<-started

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- s.Shutdown(context.Background()) }()

	select {
	case <-shutdownErr:
		t.Fatal("shutdown returned while a task was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-shutdownErr)
	assert.True(t, finished.Load())
	assert.False(t, pendingRan.Load())

	_, err = s.Schedule(0, func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestScheduler_ShutdownDeadlineCancelsTaskContext(t *testing.T) {
	s := New(observability.NopEntry())
	started := make(chan struct{})
	taskDone := make(chan error, 1)

	_, err := s.Schedule(0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		taskDone <- ctx.Err()
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = s.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case err := <-taskDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestScheduler_RecoversTaskPanic(t *testing.T) {
	s := New(observability.NopEntry())
	_, err := s.Schedule(0, func(ctx context.Context) { panic("boom") })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, time.Millisecond)

	assert.NoError(t, s.Shutdown(context.Background()))
}
