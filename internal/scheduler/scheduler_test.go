package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/errors"
)

func TestScheduler_RunsTask(t *testing.T) {
	s := New(2, nil)
	s.Start(context.Background())
	defer s.Stop()

	future := s.ScheduleTask(func(ctx context.Context) (any, error) {
		return 42, nil
	}, 0, "test")

	select {
	case res := <-future:
		require.NoError(t, res.Err)
		assert.Equal(t, 42, res.Value)
	case <-time.After(time.Second):
		t.Fatal("task did not complete")
	}
}

func TestScheduler_PriorityOrdering(t *testing.T) {
	s := New(1, nil)
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) Task {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	// Enqueue before Start so the pick order is decided purely by priority.
	fLow := s.ScheduleTask(record("low"), 1, "t")
	fHighA := s.ScheduleTask(record("high-a"), 10, "t")
	fHighB := s.ScheduleTask(record("high-b"), 10, "t")
	fMid := s.ScheduleTask(record("mid"), 5, "t")

	s.Start(context.Background())
	for _, f := range []<-chan Result{fLow, fHighA, fHighB, fMid} {
		<-f
	}
	s.Stop()

	assert.Equal(t, []string{"high-a", "high-b", "mid", "low"}, order,
		"highest priority first, FIFO on ties")
}

func TestScheduler_ConcurrencyLimit(t *testing.T) {
	s := New(2, nil)
	s.Start(context.Background())
	defer s.Stop()

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	release := make(chan struct{})
	task := func(ctx context.Context) (any, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		<-release
		mu.Lock()
		current--
		mu.Unlock()
		return nil, nil
	}

	var futures []<-chan Result
	for i := 0; i < 5; i++ {
		futures = append(futures, s.ScheduleTask(task, 0, "t"))
	}

	// Give the first picks time to start, then let everything run.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, s.InFlight())
	close(release)

	for _, f := range futures {
		<-f
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, peak)
}

func TestScheduler_CancelTasksByCategory(t *testing.T) {
	s := New(1, nil)

	// Not started, so everything stays queued.
	fKeep := s.ScheduleTask(func(ctx context.Context) (any, error) { return "kept", nil }, 0, "keep")
	fDropA := s.ScheduleTask(func(ctx context.Context) (any, error) { return nil, nil }, 0, "drop")
	fDropB := s.ScheduleTask(func(ctx context.Context) (any, error) { return nil, nil }, 0, "drop")

	n := s.CancelTasksByCategory("drop")
	assert.Equal(t, 2, n)

	for _, f := range []<-chan Result{fDropA, fDropB} {
		res := <-f
		assert.ErrorIs(t, res.Err, ErrTaskCancelled)
	}

	s.Start(context.Background())
	res := <-fKeep
	require.NoError(t, res.Err)
	assert.Equal(t, "kept", res.Value)
	s.Stop()
}

func TestScheduler_CancelDoesNotTouchInFlight(t *testing.T) {
	s := New(1, nil)
	s.Start(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	fRunning := s.ScheduleTask(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "done", nil
	}, 0, "work")
	<-started

	n := s.CancelTasksByCategory("work")
	assert.Zero(t, n, "in-flight tasks are not cancellable")

	close(release)
	res := <-fRunning
	assert.Equal(t, "done", res.Value)
	s.Stop()
}

func TestScheduler_StopFailsQueuedTasks(t *testing.T) {
	s := New(1, nil)
	f := s.ScheduleTask(func(ctx context.Context) (any, error) { return nil, nil }, 0, "t")
	s.Stop()

	res := <-f
	require.Error(t, res.Err)
	assert.Equal(t, errors.KindState, errors.KindOf(res.Err))

	// Scheduling after stop fails immediately.
	f2 := s.ScheduleTask(func(ctx context.Context) (any, error) { return nil, nil }, 0, "t")
	res = <-f2
	assert.Error(t, res.Err)
}

func TestScheduler_TaskErrorPropagates(t *testing.T) {
	s := New(1, nil)
	s.Start(context.Background())
	defer s.Stop()

	f := s.ScheduleTask(func(ctx context.Context) (any, error) {
		return nil, errors.TimeoutError("slow", time.Second)
	}, 0, "t")
	res := <-f
	assert.True(t, errors.IsTimeout(res.Err))
}
