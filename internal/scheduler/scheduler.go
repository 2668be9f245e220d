// Package scheduler runs tasks from a priority queue with bounded
// concurrency and category-level cancellation.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"

	"github.com/loomworks/loom/internal/errors"
)

// ErrTaskCancelled completes queued tasks removed by category cancellation.
var ErrTaskCancelled = errors.New(errors.ErrCodeCancelled, "task cancelled", nil)

// Task is a unit of schedulable work.
type Task func(ctx context.Context) (any, error)

// Result delivers a task's outcome on its future channel.
type Result struct {
	Value any
	Err   error
}

type queuedTask struct {
	task     Task
	priority int
	category string
	seq      uint64 // FIFO tiebreak for equal priorities
	future   chan Result
	index    int
}

// taskHeap is a max-heap by priority with FIFO ordering on ties.
type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*queuedTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler drains a priority queue with at most maxConcurrency tasks in
// flight. Completion of a task triggers the next pick.
type Scheduler struct {
	mu             sync.Mutex
	queue          taskHeap
	seq            uint64
	maxConcurrency int
	inFlight       int
	started        bool
	stopped        bool

	runCtx context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a scheduler with the given concurrency limit.
func New(maxConcurrency int, logger *slog.Logger) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

// ScheduleTask enqueues a task and returns its future. The future receives
// exactly one Result. Higher priorities run first; equal priorities run in
// submission order.
func (s *Scheduler) ScheduleTask(task Task, priority int, category string) <-chan Result {
	future := make(chan Result, 1)
	if task == nil {
		future <- Result{Err: errors.ValidationError("task cannot be nil", "task")}
		return future
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		future <- Result{Err: errors.StateError("scheduler is stopped")}
		return future
	}
	qt := &queuedTask{
		task:     task,
		priority: priority,
		category: category,
		seq:      s.seq,
		future:   future,
	}
	s.seq++
	heap.Push(&s.queue, qt)
	s.mu.Unlock()

	s.dispatch()
	return future
}

// Start begins draining the queue. Tasks receive ctx; cancelling it makes
// in-flight tasks observe cancellation through their own handling.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.runCtx = ctx
	s.mu.Unlock()

	s.dispatch()
}

// dispatch launches queued tasks while capacity remains.
func (s *Scheduler) dispatch() {
	for {
		s.mu.Lock()
		if !s.started || s.stopped || s.inFlight >= s.maxConcurrency || s.queue.Len() == 0 {
			s.mu.Unlock()
			return
		}
		qt := heap.Pop(&s.queue).(*queuedTask)
		s.inFlight++
		ctx := s.runCtx
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			value, err := qt.task(ctx)
			qt.future <- Result{Value: value, Err: err}

			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
			s.dispatch()
		}()
	}
}

// CancelTasksByCategory completes every queued task of the category with
// ErrTaskCancelled and returns how many were cancelled. In-flight tasks are
// not affected.
func (s *Scheduler) CancelTasksByCategory(category string) int {
	s.mu.Lock()
	var kept taskHeap
	var cancelled []*queuedTask
	for _, qt := range s.queue {
		if qt.category == category {
			cancelled = append(cancelled, qt)
		} else {
			kept = append(kept, qt)
		}
	}
	s.queue = kept
	heap.Init(&s.queue)
	s.mu.Unlock()

	for _, qt := range cancelled {
		qt.future <- Result{Err: ErrTaskCancelled}
	}
	if len(cancelled) > 0 {
		s.logger.Debug("cancelled queued tasks",
			"category", category, "count", len(cancelled))
	}
	return len(cancelled)
}

// QueueLen returns the number of queued (not in-flight) tasks.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// InFlight returns the number of running tasks.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Stop stops picking new tasks, fails queued tasks, and waits for in-flight
// tasks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, qt := range pending {
		qt.future <- Result{Err: errors.StateError("scheduler is stopped")}
	}
	s.wg.Wait()
}
