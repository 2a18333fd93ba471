package ride

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskHandle is a cancellable reference to scheduled work.
type TaskHandle interface {
	Cancel()
	Cancelled() bool
}

// Task is a unit of work scheduled on the context of an owning entity.
// A Task with a non-zero period runs repeatedly until cancelled or retired.
type Task struct {
	// owner is the entity whose context the task runs on
	owner uuid.UUID

	// global tasks have no owner and run without a Tx
	global bool

	fn       func(t *Task, tx Tx)
	globalFn func(t *Task)

	// retired is called once if the owner becomes unreachable
	retired func(t *Task)

	period time.Duration

	// executeAt is the time the task should execute next
	executeAt time.Time

	cancelled atomic.Bool
}

// Cancel prevents any further execution of the task. It is safe to call more
// than once and from any goroutine.
func (t *Task) Cancel() {
	if t != nil {
		t.cancelled.Store(true)
	}
}

// Cancelled reports whether the task was cancelled or retired.
func (t *Task) Cancelled() bool {
	return t == nil || t.cancelled.Load()
}

// Owner returns the identity of the entity the task is bound to.
func (t *Task) Owner() uuid.UUID {
	return t.owner
}

// Repeating reports whether the task runs at a fixed rate.
func (t *Task) Repeating() bool {
	return t.period > 0
}

var _ TaskHandle = (*Task)(nil)

// pruneEvery is how many pushes a queue takes between sweeps of cancelled
// tasks. Cancelled tasks are otherwise only dropped once they fall due.
const pruneEvery = 128

// taskHeap orders tasks by their next execution time.
type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].executeAt.Before(h[j].executeAt) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old) - 1
	t := old[n]
	old[n] = nil
	*h = old[:n]
	return t
}

// taskQueue holds the pending tasks of one shard.
type taskQueue struct {
	mu     sync.Mutex
	tasks  taskHeap
	pushes int

	// wake has room for one pending signal so Push never blocks
	wake chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{wake: make(chan struct{}, 1)}
}

// Push adds a task and wakes the shard draining the queue.
func (q *taskQueue) Push(t *Task) {
	q.mu.Lock()
	q.pushes++
	if q.pushes%pruneEvery == 0 {
		q.prune()
	}
	heap.Push(&q.tasks, t)
	q.mu.Unlock()

	q.signal()
}

func (q *taskQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PopDue removes every task due at now and returns the live ones in
// execution order.
func (q *taskQueue) PopDue(now time.Time) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*Task
	for q.tasks.Len() > 0 && !q.tasks[0].executeAt.After(now) {
		t := heap.Pop(&q.tasks).(*Task)
		if !t.Cancelled() {
			due = append(due, t)
		}
	}
	return due
}

// Len returns the number of live tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, t := range q.tasks {
		if !t.Cancelled() {
			n++
		}
	}
	return n
}

// Clear cancels and drops every task.
func (q *taskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.tasks {
		t.Cancel()
	}
	q.tasks = nil
}

// Notify returns the channel signalled on every Push and rate change.
func (q *taskQueue) Notify() <-chan struct{} {
	return q.wake
}

// prune drops cancelled tasks. Caller must hold mu.
func (q *taskQueue) prune() {
	live := q.tasks[:0]
	for _, t := range q.tasks {
		if !t.Cancelled() {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(q.tasks); i++ {
		q.tasks[i] = nil
	}
	q.tasks = live
	heap.Init(&q.tasks)
}

// nextRun returns the next execution time of a fixed-rate task. Runs missed
// while the shard was behind are skipped rather than replayed.
func nextRun(prev time.Time, period time.Duration, now time.Time) time.Time {
	next := prev.Add(period)
	if next.Before(now) {
		next = now.Add(period)
	}
	return next
}
