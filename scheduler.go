package ride

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Scheduler runs tasks bound to entities. Work is sharded by owner identity:
// every owner maps to exactly one shard, and each shard executes its tasks on
// a single goroutine, so two tasks for the same entity never run concurrently.
// Execution enters the owner's context through the Executor, which lets hosts
// that process regions on separate threads keep entity affinity.
type Scheduler struct {
	exec Executor
	log  *slog.Logger

	shards []*shard

	// Execution state
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// tickRate is the shard poll interval in nanoseconds
	tickRate atomic.Int64
	now      func() time.Time
}

// shard owns a task queue and the goroutine that drains it.
type shard struct {
	queue *taskQueue

	// runMu keeps a single writer per shard when Tick is driven manually
	runMu sync.Mutex
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithShards sets the number of shards. Defaults to GOMAXPROCS.
func WithShards(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.shards = make([]*shard, n)
		}
	}
}

// WithTickRate sets how often shards poll for due tasks. Defaults to one
// game tick (50ms).
func WithTickRate(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickRate.Store(int64(d))
		}
	}
}

// WithSchedulerLogger sets the logger used to report task panics.
func WithSchedulerLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// withSchedulerClock replaces the time source. Used by tests.
func withSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler that enters entity contexts through exec.
// exec may be nil if only global tasks are scheduled.
func NewScheduler(exec Executor, opts ...SchedulerOption) *Scheduler {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}

	s := &Scheduler{
		exec:   exec,
		log:    slog.Default(),
		shards: make([]*shard, workers),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	s.tickRate.Store(int64(50 * time.Millisecond)) // 20 TPS
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{queue: newTaskQueue()}
	}
	return s
}

// Start launches one goroutine per shard. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	if s.running.Swap(true) {
		return
	}

	for _, sh := range s.shards {
		s.wg.Add(1)
		go s.shardLoop(sh)
	}
}

// Stop halts all shards, waits for running tasks to return and cancels every
// pending task.
func (s *Scheduler) Stop() {
	if !s.running.Swap(false) {
		return
	}

	close(s.stopCh)
	s.wg.Wait()

	for _, sh := range s.shards {
		sh.queue.Clear()
	}
}

// TickRate returns how often shards poll for due tasks.
func (s *Scheduler) TickRate() time.Duration {
	return time.Duration(s.tickRate.Load())
}

// SetTickRate changes the poll interval of running shards. Non-positive
// values are ignored.
func (s *Scheduler) SetTickRate(d time.Duration) {
	if d <= 0 {
		return
	}
	s.tickRate.Store(int64(d))
	for _, sh := range s.shards {
		sh.queue.signal()
	}
}

// Release tells the executor that the core no longer needs to reach the
// entity, if the executor keeps per-entity state.
func (s *Scheduler) Release(id uuid.UUID) {
	if r, ok := s.exec.(Releaser); ok {
		r.Release(id)
	}
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Pending returns the number of live tasks across all shards.
func (s *Scheduler) Pending() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.queue.Len()
	}
	return n
}

// shardLoop is the main loop of a shard.
func (s *Scheduler) shardLoop(sh *shard) {
	defer s.wg.Done()

	rate := s.TickRate()
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		case <-sh.queue.Notify():
		}
		if d := s.TickRate(); d != rate {
			rate = d
			ticker.Reset(rate)
		}
		s.runShard(sh, s.now())
	}
}

// Tick runs every due task on every shard synchronously. It lets hosts that
// own their tick loop drive the scheduler instead of calling Start.
func (s *Scheduler) Tick(now time.Time) {
	for _, sh := range s.shards {
		s.runShard(sh, now)
	}
}

func (s *Scheduler) runShard(sh *shard, now time.Time) {
	sh.runMu.Lock()
	defer sh.runMu.Unlock()

	for _, task := range sh.queue.PopDue(now) {
		s.execute(sh, task, now)
	}
}

// execute runs a single task and reschedules it if it repeats.
func (s *Scheduler) execute(sh *shard, t *Task, now time.Time) {
	if t.cancelled.Load() {
		return
	}

	if t.global {
		s.safely(t, func() { t.globalFn(t) })
	} else {
		reached := s.exec != nil && s.exec.Exec(t.owner, func(tx Tx) {
			s.safely(t, func() { t.fn(t, tx) })
		})
		if !reached {
			s.retire(t)
			return
		}
	}

	if t.period > 0 && !t.cancelled.Load() {
		t.executeAt = nextRun(t.executeAt, t.period, now)
		sh.queue.Push(t)
	}
}

// retire cancels a task whose owner became unreachable and notifies the
// scheduler of the task, once.
func (s *Scheduler) retire(t *Task) {
	if t.cancelled.Swap(true) {
		return
	}
	if t.retired != nil {
		s.safely(t, func() { t.retired(t) })
	}
}

// safely runs fn, turning a panic into a logged error that cancels only the
// offending task.
func (s *Scheduler) safely(t *Task, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.cancelled.Store(true)
			s.log.Error("ride: panic in scheduled task",
				"owner", t.owner,
				"error", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// shardFor returns the shard owning the given entity.
func (s *Scheduler) shardFor(owner uuid.UUID) *shard {
	h := fnv.New32a()
	_, _ = h.Write(owner[:])
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *Scheduler) push(t *Task) *Task {
	var sh *shard
	if t.global {
		sh = s.shards[0]
	} else {
		sh = s.shardFor(t.owner)
	}
	sh.queue.Push(t)
	return t
}

// Run schedules fn to run once on the owner's context as soon as possible.
// retired is called instead if the owner cannot be reached; it may be nil.
func (s *Scheduler) Run(owner uuid.UUID, fn func(tx Tx), retired func()) *Task {
	return s.RunDelayed(owner, fn, retired, 0)
}

// RunDelayed schedules fn to run once on the owner's context after delay.
func (s *Scheduler) RunDelayed(owner uuid.UUID, fn func(tx Tx), retired func(), delay time.Duration) *Task {
	t := &Task{
		owner:     owner,
		fn:        func(_ *Task, tx Tx) { fn(tx) },
		executeAt: s.now().Add(delay),
	}
	if retired != nil {
		t.retired = func(*Task) { retired() }
	}
	return s.push(t)
}

// RunAtFixedRate schedules fn to run on the owner's context every period,
// starting after delay. The task stops when cancelled, when fn cancels it, or
// when the owner becomes unreachable, in which case retired is called with
// the task.
func (s *Scheduler) RunAtFixedRate(owner uuid.UUID, fn func(t *Task, tx Tx), retired func(t *Task), delay, period time.Duration) *Task {
	if period <= 0 {
		period = s.TickRate()
	}
	return s.push(&Task{
		owner:     owner,
		fn:        fn,
		retired:   retired,
		period:    period,
		executeAt: s.now().Add(delay),
	})
}

// RunGlobal schedules fn on no particular entity. A positive period makes the
// task repeat until cancelled.
func (s *Scheduler) RunGlobal(fn func(t *Task), delay, period time.Duration) *Task {
	return s.push(&Task{
		global:    true,
		globalFn:  fn,
		period:    period,
		executeAt: s.now().Add(delay),
	})
}
