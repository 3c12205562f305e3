package scheduler

import (
	"container/heap"
	"context"
	"sync"
)

// Task is a type-erased unit of ready work: Go cannot hold a
// heterogeneous slice of Executor[I, O] across phases with differing
// I/O types without boxing, so the scheduler operates on Tasks. The
// merge phase submits one Task per bucket; no phase is written as an
// Executor[I, O].
type Task struct {
	Priority int
	Run      func(ctx context.Context) error
}

type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].Priority > h[j].Priority } // max-heap: highest priority first
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler drains a priority queue of ready Tasks with a fixed pool of
// worker goroutines, the same shape as "a thread pool of threads_count
// workers calls execute on whichever ready task has the highest
// effective priority."
type Scheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     taskHeap
	workers  int
	closed   bool
	inflight int

	errOnce sync.Once
	firstErr error
}

// New creates a Scheduler with the given worker count (typically
// runtime.NumCPU(), overridable by -t).
func New(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{workers: workers}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit enqueues a ready Task.
func (s *Scheduler) Submit(t *Task) {
	s.mu.Lock()
	heap.Push(&s.heap, t)
	s.cond.Signal()
	s.mu.Unlock()
}

// Run starts the worker pool and blocks until every submitted task has
// completed and Close has been called, or until a task returns an
// error — at which point the scheduler stops pulling new tasks
// ("poisons the scheduler, which drains then aborts").
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}
	wg.Wait()
	return s.firstErr
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		s.mu.Lock()
		for len(s.heap) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.firstErr != nil || (len(s.heap) == 0 && s.closed) {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.heap).(*Task)
		s.inflight++
		s.mu.Unlock()

		err := t.Run(ctx)

		s.mu.Lock()
		s.inflight--
		if err != nil {
			s.errOnce.Do(func() { s.firstErr = err })
			s.closed = true
			s.cond.Broadcast()
		}
		s.mu.Unlock()
	}
}

// Close signals that no further Tasks will be Submitted; once the
// ready queue drains, Run returns.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
