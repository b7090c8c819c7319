package taskqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"seagoat/pkg/types"
)

// Priorities match §4.8; lower runs first, equal priorities are FIFO.
const (
	PriorityQuery        = 0
	PriorityGetStats     = 0
	PriorityAnalyzeChunk = 5
	PriorityMaintenance  = 9
)

// DefaultCapacity bounds the submission queue; over-capacity submissions
// fail with Overloaded.
const DefaultCapacity = 1024

// DefaultIdleInterval is how long the worker waits with nothing queued
// before it synthesizes a maintenance task.
const DefaultIdleInterval = 10 * time.Second

// RunFunc is the work a task performs once dispatched to the worker.
type RunFunc func(ctx context.Context) (any, error)

type task struct {
	id       string
	priority int
	seq      uint64
	deadline time.Time
	run      RunFunc
	done     chan taskResult
}

type taskResult struct {
	value any
	err   error
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Handle is a one-shot future for a submitted task's outcome.
type Handle struct {
	ID   string
	done chan taskResult
}

// Wait blocks until the task completes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case r := <-h.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, types.NewError(types.KindCancelled, "taskqueue.Wait", ctx.Err())
	}
}

// NewChainedHandle returns a Handle together with the resolve function that
// fulfills it, for a caller that dispatches a logical unit of work as a
// sequence of several Submit calls (one per analyze_chunk step, say) and
// wants one Handle representing the whole sequence rather than its last
// step alone.
func NewChainedHandle() (*Handle, func(value any, err error)) {
	h := &Handle{ID: uuid.New().String(), done: make(chan taskResult, 1)}
	resolve := func(value any, err error) {
		h.done <- taskResult{value: value, err: err}
	}
	return h, resolve
}

// Config configures a Queue.
type Config struct {
	Capacity     int
	IdleInterval time.Duration
	// Maintenance, if set, is synthesized as a task whenever the worker has
	// been idle for IdleInterval with nothing else queued.
	Maintenance RunFunc
}

// Queue is the bounded single-worker priority dispatcher that serializes
// every Engine mutation and query.
type Queue struct {
	mu       sync.Mutex
	heap     taskHeap
	capacity int
	nextSeq  uint64
	closed   bool
	depth    int

	notify chan struct{}
	done   chan struct{}

	idleInterval time.Duration
	maintenance  RunFunc
}

// New builds a Queue and starts its single worker goroutine.
func New(cfg Config) *Queue {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	idle := cfg.IdleInterval
	if idle <= 0 {
		idle = DefaultIdleInterval
	}

	q := &Queue{
		capacity:     capacity,
		idleInterval: idle,
		maintenance:  cfg.Maintenance,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit enqueues run at priority, returning a Handle to await its result.
// A zero deadline means none. Overloaded is returned once the queue is at
// capacity.
func (q *Queue) Submit(priority int, deadline time.Time, run RunFunc) (*Handle, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, types.NewError(types.KindInternal, "taskqueue.Submit", errors.New("queue is closed"))
	}
	if q.depth >= q.capacity {
		q.mu.Unlock()
		return nil, types.NewError(types.KindOverloaded, "taskqueue.Submit", errors.New("submission queue is full"))
	}

	t := &task{
		id:       uuid.New().String(),
		priority: priority,
		seq:      q.nextSeq,
		deadline: deadline,
		run:      run,
		done:     make(chan taskResult, 1),
	}
	q.nextSeq++
	q.depth++
	heap.Push(&q.heap, t)
	q.mu.Unlock()

	q.signal()
	return &Handle{ID: t.id, done: t.done}, nil
}

// Depth reports the number of tasks currently waiting.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Close stops accepting submissions and blocks until the worker has run
// its current and queued tasks and exited.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	<-q.done
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		t, ok := q.popOrWait()
		if !ok {
			return
		}
		q.execute(t)
	}
}

// popOrWait blocks for the next task, synthesizing a maintenance task after
// idleInterval of nothing queued, as §4.8 specifies.
func (q *Queue) popOrWait() (*task, bool) {
	for {
		q.mu.Lock()
		if q.heap.Len() > 0 {
			t := heap.Pop(&q.heap).(*task)
			q.depth--
			q.mu.Unlock()
			return t, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		if q.maintenance == nil {
			<-q.notify
			continue
		}

		select {
		case <-q.notify:
			continue
		case <-time.After(q.idleInterval):
			q.mu.Lock()
			idle := q.heap.Len() == 0 && !q.closed
			q.mu.Unlock()
			if idle {
				return &task{
					id:       uuid.New().String(),
					priority: PriorityMaintenance,
					run:      q.maintenance,
					done:     make(chan taskResult, 1),
				}, true
			}
		}
	}
}

func (q *Queue) execute(t *task) {
	ctx := context.Background()
	if !t.deadline.IsZero() {
		if time.Now().After(t.deadline) {
			t.done <- taskResult{err: types.NewError(types.KindCancelled, "taskqueue.execute", errors.New("deadline passed before execution"))}
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, t.deadline)
		defer cancel()
	}

	value, err := t.run(ctx)
	t.done <- taskResult{value: value, err: err}
}
