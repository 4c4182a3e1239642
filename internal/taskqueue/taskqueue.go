// Package taskqueue runs tasks one at a time, in order, on a single worker
// goroutine.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/groutine"
)

// WorkerName is the pprof goroutine label of the queue worker.
const WorkerName = "task-queue-worker"

var (
	// ErrTaskRemoved is reported by a task removed before it ran.
	ErrTaskRemoved = errors.New("task removed from queue")
	// ErrQueueClosed is reported by tasks still pending when the queue closed.
	ErrQueueClosed = errors.New("task queue closed")
)

// State is the lifecycle stage of a task.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Func is a task body.
type Func func(ctx context.Context) error

// Options configures one task.
type Options struct {
	// Name identifies the task for RemoveNamed and in logs.
	Name string

	PreDelay  time.Duration
	PostDelay time.Duration

	// Callback runs after the post-delay when the body succeeded.
	Callback func()
}

// Task is a queued unit of work.
type Task struct {
	tag  uint64
	fn   Func
	opts Options

	state atomic.Int32
	done  chan struct{}
	err   error
	once  sync.Once
}

// Tag returns the queue-unique tag of the task.
func (t *Task) Tag() uint64 { return t.tag }

// Name returns the task name, possibly empty.
func (t *Task) Name() string { return t.opts.Name }

// State returns the current lifecycle stage.
func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed when the task has completed, failed or been removed.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task outcome once Done is closed, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(s State, err error) {
	t.once.Do(func() {
		t.err = err
		t.state.Store(int32(s))
		close(t.done)
	})
}

// Queue is a FIFO of tasks drained by one worker goroutine.
type Queue struct {
	mu      sync.Mutex
	tasks   []*Task
	nextTag uint64
	closed  bool

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	logger *logrus.Logger
}

// New creates a queue and starts its worker.
func New(logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		logger:  logger,
	}
	groutine.Go(ctx, WorkerName, q.run)
	return q
}

// Push appends a task to the tail of the queue.
func (q *Queue) Push(fn Func, opts Options) *Task {
	return q.enqueue(fn, opts, false)
}

// Unshift inserts a task at the head of the queue, ahead of pending tasks.
func (q *Queue) Unshift(fn Func, opts Options) *Task {
	return q.enqueue(fn, opts, true)
}

func (q *Queue) enqueue(fn Func, opts Options, head bool) *Task {
	t := &Task{fn: fn, opts: opts, done: make(chan struct{})}

	q.mu.Lock()
	q.nextTag++
	t.tag = q.nextTag
	if q.closed {
		q.mu.Unlock()
		t.finish(StateFailed, ErrQueueClosed)
		return t
	}
	if head {
		q.tasks = append([]*Task{t}, q.tasks...)
	} else {
		q.tasks = append(q.tasks, t)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return t
}

// Remove drops the pending task with tag. A running task is not affected.
func (q *Queue) Remove(tag uint64) bool {
	return q.removeIf(func(t *Task) bool { return t.tag == tag }) > 0
}

// RemoveNamed drops every pending task named name and returns how many.
func (q *Queue) RemoveNamed(name string) int {
	if name == "" {
		return 0
	}
	return q.removeIf(func(t *Task) bool { return t.opts.Name == name })
}

func (q *Queue) removeIf(match func(*Task) bool) int {
	q.mu.Lock()
	var removed []*Task
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if match(t) {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	q.tasks = kept
	q.mu.Unlock()

	for _, t := range removed {
		t.finish(StateRemoved, ErrTaskRemoved)
	}
	return len(removed)
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops the worker, cancelling the running task's context, and fails
// every pending task with ErrQueueClosed. It waits for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	pending := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	q.cancel()
	for _, t := range pending {
		t.finish(StateFailed, ErrQueueClosed)
	}
	<-q.stopped
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.stopped)
	for {
		t := q.pop()
		if t == nil {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		q.execute(ctx, t)
		if ctx.Err() != nil {
			return
		}
	}
}

func (q *Queue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t
}

func (q *Queue) execute(ctx context.Context, t *Task) {
	t.state.Store(int32(StateRunning))
	entry := q.logger.WithFields(logrus.Fields{
		"task_tag":  t.tag,
		"task_name": t.opts.Name,
	})

	if !sleep(ctx, t.opts.PreDelay) {
		t.finish(StateFailed, ErrQueueClosed)
		return
	}

	if err := invoke(ctx, t.fn); err != nil {
		entry.WithField("error", err).Error("Task failed")
		t.finish(StateFailed, err)
		return
	}

	if !sleep(ctx, t.opts.PostDelay) {
		t.finish(StateFailed, ErrQueueClosed)
		return
	}

	if t.opts.Callback != nil {
		if err := invoke(ctx, func(context.Context) error { t.opts.Callback(); return nil }); err != nil {
			entry.WithField("error", err).Error("Task callback failed")
		}
	}
	entry.Debug("Task completed")
	t.finish(StateCompleted, nil)
}

// invoke runs fn, turning a panic into an error.
func invoke(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
