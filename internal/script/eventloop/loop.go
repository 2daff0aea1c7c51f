// internal/script/eventloop/loop.go
package eventloop

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrTaskLimit is returned when a run exceeds its macrotask budget, which
// stops pages whose intervals never clear.
var ErrTaskLimit = errors.New("eventloop: task limit reached")

// DefaultMaxTasks bounds the macrotasks run by one call to Run.
const DefaultMaxTasks = 1000

// Job is one unit of queued work.
type Job func() error

type timer struct {
	id    int
	due   time.Duration
	seq   uint64
	job   Job
	index int
}

type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }
func (q timerQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}
func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *timerQueue) Push(x any) {
	t := x.(*timer)
	t.index = len(*q)
	*q = append(*q, t)
}
func (q *timerQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	t.index = -1
	return t
}

// Loop is a two-queue event loop on a virtual clock. Microtasks drain
// completely after every macrotask; macrotasks are timers ordered by due
// time and then by scheduling order. Time advances to each timer's due
// time instead of sleeping, so pages settle deterministically.
//
// A Loop belongs to one goroutine.
type Loop struct {
	logger   *zap.Logger
	micro    []Job
	timers   timerQueue
	byID     map[int]*timer
	now      time.Duration
	nextID   int
	seq      uint64
	maxTasks int
	ran      int
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxTasks sets the macrotask budget of each Run. Values below one
// keep the default.
func WithMaxTasks(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxTasks = n
		}
	}
}

// New creates an empty loop.
func New(logger *zap.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		logger:   logger.Named("eventloop"),
		byID:     map[int]*timer{},
		maxTasks: DefaultMaxTasks,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnqueueMicrotask appends job to the microtask queue.
func (l *Loop) EnqueueMicrotask(job func() error) {
	l.micro = append(l.micro, job)
}

// SetTimeout schedules job after delay of virtual time and returns its id.
func (l *Loop) SetTimeout(delay time.Duration, job func() error) int {
	l.nextID++
	l.seq++
	t := &timer{id: l.nextID, due: l.now + max(delay, 0), seq: l.seq, job: job}
	heap.Push(&l.timers, t)
	l.byID[t.id] = t
	return t.id
}

// ClearTimeout cancels a pending timer. Unknown ids are ignored.
func (l *Loop) ClearTimeout(id int) {
	t, ok := l.byID[id]
	if !ok {
		return
	}
	delete(l.byID, id)
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
	}
}

// Now reports the virtual time.
func (l *Loop) Now() time.Duration { return l.now }

// Pending reports queued microtasks plus pending timers.
func (l *Loop) Pending() int { return len(l.micro) + len(l.timers) }

// TasksRun reports the macrotasks run since the loop was created.
func (l *Loop) TasksRun() int { return l.ran }

// RunMicrotasks drains the microtask queue, including microtasks queued
// while draining. Failing jobs are logged and reported together.
func (l *Loop) RunMicrotasks() error {
	var errs []error
	for len(l.micro) > 0 {
		job := l.micro[0]
		l.micro[0] = nil
		l.micro = l.micro[1:]
		if err := job(); err != nil {
			l.logger.Debug("Microtask failed.", zap.Error(err))
			errs = append(errs, err)
		}
	}
	l.micro = nil
	return errors.Join(errs...)
}

// RunTurn runs the next due timer and then drains microtasks. It reports
// false when no timer was pending.
func (l *Loop) RunTurn() (bool, error) {
	if len(l.timers) == 0 {
		return false, l.RunMicrotasks()
	}
	t := heap.Pop(&l.timers).(*timer)
	delete(l.byID, t.id)
	l.now = max(l.now, t.due)
	l.ran++
	taskErr := t.job()
	if taskErr != nil {
		l.logger.Debug("Task failed.", zap.Int("timer_id", t.id), zap.Error(taskErr))
	}
	return true, errors.Join(taskErr, l.RunMicrotasks())
}

// Run drains microtasks and then runs timers until the queues are empty,
// ctx is done, or the task budget is spent. A failing task does not stop
// the loop; all failures are returned joined.
func (l *Loop) Run(ctx context.Context) error {
	errs := []error{l.RunMicrotasks()}
	for budget := l.maxTasks; ; budget-- {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if len(l.timers) == 0 {
			break
		}
		if budget == 0 {
			l.logger.Warn("Event loop stopped at its task limit.",
				zap.Int("max_tasks", l.maxTasks), zap.Int("pending", l.Pending()))
			return errors.Join(append(errs, fmt.Errorf("%w after %d tasks", ErrTaskLimit, l.maxTasks))...)
		}
		_, err := l.RunTurn()
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
