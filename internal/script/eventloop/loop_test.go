package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Helpers --

type recorder struct {
	events []string
}

func (r *recorder) job(name string) func() error {
	return func() error {
		r.events = append(r.events, name)
		return nil
	}
}

// -- Tests --

func TestMicrotasksDrainBeforeNextTimer(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	rec := &recorder{}

	l.SetTimeout(10*time.Millisecond, func() error {
		rec.events = append(rec.events, "timer-a")
		l.EnqueueMicrotask(func() error {
			rec.events = append(rec.events, "micro-from-a")
			l.EnqueueMicrotask(rec.job("nested-micro"))
			return nil
		})
		return nil
	})
	l.SetTimeout(10*time.Millisecond, rec.job("timer-b"))
	l.SetTimeout(0, rec.job("timer-zero"))
	l.EnqueueMicrotask(rec.job("micro-1"))

	require.NoError(t, l.Run(t.Context()))
	assert.Equal(t, []string{
		"micro-1",
		"timer-zero",
		"timer-a", "micro-from-a", "nested-micro",
		"timer-b",
	}, rec.events)
	assert.Equal(t, 10*time.Millisecond, l.Now())
	assert.Zero(t, l.Pending())
	assert.Equal(t, 3, l.TasksRun())
}

func TestClearTimeout(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	rec := &recorder{}
	id := l.SetTimeout(time.Second, rec.job("cancelled"))
	l.SetTimeout(2*time.Second, rec.job("kept"))
	l.ClearTimeout(id)
	l.ClearTimeout(id)
	l.ClearTimeout(999)

	require.NoError(t, l.Run(t.Context()))
	assert.Equal(t, []string{"kept"}, rec.events)
}

func TestFailingTasksDoNotStopTheLoop(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	rec := &recorder{}
	boom := errors.New("boom")
	l.SetTimeout(0, func() error { return boom })
	l.SetTimeout(0, rec.job("after"))
	l.EnqueueMicrotask(func() error { return boom })

	err := l.Run(t.Context())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"after"}, rec.events)
}

func TestTaskLimitStopsRunawayIntervals(t *testing.T) {
	l := New(zaptest.NewLogger(t), WithMaxTasks(5))
	var tick func() error
	tick = func() error {
		l.SetTimeout(time.Millisecond, tick)
		return nil
	}
	l.SetTimeout(time.Millisecond, tick)

	err := l.Run(t.Context())
	assert.ErrorIs(t, err, ErrTaskLimit)
	assert.Equal(t, 5, l.TasksRun())
	assert.Equal(t, 1, l.Pending())
}

func TestRunHonoursContext(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(t.Context())
	rec := &recorder{}
	l.SetTimeout(0, func() error {
		cancel()
		return nil
	})
	l.SetTimeout(0, rec.job("skipped"))

	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.events)
}

func TestRunTurnReportsIdle(t *testing.T) {
	l := New(nil)
	ran, err := l.RunTurn()
	require.NoError(t, err)
	assert.False(t, ran)
}
