// Package renderloop provides the single goroutine that owns the overlay layer tree. Every layer
// mutation and every read of the screen geometry used for composition runs as a task on the loop,
// one at a time and in submission order.
package renderloop

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/overlay/logging"
	"go.viam.com/overlay/utils"
)

// ErrStopped is returned when submitting to a loop that has been stopped.
var ErrStopped = errors.New("render loop stopped")

// DefaultQueueSize is the number of tasks that can be pending before Async blocks.
const DefaultQueueSize = 64

// A Task runs on the render loop.
type Task func()

// Loop runs tasks serially on one goroutine.
type Loop struct {
	tasks   chan Task
	workers utils.StoppableWorkers
	logger  logging.Logger
}

// New starts a loop. queueSize <= 0 selects DefaultQueueSize.
func New(queueSize int, logger logging.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	l := &Loop{
		tasks:  make(chan Task, queueSize),
		logger: logger,
	}
	l.workers = utils.NewStoppableWorkers(l.run)
	return l
}

func (l *Loop) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.tasks:
			l.runTask(task)
		}
	}
}

func (l *Loop) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("render task panicked", "panic", r)
		}
	}()
	task()
}

// Async schedules task and returns without waiting for it. It blocks only while the queue is
// full. A task submitted after Stop is dropped and ErrStopped is returned.
func (l *Loop) Async(task Task) error {
	return l.AsyncContext(context.Background(), task)
}

// AsyncContext is Async bounded by ctx: if ctx is done before the task is queued, the task is
// dropped and ctx.Err() is returned.
func (l *Loop) AsyncContext(ctx context.Context, task Task) error {
	loopCtx := l.workers.Context()
	if loopCtx.Err() != nil {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-loopCtx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case l.tasks <- task:
		return nil
	}
}

// Sync schedules task and waits until it has run, ctx is done, or the loop stops. It must not be
// called from a task, since the loop would wait on itself.
func (l *Loop) Sync(ctx context.Context, task Task) error {
	done := make(chan struct{})
	if err := l.AsyncContext(ctx, func() {
		defer close(done)
		task()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.workers.Context().Done():
		return ErrStopped
	}
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	return l.workers.Context().Err() != nil
}

// Stop ends the loop. Pending tasks are discarded.
func (l *Loop) Stop() {
	l.workers.Stop()
}
