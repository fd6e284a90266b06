// Package dispatch runs fire-and-forget work off the request path.
//
// Callers never see a task's result or error. Outcomes are logged, counted
// and handed to a Recorder so they can be audited later.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/techpack/techpack-api/internal/pkg/metrics"
)

// Func is the unit of work. ctx is detached from any request and is
// cancelled only by the task timeout or a forced shutdown.
type Func func(ctx context.Context) error

// BatchItem is one independent entry of TriggerBatch.
type BatchItem struct {
	Ref string
	Fn  Func
}

// ErrClosed is recorded for tasks submitted after Shutdown.
var ErrClosed = errors.New("dispatcher is shut down")

const defaultTaskTimeout = 10 * time.Minute

// Options configures a Dispatcher.
type Options struct {
	// TaskTimeout bounds a single attempt. Zero means ten minutes.
	TaskTimeout time.Duration
	// Recorder persists task outcomes. Nil disables recording.
	Recorder Recorder
}

// Dispatcher launches tasks on their own goroutines and tracks them so the
// process can drain in-flight work on shutdown.
type Dispatcher struct {
	recorder Recorder
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		recorder: opts.Recorder,
		timeout:  opts.TaskTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Trigger runs fn once in the background and returns immediately.
func (d *Dispatcher) Trigger(name, ref string, fn Func) uuid.UUID {
	return d.TriggerWithRetry(name, ref, fn, 0, 0)
}

// TriggerWithRetry runs fn in the background, re-attempting up to
// maxRetries times with a fixed delay between attempts. The task gives up
// silently after 1+maxRetries failed attempts.
func (d *Dispatcher) TriggerWithRetry(name, ref string, fn Func, maxRetries int, delay time.Duration) uuid.UUID {
	if maxRetries < 0 {
		maxRetries = 0
	}
	task := &Task{
		ID:        uuid.New(),
		Name:      name,
		RefID:     ref,
		Status:    StatusRunning,
		CreatedAt: time.Now(),
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		log.Warn().Str("task", name).Str("ref", ref).Msg("Background task dropped: dispatcher closed")
		task.fail(ErrClosed)
		d.finish(task)
		return task.ID
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	go d.run(task, fn, maxRetries, delay)
	return task.ID
}

// TriggerBatch dispatches every item independently, in order. There is no
// aggregate outcome.
func (d *Dispatcher) TriggerBatch(name string, items []BatchItem, maxRetries int, delay time.Duration) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, d.TriggerWithRetry(name, item.Ref, item.Fn, maxRetries, delay))
	}
	return ids
}

// Shutdown stops accepting tasks and waits for in-flight ones. When ctx
// expires first, running tasks are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) run(task *Task, fn Func, maxRetries int, delay time.Duration) {
	defer d.wg.Done()
	metrics.BackgroundTasksInFlight.Inc()
	defer metrics.BackgroundTasksInFlight.Dec()

	d.start(task)

	var err error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		task.Attempts = attempt
		if err = d.attempt(fn); err == nil {
			break
		}
		log.Warn().
			Err(err).
			Str("task", task.Name).
			Str("ref", task.RefID).
			Int("attempt", attempt).
			Int("max_attempts", maxRetries+1).
			Msg("Background task attempt failed")

		if attempt <= maxRetries && !d.wait(delay) {
			break
		}
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("task", task.Name).
			Str("ref", task.RefID).
			Int("attempts", task.Attempts).
			Msg("Background task gave up")
		task.fail(err)
	} else {
		log.Info().
			Str("task", task.Name).
			Str("ref", task.RefID).
			Int("attempts", task.Attempts).
			Msg("Background task succeeded")
		task.succeed()
	}
	d.finish(task)
}

func (d *Dispatcher) attempt(fn Func) (err error) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// wait sleeps for delay unless the dispatcher is force-stopped.
func (d *Dispatcher) wait(delay time.Duration) bool {
	if delay <= 0 {
		return d.ctx.Err() == nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *Dispatcher) start(task *Task) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.recorder.Start(ctx, task); err != nil {
		log.Warn().Err(err).Str("task", task.Name).Msg("Failed to record background task start")
	}
}

func (d *Dispatcher) finish(task *Task) {
	metrics.BackgroundTasks.WithLabelValues(task.Name, string(task.Status)).Inc()
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.recorder.Finish(ctx, task); err != nil {
		log.Warn().Err(err).Str("task", task.Name).Msg("Failed to record background task outcome")
	}
}
