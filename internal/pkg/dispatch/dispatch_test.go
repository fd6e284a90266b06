package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRecorder struct {
	mu       sync.Mutex
	started  map[uuid.UUID]Task
	finished map[uuid.UUID]Task
}

func newMemRecorder() *memRecorder {
	return &memRecorder{started: map[uuid.UUID]Task{}, finished: map[uuid.UUID]Task{}}
}

func (m *memRecorder) Start(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[task.ID] = *task
	return nil
}

func (m *memRecorder) Finish(_ context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[task.ID] = *task
	return nil
}

func (m *memRecorder) get(id uuid.UUID) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.finished[id]
	return t, ok
}

func TestTriggerDoesNotBlock(t *testing.T) {
	d := New(Options{})
	release := make(chan struct{})

	start := time.Now()
	d.Trigger("analysis", "p-1", func(ctx context.Context) error {
		<-release
		return nil
	})
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestTriggerWithRetryExhaustion(t *testing.T) {
	rec := newMemRecorder()
	d := New(Options{Recorder: rec})

	var attempts atomic.Int32
	id := d.TriggerWithRetry("analysis", "p-1", func(ctx context.Context) error {
		attempts.Add(1)
		return errors.New("vision call failed")
	}, 2, time.Millisecond)

	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int32(3), attempts.Load())

	task, ok := rec.get(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Equal(t, "vision call failed", task.LastError.String)
}

func TestTriggerWithRetryStopsOnSuccess(t *testing.T) {
	rec := newMemRecorder()
	d := New(Options{Recorder: rec})

	var attempts atomic.Int32
	id := d.TriggerWithRetry("analysis", "p-2", func(ctx context.Context) error {
		if attempts.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	}, 5, time.Millisecond)

	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int32(2), attempts.Load())

	task, _ := rec.get(id)
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.False(t, task.LastError.Valid)
}

func TestPanicIsRecovered(t *testing.T) {
	rec := newMemRecorder()
	d := New(Options{Recorder: rec})

	id := d.Trigger("analysis", "p-3", func(ctx context.Context) error {
		panic("boom")
	})

	require.NoError(t, d.Shutdown(context.Background()))
	task, ok := rec.get(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.LastError.String, "boom")
}

func TestTriggerBatchRunsEveryItemIndependently(t *testing.T) {
	rec := newMemRecorder()
	d := New(Options{Recorder: rec})

	var ran atomic.Int32
	items := []BatchItem{
		{Ref: "a", Fn: func(ctx context.Context) error { ran.Add(1); return nil }},
		{Ref: "b", Fn: func(ctx context.Context) error { ran.Add(1); return errors.New("bad image") }},
		{Ref: "c", Fn: func(ctx context.Context) error { ran.Add(1); return nil }},
	}
	ids := d.TriggerBatch("analysis", items, 0, 0)
	require.Len(t, ids, 3)

	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int32(3), ran.Load())

	statuses := make([]Status, 0, 3)
	for _, id := range ids {
		task, _ := rec.get(id)
		statuses = append(statuses, task.Status)
	}
	assert.Equal(t, []Status{StatusSucceeded, StatusFailed, StatusSucceeded}, statuses)
}

func TestTriggerAfterShutdownIsRecordedAsFailed(t *testing.T) {
	rec := newMemRecorder()
	d := New(Options{Recorder: rec})
	require.NoError(t, d.Shutdown(context.Background()))

	var ran atomic.Bool
	id := d.Trigger("analysis", "late", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	assert.False(t, ran.Load())
	task, ok := rec.get(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, ErrClosed.Error(), task.LastError.String)
}

func TestShutdownDeadlineCancelsRunningTasks(t *testing.T) {
	d := New(Options{})
	d.Trigger("analysis", "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTaskTimeoutBoundsAttempt(t *testing.T) {
	rec := newMemRecorder()
	d := New(Options{TaskTimeout: 10 * time.Millisecond, Recorder: rec})

	id := d.Trigger("analysis", "hung", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.NoError(t, d.Shutdown(context.Background()))
	task, _ := rec.get(id)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), task.LastError.String)
}
