package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesSubmittedTasks(t *testing.T) {
	var processed int64
	var wg sync.WaitGroup

	pool, err := New(Config{Workers: 4, QueueSize: 32}, func(ctx context.Context, task *Task) error {
		defer wg.Done()
		atomic.AddInt64(&processed, 1)
		return nil
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(&Task{ID: "t"}))
	}
	wg.Wait()

	assert.Equal(t, int64(20), atomic.LoadInt64(&processed))
	stats := pool.Stats()
	assert.Equal(t, int64(20), stats.TasksSubmitted)
	assert.Equal(t, int64(20), stats.TasksCompleted)
	assert.Equal(t, int64(0), stats.TasksFailed)
}

func TestPoolRetriesFailedTasks(t *testing.T) {
	var attempts int64
	done := make(chan struct{})

	pool, err := New(Config{Workers: 1, QueueSize: 8, MaxRetries: 2, RetryDelay: time.Millisecond},
		func(ctx context.Context, task *Task) error {
			if atomic.AddInt64(&attempts, 1) < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(&Task{ID: "retry"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not complete")
	}
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
	assert.Equal(t, int64(2), pool.Stats().TasksRetried)
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool, err := New(Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, task *Task) error {
		<-block
		return nil
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer func() {
		close(block)
		pool.Stop()
	}()

	// First task occupies the worker, second fills the queue. Submissions
	// race with the worker draining, so keep submitting until one is
	// rejected.
	var rejected bool
	for i := 0; i < 10; i++ {
		if err := pool.Submit(&Task{ID: "x"}); err != nil {
			rejected = true
			break
		}
	}
	assert.True(t, rejected)
}

func TestPoolRejectsAfterStop(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 1, GracefulShutdownTimeout: time.Second},
		func(ctx context.Context, task *Task) error { return nil }, nil)
	require.NoError(t, err)
	pool.Start()
	require.NoError(t, pool.Stop())

	assert.Error(t, pool.Submit(&Task{ID: "late"}))
}

func TestNewRequiresWorkerFunc(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}
