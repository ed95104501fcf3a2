// Package workerpool provides a bounded worker pool with per-task retries,
// used to fan out reminder dispatch.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work.
type Task struct {
	ID      string
	Payload any
	Context context.Context
}

// WorkerFunc processes one task. A non-nil error triggers a retry until the
// pool's retry budget is spent.
type WorkerFunc func(ctx context.Context, task *Task) error

// Config holds worker pool configuration.
type Config struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	// RetryDelay is the base delay between retries; backoff is linear in
	// the attempt number.
	RetryDelay              time.Duration
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults for reminder dispatch.
func DefaultConfig() Config {
	return Config{
		Workers:                 16,
		QueueSize:               1024,
		MaxRetries:              3,
		RetryDelay:              100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a fixed set of workers draining a bounded queue.
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	taskChan chan *Task
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
	queueDepth     int64
}

// New creates a new worker pool.
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		taskChan:   make(chan *Task, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all workers.
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit enqueues a task. It fails fast when the queue is full or the pool
// is shutting down.
func (p *Pool) Submit(task *Task) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case p.taskChan <- task:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		atomic.AddInt64(&p.queueDepth, 1)
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// Stop drains the queue and waits for workers, bounded by the shutdown
// timeout.
func (p *Pool) Stop() error {
	p.logger.Info("stopping worker pool")
	p.cancel()
	close(p.taskChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.taskChan {
		atomic.AddInt64(&p.queueDepth, -1)
		p.runTask(id, task)
	}
}

func (p *Pool) runTask(workerID int, task *Task) {
	ctx := task.Context
	if ctx == nil {
		ctx = p.ctx
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			p.fail(workerID, task, ctx.Err())
			return
		default:
		}

		if lastErr = p.workerFunc(ctx, task); lastErr == nil {
			atomic.AddInt64(&p.tasksCompleted, 1)
			return
		}

		if attempt < p.config.MaxRetries {
			atomic.AddInt64(&p.tasksRetried, 1)
			p.logger.Debug("retrying task",
				zap.String("task_id", task.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				p.fail(workerID, task, ctx.Err())
				return
			case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
			}
		}
	}

	p.fail(workerID, task, fmt.Errorf("task failed after %d retries: %w", p.config.MaxRetries, lastErr))
}

func (p *Pool) fail(workerID int, task *Task, err error) {
	atomic.AddInt64(&p.tasksFailed, 1)
	p.logger.Error("task failed",
		zap.String("task_id", task.ID),
		zap.Int("worker_id", workerID),
		zap.Error(err))
}

// Stats holds pool counters.
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	QueueDepth     int64
	QueueCapacity  int
	Workers        int
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		QueueDepth:     atomic.LoadInt64(&p.queueDepth),
		QueueCapacity:  p.config.QueueSize,
		Workers:        p.config.Workers,
	}
}

// IsHealthy reports whether the queue has headroom.
func (p *Pool) IsHealthy() bool {
	stats := p.Stats()
	return float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}
