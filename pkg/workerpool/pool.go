// Package workerpool provides a bounded worker pool for controlled
// concurrency when draining the audit stream.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work to be processed.
type Task struct {
	ID      string
	Payload interface{}
	Context context.Context
}

// Result is the outcome of task processing.
type Result struct {
	TaskID  string
	Success bool
	Error   error
}

// WorkerFunc processes one task.
type WorkerFunc func(ctx context.Context, task *Task) *Result

// Config holds worker pool configuration.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// QueueSize is the size of the task queue.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed tasks.
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
	// GracefulShutdownTimeout bounds the wait for in-flight tasks on Stop.
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for audit indexing, which is
// bounded by prescription write volume rather than raw throughput.
func DefaultConfig() Config {
	return Config{
		Workers:                 16,
		QueueSize:               1024,
		MaxRetries:              3,
		RetryDelay:              100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a fixed set of workers consuming a task queue.
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
}

// New creates a worker pool.
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

// Submit adds a task to the queue. It fails rather than blocks when the
// queue is full, so a stalled database backpressures to the caller.
func (p *Pool) Submit(task *Task) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case p.taskChan <- task:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// Stop gracefully shuts down the pool.
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
		p.processTask(id, task)
	}
}

// processTask runs a task with bounded retries and linear backoff.
func (p *Pool) processTask(workerID int, task *Task) {
	ctx := task.Context
	if ctx == nil {
		ctx = p.ctx
	}

	var result *Result
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			result = &Result{TaskID: task.ID, Success: false, Error: ctx.Err()}
			p.finish(workerID, result)
			return
		default:
		}

		result = p.workerFunc(ctx, task)
		if result.Success || attempt >= p.config.MaxRetries {
			break
		}

		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(result.Error))

		select {
		case <-ctx.Done():
			result = &Result{TaskID: task.ID, Success: false, Error: ctx.Err()}
			p.finish(workerID, result)
			return
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}

	p.finish(workerID, result)
}

func (p *Pool) finish(workerID int, result *Result) {
	if result.Success {
		atomic.AddInt64(&p.tasksCompleted, 1)
		return
	}
	atomic.AddInt64(&p.tasksFailed, 1)
	p.logger.Error("task failed",
		zap.String("task_id", result.TaskID),
		zap.Int("worker_id", workerID),
		zap.Error(result.Error))
}

// Stats holds pool counters.
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
	}
}
