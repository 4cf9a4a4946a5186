package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Func is a unit of detached work.
type Func func(context.Context) error

// Task represents a queued best-effort task.
type Task struct {
	Name     string
	Run      Func
	Attempt  int
	Enqueued time.Time
}

// Config configures worker pool behaviour.
type Config struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Runner is a bounded in-memory dispatcher for fire-and-forget work. Submissions never
// block the caller; when the buffer is full the task is dropped and logged.
type Runner struct {
	name string

	workers    int
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	logger     *zap.Logger

	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	dropped uint64
	failed  uint64
}

// NewRunner builds a runner; call Start before submitting.
func NewRunner(name string, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 64
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Runner{
		name:       name,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		tasks:      make(chan Task, cfg.BufferSize),
	}
}

// Start begins worker consumption. Safe to call once.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.started = true
	r.logger.Sugar().Infow("task runner started", "runner", r.name, "workers", r.workers)
}

// Stop cancels workers and waits for them to exit. Queued tasks are discarded.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.started = false
	r.mu.Unlock()
	r.wg.Wait()
	r.logger.Sugar().Infow("task runner stopped", "runner", r.name, "dropped", atomic.LoadUint64(&r.dropped), "failed", atomic.LoadUint64(&r.failed))
}

// Submit queues fn under name. It reports false when the runner is stopped or full.
func (r *Runner) Submit(name string, fn Func) bool {
	if fn == nil {
		return false
	}
	return r.enqueue(Task{Name: name, Run: fn, Enqueued: time.Now().UTC()})
}

// Dropped returns how many tasks were discarded because the buffer was full.
func (r *Runner) Dropped() uint64 {
	return atomic.LoadUint64(&r.dropped)
}

func (r *Runner) enqueue(task Task) bool {
	r.mu.Lock()
	started := r.started
	ctx := r.ctx
	r.mu.Unlock()

	if !started || ctx.Err() != nil {
		return false
	}

	select {
	case r.tasks <- task:
		return true
	default:
		atomic.AddUint64(&r.dropped, 1)
		r.logger.Sugar().Warnw("task dropped, runner full", "runner", r.name, "task", task.Name)
		return false
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case task := <-r.tasks:
			if err := r.run(task); err != nil {
				r.handleFailure(task, err)
			}
		}
	}
}

func (r *Runner) run(task Task) (err error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Sugar().Errorw("task panicked", "runner", r.name, "task", task.Name, "panic", rec)
			err = nil
		}
	}()
	return task.Run(ctx)
}

func (r *Runner) handleFailure(task Task, err error) {
	task.Attempt++
	if task.Attempt > r.maxRetries {
		atomic.AddUint64(&r.failed, 1)
		r.logger.Sugar().Debugw("task failed", "runner", r.name, "task", task.Name, "attempts", task.Attempt, "error", err)
		return
	}
	r.logger.Sugar().Debugw("task failed, retrying", "runner", r.name, "task", task.Name, "attempt", task.Attempt, "error", err)

	go func(t Task) {
		timer := time.NewTimer(r.retryDelay)
		defer timer.Stop()
		select {
		case <-r.ctx.Done():
			return
		case <-timer.C:
			r.enqueue(t)
		}
	}(task)
}
