// Package worker runs background tasks on goroutines with an optional
// concurrency bound.
package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Go after Shutdown has begun.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is one unit of background work. ctx is cancelled only when a
// shutdown deadline expires. Every scheduled task is invoked exactly once; a
// task still waiting for a slot at that point runs with the cancelled ctx so
// it can record that it never started.
type Task func(ctx context.Context)

// DefaultCancelGrace is how long Shutdown waits for tasks to return after
// their context has been cancelled.
const DefaultCancelGrace = 5 * time.Second

// PanicHandler receives the recovered value and stack of a panicking task.
type PanicHandler func(recovered any, stack []byte)

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithCancelGrace overrides DefaultCancelGrace.
func WithCancelGrace(d time.Duration) Option {
	return func(p *Pool) { p.grace = d }
}

// WithPanicHandler sets the handler invoked when a task panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(p *Pool) { p.onPanic = h }
}

// Pool dispatches tasks without blocking the caller. With a positive
// concurrency, at most that many tasks execute at once; the rest wait.
type Pool struct {
	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	onPanic PanicHandler
	grace   time.Duration

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	running atomic.Int64
	waiting atomic.Int64
}

// NewPool creates a Pool. concurrency <= 0 means unbounded.
func NewPool(concurrency int, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel, logger: zap.NewNop(), grace: DefaultCancelGrace}
	if concurrency > 0 {
		p.sem = semaphore.NewWeighted(int64(concurrency))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Go schedules task and returns immediately.
func (p *Pool) Go(task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.waiting.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			if err := p.sem.Acquire(p.ctx, 1); err != nil {
				p.waiting.Add(-1)
				p.logger.Warn("task cancelled before start", zap.Error(err))
				p.run(task)
				return
			}
			defer p.sem.Release(1)
		}
		p.waiting.Add(-1)
		p.running.Add(1)
		defer p.running.Add(-1)
		p.run(task)
	}()
	return nil
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			p.logger.Error("task panicked", zap.Any("panic", r), zap.ByteString("stack", stack))
			if p.onPanic != nil {
				p.onPanic(r, stack)
			}
		}
	}()
	task(p.ctx)
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Waiting returns the number of scheduled tasks not yet started.
func (p *Pool) Waiting() int { return int(p.waiting.Load()) }

// Shutdown stops accepting tasks and waits for scheduled ones to finish. If ctx
// expires first, tasks are cancelled and given the cancel grace period to
// return, and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		select {
		case <-done:
		case <-time.After(p.grace):
			p.logger.Warn("tasks still running after cancellation", zap.Int("running", p.Running()))
		}
		return ctx.Err()
	}
}
