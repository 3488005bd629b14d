package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "persona-relay/pkg/logger"
)

const (
	defaultMaxConcurrent = 16
	defaultLaneBacklog   = 32
)

var (
	// ErrClosed is returned by Submit after Shutdown has started.
	ErrClosed = errors.New("worker: executor is shut down")
	// ErrBacklogFull is returned when a key already has the maximum number
	// of tasks waiting.
	ErrBacklogFull = errors.New("worker: conversation backlog is full")
)

// Task is one unit of work. ctx is detached from whoever submitted it.
type Task func(ctx context.Context)

// lane holds the pending tasks of one key. At most one goroutine drains a
// lane at a time, which keeps tasks of the same key in submission order.
type lane struct {
	pending []Task
}

// Executor runs tasks asynchronously, serially per key and concurrently
// across keys.
type Executor struct {
	baseCtx  context.Context
	sem      chan struct{}
	backlog  int
	wg       sync.WaitGroup
	inFlight atomic.Int64

	mu     sync.Mutex
	lanes  map[int64]*lane
	closed bool
}

// New creates an Executor. maxConcurrent bounds how many tasks run at once
// across all keys; backlog bounds how many tasks may wait per key.
func New(maxConcurrent, backlog int) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	if backlog <= 0 {
		backlog = defaultLaneBacklog
	}
	return &Executor{
		baseCtx: context.Background(),
		sem:     make(chan struct{}, maxConcurrent),
		backlog: backlog,
		lanes:   make(map[int64]*lane),
	}
}

// Submit enqueues task on the lane for key and returns without waiting for
// it to run.
func (e *Executor) Submit(key int64, task Task) error {
	if task == nil {
		return fmt.Errorf("worker: nil task")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if l, ok := e.lanes[key]; ok {
		if len(l.pending) >= e.backlog {
			e.mu.Unlock()
			return ErrBacklogFull
		}
		l.pending = append(l.pending, task)
		e.inFlight.Add(1)
		e.mu.Unlock()
		return nil
	}
	l := &lane{pending: []Task{task}}
	e.lanes[key] = l
	e.inFlight.Add(1)
	e.wg.Add(1)
	e.mu.Unlock()

	go e.drain(key, l)
	return nil
}

// InFlight reports submitted tasks that have not finished yet.
func (e *Executor) InFlight() int64 {
	return e.inFlight.Load()
}

func (e *Executor) drain(key int64, l *lane) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		if len(l.pending) == 0 {
			delete(e.lanes, key)
			e.mu.Unlock()
			return
		}
		task := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		e.mu.Unlock()

		e.run(key, task)
	}
}

func (e *Executor) run(key int64, task Task) {
	e.sem <- struct{}{}
	defer func() {
		<-e.sem
		e.inFlight.Add(-1)
		if r := recover(); r != nil {
			logx.Error().
				Int64("lane", key).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("task panicked")
		}
	}()
	task(e.baseCtx)
}

// Shutdown stops accepting tasks and waits for every queued task to finish
// or for ctx to expire, whichever comes first.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker: shutdown: %d task(s) still in flight: %w", e.InFlight(), ctx.Err())
	}
}
