// Package pool runs deferred operations with a fixed concurrency ceiling.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrTaskPanicked is returned by the handle of a task that panicked.
var ErrTaskPanicked = errors.New("task panicked")

// Task is one deferred operation.
type Task func(ctx context.Context) error

// Handle resolves with the outcome of a single submitted task.
type Handle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task finishes and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

type job struct {
	task   Task
	handle *Handle
}

// Pool starts queued tasks in submission order, never running more than its
// limit at once. Completion order is unconstrained and a failing task has no
// effect on any other.
type Pool struct {
	ctx context.Context
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu          sync.Mutex
	queue       []job
	dispatching bool
}

// New creates a pool whose tasks receive ctx. Tasks still queued when ctx is
// cancelled are never started; their handles resolve with ctx.Err().
func New(ctx context.Context, limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{
		ctx: ctx,
		sem: semaphore.NewWeighted(int64(limit)),
	}
}

// Submit queues t and returns immediately.
func (p *Pool) Submit(t Task) *Handle {
	h := &Handle{done: make(chan struct{})}
	p.wg.Add(1)

	p.mu.Lock()
	p.queue = append(p.queue, job{task: t, handle: h})
	if !p.dispatching {
		p.dispatching = true
		go p.dispatch()
	}
	p.mu.Unlock()
	return h
}

// Wait blocks until every submitted task has resolved.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// dispatch drains the queue on a single goroutine so slots are handed out in
// submission order.
func (p *Pool) dispatch() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.dispatching = false
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue[0] = job{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.finish(j.handle, err)
			continue
		}
		go func() {
			defer p.sem.Release(1)
			p.finish(j.handle, p.call(j.task))
		}()
	}
}

// call runs t, turning a panic into an error on its own handle.
func (p *Pool) call(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return t(p.ctx)
}

func (p *Pool) finish(h *Handle, err error) {
	h.err = err
	close(h.done)
	p.wg.Done()
}
