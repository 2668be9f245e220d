package router

import (
	"context"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/errors"
)

// Factory produces a ready-to-use client instance for a service.
type Factory func(ctx context.Context) (any, error)

// DefaultAcquireTimeout bounds waiting for a pooled instance when the
// caller passes no timeout.
const DefaultAcquireTimeout = 5 * time.Second

type waiter struct {
	ch chan any
}

type servicePool struct {
	factory Factory
	idle    []any
	inUse   int
	waiters []*waiter
}

// Pool manages bounded per-service client instances. Acquire returns an
// idle instance, creates one under the size limit, or waits until release
// or timeout.
type Pool struct {
	mu          sync.Mutex
	services    map[string]*servicePool
	maxPoolSize int
}

// NewPool creates a pool with the given per-service size limit.
func NewPool(maxPoolSize int) *Pool {
	if maxPoolSize <= 0 {
		maxPoolSize = 1
	}
	return &Pool{
		services:    make(map[string]*servicePool),
		maxPoolSize: maxPoolSize,
	}
}

// RegisterService installs the factory for a service.
func (p *Pool) RegisterService(id string, factory Factory) error {
	if factory == nil {
		return errors.ValidationError("factory cannot be nil", "factory")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services[id] = &servicePool{factory: factory}
	return nil
}

// GetService acquires an instance for the service, waiting up to timeout
// when the pool is exhausted. A zero timeout uses the default.
func (p *Pool) GetService(ctx context.Context, id string, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}

	p.mu.Lock()
	sp, ok := p.services[id]
	if !ok {
		p.mu.Unlock()
		return nil, errors.NotFoundError("service", id)
	}

	if n := len(sp.idle); n > 0 {
		instance := sp.idle[n-1]
		sp.idle = sp.idle[:n-1]
		sp.inUse++
		p.mu.Unlock()
		return instance, nil
	}

	if sp.inUse+len(sp.idle) < p.maxPoolSize {
		sp.inUse++
		p.mu.Unlock()

		instance, err := sp.factory(ctx)
		if err != nil {
			p.mu.Lock()
			sp.inUse--
			p.mu.Unlock()
			return nil, err
		}
		return instance, nil
	}

	// Pool exhausted: enqueue and wait for a release.
	w := &waiter{ch: make(chan any, 1)}
	sp.waiters = append(sp.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case instance := <-w.ch:
		return instance, nil
	case <-ctx.Done():
		p.removeWaiter(sp, w)
		return nil, ctx.Err()
	case <-timer.C:
		p.removeWaiter(sp, w)
		return nil, errors.TimeoutError("timed out waiting for pooled service "+id, timeout)
	}
}

// removeWaiter drops a waiter that gave up. If a release already handed it
// an instance, the instance is returned to the pool.
func (p *Pool) removeWaiter(sp *servicePool, w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, candidate := range sp.waiters {
		if candidate == w {
			sp.waiters = append(sp.waiters[:i], sp.waiters[i+1:]...)
			return
		}
	}

	// Not in the queue: a release raced us. Handoffs happen under p.mu, so
	// the instance is already buffered in our channel; reclaim it here.
	select {
	case instance := <-w.ch:
		p.releaseLocked(sp, instance)
	default:
	}
}

// ReleaseService returns an instance to the pool, handing it to the oldest
// waiter if any.
func (p *Pool) ReleaseService(id string, instance any) error {
	p.mu.Lock()
	sp, ok := p.services[id]
	p.mu.Unlock()
	if !ok {
		return errors.NotFoundError("service", id)
	}
	p.release(sp, instance)
	return nil
}

func (p *Pool) release(sp *servicePool, instance any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(sp, instance)
}

// releaseLocked hands the instance to the oldest waiter or parks it idle.
// The waiter send happens under p.mu so a timing-out waiter can never be
// dequeued between the handoff decision and the delivery; the channel is
// buffered, so the send cannot block.
func (p *Pool) releaseLocked(sp *servicePool, instance any) {
	if len(sp.waiters) > 0 {
		w := sp.waiters[0]
		sp.waiters = sp.waiters[1:]
		w.ch <- instance // stays in-use, ownership transfers to the waiter
		return
	}
	if sp.inUse > 0 {
		sp.inUse--
	}
	sp.idle = append(sp.idle, instance)
}

// Stats reports a service's pool occupancy.
func (p *Pool) Stats(id string) (inUse, idle, waiting int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.services[id]
	if !ok {
		return 0, 0, 0
	}
	return sp.inUse, len(sp.idle), len(sp.waiters)
}
