package binder

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrContextClosed = errors.New("binder context closed")

// Context holds the process's current Service Manager handle. The first
// caller to bind sets it; later callers share it until it dies or is
// replaced. Binds run outside the lock, so Current and Close answer at
// once while one is pending.
type Context struct {
	provider Provider
	timeout  time.Duration

	// ctx bounds every bind and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current Handle
	pending *bindCall
	closed  bool
}

// bindCall is one bind shared by every caller that asked for it.
type bindCall struct {
	done chan struct{}
	h    Handle
	err  error
}

func NewContext(p Provider, timeout time.Duration) *Context {
	ctx, cancel := context.WithCancel(context.Background())
	return &Context{provider: p, timeout: timeout, ctx: ctx, cancel: cancel}
}

// Acquire returns the live current handle, binding one if there is
// none. Concurrent callers wait for the same bind. A caller whose ctx
// ends stops waiting; the bind carries on for the others.
func (c *Context) Acquire(ctx context.Context) (Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrContextClosed
	}
	if c.current != nil && c.current.Alive() {
		h := c.current
		c.mu.Unlock()
		return h, nil
	}
	call := c.startLocked()
	c.mu.Unlock()
	return call.wait(ctx)
}

// Replace binds a fresh handle and closes the one it supersedes. Calls
// still running on the old handle fail with ErrServiceDestroyed. On
// failure the current handle is left alone. A Replace that finds a bind
// already pending shares its result.
func (c *Context) Replace(ctx context.Context) (Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrContextClosed
	}
	call := c.startLocked()
	c.mu.Unlock()
	return call.wait(ctx)
}

// startLocked returns the pending bind, starting one if needed. c.mu
// must be held.
func (c *Context) startLocked() *bindCall {
	if c.pending != nil {
		return c.pending
	}
	call := &bindCall{done: make(chan struct{})}
	c.pending = call
	go c.bind(call)
	return call
}

func (c *Context) bind(call *bindCall) {
	h, err := From(c.ctx, c.provider, c.timeout)

	var old Handle
	c.mu.Lock()
	c.pending = nil
	switch {
	case c.closed:
		if err == nil {
			h.Close()
		}
		h, err = nil, ErrContextClosed
	case err == nil:
		old, c.current = c.current, h
	}
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	call.h, call.err = h, err
	close(call.done)
}

func (b *bindCall) wait(ctx context.Context) (Handle, error) {
	select {
	case <-b.done:
		return b.h, b.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Current returns the live handle without binding, or nil.
func (c *Context) Current() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.Alive() {
		return c.current
	}
	return nil
}

// Close releases the current handle and abandons a pending bind. The
// context cannot be used afterwards.
func (c *Context) Close() error {
	c.mu.Lock()
	c.closed = true
	h := c.current
	c.current = nil
	c.mu.Unlock()

	c.cancel()
	if h == nil {
		return nil
	}
	return h.Close()
}
