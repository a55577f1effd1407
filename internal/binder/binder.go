// Package binder obtains a Service Manager handle from a Provider. Each
// provider reaches a privileged host its own way (an existing daemon
// socket, a host spawned through su, a host exec'd in a container or one
// running in process) and hands back the same remote handle.
package binder

import (
	"context"
	"errors"
	"mmrl/internal/service"
	"sync"
	"time"
)

// DefaultTimeout bounds a bind when the caller passes no timeout.
const DefaultTimeout = 15 * time.Second

var (
	ErrUnavailable      = errors.New("service provider unavailable")
	ErrUnauthorized     = errors.New("service provider not authorized")
	ErrTimeout          = errors.New("timed out binding service")
	ErrServiceDestroyed = errors.New("service destroyed")
)

// Handle is a bound Service Manager. It is valid while Done is open;
// calls on a dead handle fail with ErrServiceDestroyed.
type Handle interface {
	service.ServiceManager
	Alive() bool
	Done() <-chan struct{}
	Close() error
}

// Connection receives the lifecycle of one bind request. A provider
// calls OnConnected at most once and OnDisconnected once a connected
// handle dies. OnBindingDied reports a bind that never connected.
type Connection interface {
	OnConnected(h Handle)
	OnDisconnected()
	OnBindingDied(err error)
}

// Provider is a way of reaching a privileged host.
type Provider interface {
	Name() string
	// IsAvailable is a cheap local check.
	IsAvailable() bool
	// IsAuthorized may prompt or run the backend to establish trust.
	IsAuthorized(ctx context.Context) bool
	// Bind starts a bind request and returns at once; the outcome is
	// delivered to c.
	Bind(c Connection)
	// Unbind abandons the request made with c, closing its handle if one
	// was delivered.
	Unbind(c Connection)
}

// From checks p and binds it.
func From(ctx context.Context, p Provider, timeout time.Duration) (Handle, error) {
	if !p.IsAvailable() {
		return nil, ErrUnavailable
	}
	if !p.IsAuthorized(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrUnauthorized
	}
	return Get(ctx, p, timeout)
}

// Get binds p and waits for the handle, for timeout or for ctx. A bind
// that is given up on is unbound.
func Get(ctx context.Context, p Provider, timeout time.Duration) (Handle, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	w := newWaiter()
	p.Bind(w)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-w.result:
		if r.err != nil {
			p.Unbind(w)
			return nil, r.err
		}
		return r.handle, nil
	case <-timer.C:
		w.abandon()
		p.Unbind(w)
		return nil, ErrTimeout
	case <-ctx.Done():
		w.abandon()
		p.Unbind(w)
		return nil, ctx.Err()
	}
}

type bindResult struct {
	handle Handle
	err    error
}

// waiter turns Connection callbacks into a single result. Whatever
// arrives after the first resolution is dropped, and a handle that
// arrives after the caller gave up is closed.
type waiter struct {
	once   sync.Once
	result chan bindResult
}

func newWaiter() *waiter {
	return &waiter{result: make(chan bindResult, 1)}
}

func (w *waiter) resolve(r bindResult) bool {
	resolved := false
	w.once.Do(func() {
		w.result <- r
		resolved = true
	})
	return resolved
}

func (w *waiter) abandon() { w.once.Do(func() {}) }

func (w *waiter) OnConnected(h Handle) {
	if !w.resolve(bindResult{handle: h}) {
		h.Close()
	}
}

func (w *waiter) OnDisconnected()         { w.resolve(bindResult{err: ErrServiceDestroyed}) }
func (w *waiter) OnBindingDied(err error) { w.resolve(bindResult{err: bindingDied(err)}) }

// bindingDied keeps the cause visible while matching ErrServiceDestroyed.
func bindingDied(err error) error {
	switch {
	case err == nil:
		return ErrServiceDestroyed
	case errors.Is(err, ErrServiceDestroyed), errors.Is(err, ErrUnauthorized):
		return err
	}
	return &destroyedError{cause: err}
}

type destroyedError struct{ cause error }

func (e *destroyedError) Error() string   { return ErrServiceDestroyed.Error() + ": " + e.cause.Error() }
func (e *destroyedError) Unwrap() []error { return []error{ErrServiceDestroyed, e.cause} }
