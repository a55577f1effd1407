package binder

import (
	"context"
	"io"
	"log"
	"sync"
)

// dialFunc opens a raw stream to a host.
type dialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// streamBinder does the bind bookkeeping shared by providers that reach
// their host over a single stream: one attempt per Connection, cancelled
// or torn down by Unbind.
type streamBinder struct {
	name   string
	dial   dialFunc
	logger *log.Logger

	mu       sync.Mutex
	attempts map[Connection]*attempt
}

type attempt struct {
	cancel context.CancelFunc
	conn   *Conn
}

func newStreamBinder(name string, dial dialFunc, logger *log.Logger) *streamBinder {
	return &streamBinder{name: name, dial: dial, logger: logger, attempts: make(map[Connection]*attempt)}
}

func (b *streamBinder) Bind(c Connection) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{cancel: cancel}

	b.mu.Lock()
	if _, ok := b.attempts[c]; ok {
		b.mu.Unlock()
		cancel()
		b.logger.Printf("warning: %s: connection already bound", b.name)
		return
	}
	b.attempts[c] = a
	b.mu.Unlock()

	go b.run(ctx, c, a)
}

func (b *streamBinder) run(ctx context.Context, c Connection, a *attempt) {
	rwc, err := b.dial(ctx)
	if err != nil {
		b.forget(c, a)
		b.logger.Printf("%s: bind failed: %v", b.name, err)
		c.OnBindingDied(err)
		return
	}
	conn, err := Open(ctx, rwc)
	if err != nil {
		b.forget(c, a)
		b.logger.Printf("%s: bind failed: %v", b.name, err)
		c.OnBindingDied(err)
		return
	}

	b.mu.Lock()
	if b.attempts[c] != a {
		// unbound while connecting
		b.mu.Unlock()
		conn.Close()
		return
	}
	a.conn = conn
	b.mu.Unlock()

	b.logger.Printf("%s: bound to %s (uid=%d pid=%d)", b.name, conn.identity.Backend, conn.identity.UID, conn.identity.PID)
	c.OnConnected(conn)
	go func() {
		<-conn.Done()
		b.forget(c, a)
		c.OnDisconnected()
	}()
}

func (b *streamBinder) Unbind(c Connection) {
	b.mu.Lock()
	a, ok := b.attempts[c]
	delete(b.attempts, c)
	b.mu.Unlock()
	if !ok {
		return
	}
	a.cancel()
	if a.conn != nil {
		a.conn.Close()
	}
}

func (b *streamBinder) forget(c Connection, a *attempt) {
	b.mu.Lock()
	if b.attempts[c] == a {
		delete(b.attempts, c)
	}
	b.mu.Unlock()
	a.cancel()
}
