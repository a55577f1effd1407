package shell

import (
	"errors"
	"log"
	"os"
	"sync"
)

// Lazy runs commands on a Session it opens on first use and opens again
// after the shell dies. A command that was running when the shell died
// still fails with ErrSessionClosed; it is never retried. Close is final.
type Lazy struct {
	opts Options

	mu      sync.Mutex
	session *Session
	stale   bool
	closed  bool
}

// NewLazy returns a Lazy that opens its sessions with opts.
func NewLazy(opts Options) *Lazy {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[shell] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Lazy{opts: opts}
}

// current returns a live session, replacing a dead one.
func (l *Lazy) current() (*Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrSessionClosed
	}
	if l.session != nil && !l.stale && l.session.Alive() {
		return l.session, nil
	}
	if l.session != nil {
		l.opts.Logger.Printf("warning: shell died, starting a new one")
		l.session.Close()
		l.session = nil
	}

	s, err := Open(l.opts)
	if err != nil {
		return nil, err
	}
	l.session, l.stale = s, false
	return s, nil
}

// Submit runs command on the current session.
func (l *Lazy) Submit(command string) (*Result, error) {
	s, err := l.current()
	if err != nil {
		return nil, err
	}
	res, err := s.Submit(command)
	if errors.Is(err, ErrSessionClosed) {
		l.mu.Lock()
		if l.session == s {
			l.stale = true
		}
		l.mu.Unlock()
	}
	return res, err
}

// Close terminates the current shell. Later commands fail with
// ErrSessionClosed.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.session == nil {
		return nil
	}
	err := l.session.Close()
	l.session = nil
	return err
}
