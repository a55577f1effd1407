package binder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mmrl/internal/fileops"
	"mmrl/internal/module"
	"mmrl/internal/service"
	"mmrl/internal/shell"
	"mmrl/pkg/protocol"
	"os"
	"strings"
	"sync"
)

// ClientName is sent in the Hello of every bind.
const ClientName = "mmrl"

// Conn is a Service Manager reached over a protocol stream. One reader
// goroutine routes replies and job output to the calls waiting on them.
type Conn struct {
	rwc      io.ReadWriteCloser
	w        *protocol.Writer
	identity service.Identity
	modules  *remoteModules
	files    *remoteFiles

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingCall
	err     error
	done    chan struct{}
}

type pendingCall struct {
	l      shell.Listener
	stderr []string
	exited bool
	reply  chan *protocol.Message
}

// Handshake sends the Hello and waits for the host's final ack. A
// pending ack means an operator is being asked; the wait ends with the
// next ack or with ctx.
func Handshake(ctx context.Context, rwc io.ReadWriter, client string) error {
	if c, ok := rwc.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	hello := &protocol.Hello{
		Version: protocol.Version,
		Client:  client,
		Identity: protocol.Identity{
			UID: os.Getuid(),
			GID: os.Getgid(),
			PID: os.Getpid(),
		},
	}
	if err := protocol.WriteHello(rwc, hello); err != nil {
		return handshakeErr(ctx, err)
	}
	for {
		ack, err := protocol.ReadAck(rwc)
		if err != nil {
			return handshakeErr(ctx, err)
		}
		switch ack {
		case protocol.AckAllowed:
			return nil
		case protocol.AckDenied:
			return ErrUnauthorized
		case protocol.AckPending:
			continue
		default:
			return fmt.Errorf("handshake: unexpected ack %d", ack)
		}
	}
}

func handshakeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("handshake: %w", err)
}

// Open binds over rwc: it runs the handshake and fetches the host's
// identity. rwc is closed when Open fails.
func Open(ctx context.Context, rwc io.ReadWriteCloser) (*Conn, error) {
	if err := Handshake(ctx, rwc, ClientName); err != nil {
		rwc.Close()
		return nil, err
	}

	c := &Conn{
		rwc:     rwc,
		w:       protocol.NewWriter(rwc),
		pending: make(map[uint64]*pendingCall),
		done:    make(chan struct{}),
	}
	c.modules = &remoteModules{c: c}
	c.files = &remoteFiles{c: c}
	go c.readLoop()

	if err := c.call(ctx, service.MethodIdentity, nil, nil, &c.identity); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) Identity() service.Identity       { return c.identity }
func (c *Conn) ModuleManager() module.Manager    { return c.modules }
func (c *Conn) FileManager() fileops.FileManager { return c.files }
func (c *Conn) Done() <-chan struct{}            { return c.done }

func (c *Conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Err returns why the connection died, or nil while it is alive.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close unbinds from the host. Calls still waiting fail with
// ErrServiceDestroyed.
func (c *Conn) Close() error {
	if c.Alive() {
		c.w.Send(&protocol.Message{Kind: protocol.KindUnbind})
	}
	c.fail(ErrServiceDestroyed)
	return c.rwc.Close()
}

// fail marks the connection dead and releases every waiting call.
func (c *Conn) fail(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = bindingDied(cause)
	for id, pc := range c.pending {
		close(pc.reply)
		delete(c.pending, id)
	}
	close(c.done)
}

func (c *Conn) readLoop() {
	for {
		msg, err := protocol.ReadMessage(c.rwc)
		if err != nil {
			if err == io.EOF || errors.Is(err, os.ErrClosed) {
				err = ErrServiceDestroyed
			}
			c.fail(err)
			c.rwc.Close()
			return
		}

		c.mu.Lock()
		pc := c.pending[msg.ID]
		if msg.Kind == protocol.KindReply {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
		if pc == nil {
			continue
		}
		pc.deliver(msg)
	}
}

// deliver runs on the reader goroutine, so listener calls for one job
// never overlap.
func (pc *pendingCall) deliver(msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindReply:
		if msg.Error != nil && !pc.exited && pc.l != nil {
			pc.l.OnError(service.DecodeError(msg.Error))
		}
		pc.reply <- msg
	case protocol.KindStdout, protocol.KindStderr:
		var line string
		if msg.DecodeBody(&line) != nil || pc.l == nil {
			return
		}
		if msg.Kind == protocol.KindStdout {
			pc.l.OnStdout(line)
			return
		}
		pc.stderr = append(pc.stderr, line)
		pc.l.OnStderr(line)
	case protocol.KindExit:
		var code int
		if msg.DecodeBody(&code) != nil || pc.l == nil {
			return
		}
		pc.exited = true
		pc.l.OnExit(code)
		if code != 0 {
			pc.l.OnError(&shell.ExitError{Code: code, Stderr: strings.Join(pc.stderr, "\n")})
		}
		pc.stderr = nil
	}
}

// call runs method on the host and decodes the result into out. l
// receives the output of streaming methods.
func (c *Conn) call(ctx context.Context, method string, args *service.Args, l shell.Listener, out any) error {
	var body []byte
	if args != nil {
		var err error
		if body, err = protocol.NewBody(args); err != nil {
			return fmt.Errorf("%s: encode arguments: %w", method, err)
		}
	}

	pc := &pendingCall{l: l, reply: make(chan *protocol.Message, 1)}
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = pc
	c.mu.Unlock()

	if err := c.w.Send(&protocol.Message{ID: id, Kind: protocol.KindCall, Method: method, Body: body}); err != nil {
		c.fail(err)
		c.rwc.Close()
		return c.Err()
	}

	select {
	case msg, ok := <-pc.reply:
		if !ok {
			return c.Err()
		}
		if msg.Error != nil {
			return service.DecodeError(msg.Error)
		}
		if out != nil {
			if err := msg.DecodeBody(out); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}
