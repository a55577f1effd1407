package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mmrl/pkg/protocol"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"
)

// HostConfig holds the configuration of a Host.
type HostConfig struct {
	SocketPath   string
	AuditPath    string
	APIAddr      string
	AllowedUIDs  []int         // uids bound without asking; root always is
	GrantTimeout time.Duration // how long an unknown peer may wait for a grant; 0 denies at once
	Logger       *log.Logger
}

// Host serves a ServiceManager to clients on a unix socket, or on any
// stream a trusted launcher hands it.
type Host struct {
	config   HostConfig
	sm       ServiceManager
	listener net.Listener
	grants   *GrantQueue
	audit    *AuditLogger
	api      *APIServer
	logger   *log.Logger
	started  time.Time

	mu      sync.RWMutex
	allowed []int

	conns atomic.Int64
	calls atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHost creates a host for sm.
func NewHost(sm ServiceManager, cfg HostConfig) (*Host, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[host] ", log.LstdFlags|log.Lmsgprefix)
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = protocol.DefaultSocketPath
	}

	audit, err := NewAuditLogger(cfg.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("create audit logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		config:  cfg,
		sm:      sm,
		grants:  NewGrantQueue(),
		audit:   audit,
		logger:  cfg.Logger,
		started: time.Now(),
		allowed: slices.Clone(cfg.AllowedUIDs),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.APIAddr != "" {
		h.api = NewAPIServer(h, cfg.APIAddr, cfg.Logger)
	}
	return h, nil
}

// Grants returns the queue of binds awaiting an operator.
func (h *Host) Grants() *GrantQueue { return h.grants }

// SetAllowedUIDs replaces the uids bound without asking. Connections
// already bound keep their grant.
func (h *Host) SetAllowedUIDs(uids []int) {
	h.mu.Lock()
	h.allowed = slices.Clone(uids)
	h.mu.Unlock()
	h.logger.Printf("allowed uids: %v", uids)
}

func (h *Host) isAllowed(uid int) bool {
	if uid == 0 {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Contains(h.allowed, uid)
}

// ListenAndServe binds the socket and serves until Shutdown.
func (h *Host) ListenAndServe() error {
	os.Remove(h.config.SocketPath)
	if err := os.MkdirAll(filepath.Dir(h.config.SocketPath), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	var err error
	h.listener, err = net.Listen("unix", h.config.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.config.SocketPath, err)
	}
	defer h.listener.Close()

	// Peers are vetted at handshake, so anyone may connect.
	if err := os.Chmod(h.config.SocketPath, 0o666); err != nil {
		h.logger.Printf("warning: could not chmod socket: %v", err)
	}
	h.logger.Printf("listening on %s", h.config.SocketPath)

	if h.api != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			if err := h.api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				h.logger.Printf("api server error: %v", err)
			}
		}()
	}

	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.ctx.Done():
				return nil
			default:
				h.logger.Printf("accept error: %v", err)
				continue
			}
		}

		peer, err := peerIdentity(conn)
		if err != nil {
			// Without kernel credentials nothing the client says is trusted.
			h.logger.Printf("warning: could not read peer credentials: %v", err)
			peer = &protocol.Identity{UID: -1, GID: -1, PID: -1}
		}

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.ServeConn(conn, peer)
		}()
	}
}

// ServeConn runs the handshake and then serves calls on conn until the
// peer unbinds, the stream ends or the host shuts down. A nil peer marks
// a trusted stream, such as the stdio of a host launched through su,
// whose client is admitted without vetting.
func (h *Host) ServeConn(conn io.ReadWriteCloser, peer *protocol.Identity) {
	defer conn.Close()

	hello, err := protocol.ReadHello(conn)
	if err != nil {
		h.logger.Printf("read hello error: %v", err)
		return
	}
	if peer != nil {
		hello.Identity = *peer
	}

	entry := AuditEntry{Method: "bind", Client: hello.Client, Identity: hello.Identity}
	if hello.Version != protocol.Version {
		entry.Decision = "deny"
		entry.Error = fmt.Sprintf("protocol version %d, want %d", hello.Version, protocol.Version)
		h.audit.Log(entry)
		protocol.WriteAck(conn, protocol.AckDenied)
		return
	}

	decision := h.admit(conn, hello, peer == nil)
	entry.Decision = decision.String()
	h.audit.Log(entry)
	if decision != DecisionApprove {
		h.logger.Printf("denied bind from %s (uid=%d pid=%d)", hello.Client, hello.Identity.UID, hello.Identity.PID)
		protocol.WriteAck(conn, protocol.AckDenied)
		return
	}
	if err := protocol.WriteAck(conn, protocol.AckAllowed); err != nil {
		return
	}

	h.conns.Add(1)
	defer h.conns.Add(-1)
	h.logger.Printf("bound %s (uid=%d pid=%d)", hello.Client, hello.Identity.UID, hello.Identity.PID)

	err = h.serve(conn, hello)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		h.logger.Printf("connection from %s ended: %v", hello.Client, err)
	}
}

// admit decides whether the peer may bind. Unknown peers are parked in
// the grant queue after a pending ack; once approved, the uid binds
// without asking for ApprovalWindow.
func (h *Host) admit(conn io.Writer, hello *protocol.Hello, trusted bool) Decision {
	if trusted || h.isAllowed(hello.Identity.UID) || h.grants.Approved(hello.Identity.UID) {
		return DecisionApprove
	}
	if h.config.GrantTimeout <= 0 || hello.Identity.UID < 0 {
		return DecisionDeny
	}
	if err := protocol.WriteAck(conn, protocol.AckPending); err != nil {
		return DecisionDeny
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.config.GrantTimeout)
	defer cancel()
	h.logger.Printf("bind from %s (uid=%d) awaiting grant", hello.Client, hello.Identity.UID)
	return h.grants.Enqueue(ctx, hello)
}

// serve reads calls until the connection ends. Each call runs on the
// connection's tomb, so closing the connection cancels jobs in flight.
func (h *Host) serve(conn io.ReadWriteCloser, hello *protocol.Hello) error {
	t, ctx := tomb.WithContext(h.ctx)
	w := protocol.NewWriter(conn)

	t.Go(func() error {
		<-t.Dying()
		conn.Close()
		return nil
	})
	t.Go(func() error {
		for {
			msg, err := protocol.ReadMessage(conn)
			if err != nil {
				if err == io.EOF {
					t.Kill(nil)
					return nil
				}
				return err
			}

			switch msg.Kind {
			case protocol.KindCall:
				t.Go(func() error {
					h.handleCall(ctx, w, msg, hello)
					return nil
				})
			case protocol.KindUnbind:
				h.logger.Printf("%s unbound", hello.Client)
				t.Kill(nil)
				return nil
			default:
				h.logger.Printf("warning: unexpected %s message from %s", msg.Kind, hello.Client)
			}
		}
	})

	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (h *Host) handleCall(ctx context.Context, w *protocol.Writer, msg *protocol.Message, hello *protocol.Hello) {
	h.calls.Add(1)
	start := time.Now()

	var args Args
	var result any
	err := msg.DecodeBody(&args)
	if err != nil {
		err = fmt.Errorf("%s: decode arguments: %w", msg.Method, err)
	} else {
		result, err = Dispatch(ctx, h.sm, msg.Method, &args, &streamListener{w: w, id: msg.ID})
	}

	reply := &protocol.Message{ID: msg.ID, Kind: protocol.KindReply}
	if err == nil {
		reply.Body, err = protocol.NewBody(result)
	}
	if err != nil {
		reply.Body = nil
		reply.Error = EncodeError(err)
	}
	if sendErr := w.Send(reply); sendErr != nil {
		h.logger.Printf("warning: reply to %s failed: %v", msg.Method, sendErr)
	}

	if hd, ok := handlers[msg.Method]; ok && hd.mutates {
		entry := AuditEntry{
			Method:   msg.Method,
			Subject:  args.subject(),
			Client:   hello.Client,
			Identity: hello.Identity,
			Decision: "allow",
			Duration: float64(time.Since(start).Milliseconds()),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		h.audit.Log(entry)
	}
}

// Shutdown stops accepting, cancels every connection and waits for
// them to finish.
func (h *Host) Shutdown() {
	h.cancel()
	if h.api != nil {
		h.api.Shutdown()
	}
	if h.listener != nil {
		h.listener.Close()
	}
	h.wg.Wait()
	h.audit.Close()
}

// streamListener forwards a job's output to the client as stream
// messages tagged with the call id. Failures travel in the reply.
type streamListener struct {
	w  *protocol.Writer
	id uint64
}

func (l *streamListener) OnStdout(line string) { l.send(protocol.KindStdout, line) }
func (l *streamListener) OnStderr(line string) { l.send(protocol.KindStderr, line) }
func (l *streamListener) OnExit(code int)      { l.w.SendExit(l.id, code) }
func (l *streamListener) OnError(err error)    {}

func (l *streamListener) send(kind protocol.Kind, line string) {
	body, err := protocol.NewBody(line)
	if err != nil {
		return
	}
	l.w.Send(&protocol.Message{ID: l.id, Kind: kind, Body: body})
}
