package binder

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"mmrl/pkg/protocol"
	"net"
	"os"
	"time"

	"gopkg.in/retry.v1"
)

// dialStrategy covers a daemon that is still starting up.
var dialStrategy = retry.LimitCount(5, retry.LimitTime(5*time.Second,
	retry.Exponential{
		Initial: 100 * time.Millisecond,
		Factor:  2,
	},
))

// SocketProvider reaches an mmrld daemon already listening on a unix
// socket.
type SocketProvider struct {
	*streamBinder
	path     string
	strategy retry.Strategy
}

// NewSocketProvider returns a provider for the daemon at path.
func NewSocketProvider(path string, logger *log.Logger) *SocketProvider {
	if path == "" {
		path = protocol.DefaultSocketPath
	}
	p := &SocketProvider{path: path, strategy: dialStrategy}
	p.streamBinder = newStreamBinder(p.Name(), p.dial, logger)
	return p
}

func (p *SocketProvider) Name() string { return "socket:" + p.path }

// IsAvailable reports whether a socket exists at the path.
func (p *SocketProvider) IsAvailable() bool {
	fi, err := os.Stat(p.path)
	return err == nil && fi.Mode().Type() == fs.ModeSocket
}

// IsAuthorized runs a handshake and hangs up. The daemon may hold the
// handshake while an operator decides.
func (p *SocketProvider) IsAuthorized(ctx context.Context) bool {
	rwc, err := p.dial(ctx)
	if err != nil {
		return false
	}
	defer rwc.Close()
	if err := Handshake(ctx, rwc, ClientName); err != nil {
		p.logger.Printf("%s: not authorized: %v", p.Name(), err)
		return false
	}
	protocol.WriteMessage(rwc, &protocol.Message{Kind: protocol.KindUnbind})
	return true
}

func (p *SocketProvider) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	var d net.Dialer
	var err error
	for a := retry.StartWithCancel(p.strategy, nil, ctx.Done()); a.Next(); {
		var conn net.Conn
		conn, err = d.DialContext(ctx, "unix", p.path)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("dial %s: %w", p.path, err)
}
