package binder

import (
	"context"
	"fmt"
	"io"
	"log"
	"mmrl/internal/service"
	"net"
)

// LocalProvider serves a ServiceManager from inside this process. It is
// what the non-root working mode binds, and what tests bind.
type LocalProvider struct {
	*streamBinder
	host *service.Host
}

func NewLocalProvider(sm service.ServiceManager, logger *log.Logger) (*LocalProvider, error) {
	host, err := service.NewHost(sm, service.HostConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("create local host: %w", err)
	}
	p := &LocalProvider{host: host}
	p.streamBinder = newStreamBinder(p.Name(), p.dial, logger)
	return p, nil
}

func (p *LocalProvider) Name() string                          { return "local" }
func (p *LocalProvider) IsAvailable() bool                     { return true }
func (p *LocalProvider) IsAuthorized(ctx context.Context) bool { return true }

func (p *LocalProvider) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	client, server := net.Pipe()
	go p.host.ServeConn(server, nil)
	return client, nil
}
