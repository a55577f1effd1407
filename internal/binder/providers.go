package binder

import (
	"errors"
	"fmt"
	"log"
	"mmrl/internal/platform"
	"mmrl/internal/service"
	"os"

	"github.com/docker/docker/client"
)

// ProviderConfig holds what ProviderFor may need to reach a host.
type ProviderConfig struct {
	SocketPath string // daemon socket; default protocol.DefaultSocketPath
	HostBinary string // mmrld on the device; default DefaultHostBinary
	Container  string // run the host in this container instead
	Docker     DockerAPI
	Local      service.ServiceManager // served in process for the non-root mode
	Logger     *log.Logger
}

// ProviderFor picks how to reach the host for p. A configured container
// wins; the non-root mode is served in process; otherwise a running
// daemon is preferred over spawning a host through su.
func ProviderFor(p platform.Platform, cfg ProviderConfig) (Provider, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[binder] ", log.LstdFlags|log.Lmsgprefix)
	}

	if cfg.Container != "" {
		api := cfg.Docker
		if api == nil {
			c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
			if err != nil {
				return nil, fmt.Errorf("docker client: %w", err)
			}
			api = c
		}
		return NewContainerProvider(api, cfg.Container, p, cfg.HostBinary, cfg.Logger), nil
	}

	if !p.IsRoot() {
		if cfg.Local == nil {
			return nil, errors.New("non-root mode needs a local service manager")
		}
		return NewLocalProvider(cfg.Local, cfg.Logger)
	}

	if sp := NewSocketProvider(cfg.SocketPath, cfg.Logger); sp.IsAvailable() {
		return sp, nil
	}
	return NewSuProvider(p, cfg.HostBinary, cfg.Logger), nil
}
