package binder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"mmrl/internal/platform"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerAPI is the part of the docker client the container provider
// uses.
type DockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
}

// ContainerProvider runs the host inside a running container, such as
// an Android emulator image, through docker exec.
type ContainerProvider struct {
	*streamBinder
	api       DockerAPI
	container string
	command   []string
}

// NewContainerProvider returns a provider that execs hostBinary as
// root in containerID.
func NewContainerProvider(api DockerAPI, containerID string, p platform.Platform, hostBinary string, logger *log.Logger) *ContainerProvider {
	if hostBinary == "" {
		hostBinary = DefaultHostBinary
	}
	c := &ContainerProvider{
		api:       api,
		container: containerID,
		command:   []string{hostBinary, "host", "--stdio", "--platform", p.String()},
	}
	c.streamBinder = newStreamBinder(c.Name(), c.dial, logger)
	return c
}

func (c *ContainerProvider) Name() string { return "container:" + truncateID(c.container) }

// IsAvailable reports whether the container is running.
func (c *ContainerProvider) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := c.api.ContainerInspect(ctx, c.container)
	if err != nil || info.ContainerJSONBase == nil || info.State == nil {
		return false
	}
	return info.State.Running
}

// IsAuthorized checks that exec gets a root shell in the container.
func (c *ContainerProvider) IsAuthorized(ctx context.Context) bool {
	out, err := c.run(ctx, []string{"id", "-u"})
	if err != nil {
		c.logger.Printf("%s: not authorized: %v", c.Name(), err)
		return false
	}
	return strings.TrimSpace(out) == "0"
}

func (c *ContainerProvider) exec(ctx context.Context, cmd []string, stdin bool) (types.HijackedResponse, error) {
	created, err := c.api.ContainerExecCreate(ctx, c.container, container.ExecOptions{
		Cmd:          cmd,
		User:         "root",
		AttachStdin:  stdin,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return types.HijackedResponse{}, fmt.Errorf("create exec: %w", err)
	}
	resp, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return types.HijackedResponse{}, fmt.Errorf("attach exec: %w", err)
	}
	return resp, nil
}

// run executes cmd and returns its stdout.
func (c *ContainerProvider) run(ctx context.Context, cmd []string) (string, error) {
	resp, err := c.exec(ctx, cmd, false)
	if err != nil {
		return "", err
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return "", fmt.Errorf("read exec output: %w", err)
	}
	return stdout.String(), nil
}

func (c *ContainerProvider) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	resp, err := c.exec(ctx, c.command, true)
	if err != nil {
		return nil, err
	}

	// Exec output is multiplexed; only stdout carries the protocol.
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, c.logger.Writer(), resp.Reader)
		pw.CloseWithError(err)
	}()
	return &execConn{Reader: pr, resp: resp, pr: pr}, nil
}

type execConn struct {
	io.Reader
	resp types.HijackedResponse
	pr   *io.PipeReader
}

func (e *execConn) Write(b []byte) (int, error) { return e.resp.Conn.Write(b) }

func (e *execConn) Close() error {
	e.resp.Close()
	return e.pr.Close()
}

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
