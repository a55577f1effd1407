package binder

import (
	"context"
	"fmt"
	"io"
	"log"
	"mmrl/internal/platform"
	"mmrl/internal/shell"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// DefaultHostBinary is where the mmrld binary is installed on a device.
const DefaultHostBinary = "/data/adb/mmrl/bin/mmrld"

// SuProvider spawns a host through the backend's su and talks to it over
// the child's stdin and stdout.
type SuProvider struct {
	*streamBinder
	platform   platform.Platform
	su         string
	hostBinary string
	probe      string
}

// NewSuProvider returns the su provider for p. hostBinary defaults to
// DefaultHostBinary.
func NewSuProvider(p platform.Platform, hostBinary string, logger *log.Logger) *SuProvider {
	if hostBinary == "" {
		hostBinary = DefaultHostBinary
	}
	s := &SuProvider{platform: p, su: "su", hostBinary: hostBinary}
	switch {
	case p.IsAPatch():
		s.su = "/data/adb/ap/bin/su"
	case p.IsKernelSU():
		s.probe = "/data/adb/ksud"
	}
	s.streamBinder = newStreamBinder(s.Name(), s.dial, logger)
	return s
}

func (s *SuProvider) Name() string { return "su:" + s.platform.String() }

func (s *SuProvider) IsAvailable() bool {
	if _, err := exec.LookPath(s.su); err != nil {
		return false
	}
	if s.probe != "" {
		if _, err := os.Stat(s.probe); err != nil {
			return false
		}
	}
	return true
}

// IsAuthorized asks su for a root shell. Root managers prompt the user
// here on first use.
func (s *SuProvider) IsAuthorized(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, s.su, "-c", "id -u").Output()
	if err != nil {
		s.logger.Printf("%s: not authorized: %v", s.Name(), err)
		return false
	}
	return strings.TrimSpace(string(out)) == "0"
}

// hostCommand is the command line su runs.
func (s *SuProvider) hostCommand() string {
	return fmt.Sprintf("%s host --stdio --platform %s", shell.Quote(s.hostBinary), s.platform)
}

func (s *SuProvider) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	cmd := exec.Command(s.su, "-c", s.hostCommand())
	cmd.Stderr = s.logger.Writer()
	return startProcess(cmd)
}

// processConn is the stdio of a child process.
type processConn struct {
	io.ReadCloser
	stdin io.WriteCloser
	cmd   *exec.Cmd
	once  sync.Once
}

func startProcess(cmd *exec.Cmd) (*processConn, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start host: %w", err)
	}
	return &processConn{ReadCloser: stdout, stdin: stdin, cmd: cmd}, nil
}

func (p *processConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close hangs up, kills and reaps the child. It is safe to call from the
// reader and the owner at once.
func (p *processConn) Close() error {
	p.once.Do(func() {
		p.stdin.Close()
		p.cmd.Process.Kill()
		p.cmd.Wait()
	})
	return nil
}
