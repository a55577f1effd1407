package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Listener receives the output of a streaming job. Lines arrive in order
// per stream; stdout and stderr may interleave arbitrarily. OnExit is
// called once, followed by OnError when the exit status is non-zero.
type Listener interface {
	OnStdout(line string)
	OnStderr(line string)
	OnExit(code int)
	OnError(err error)
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are
// skipped.
type ListenerFuncs struct {
	Stdout func(line string)
	Stderr func(line string)
	Exit   func(code int)
	Error  func(err error)
}

func (l ListenerFuncs) OnStdout(line string) {
	if l.Stdout != nil {
		l.Stdout(line)
	}
}

func (l ListenerFuncs) OnStderr(line string) {
	if l.Stderr != nil {
		l.Stderr(line)
	}
}

func (l ListenerFuncs) OnExit(code int) {
	if l.Exit != nil {
		l.Exit(code)
	}
}

func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// Discard is a Listener that drops everything.
var Discard Listener = ListenerFuncs{}

// Spawn runs argv with env and streams its output to l. It returns the
// exit code; the returned error is non-nil only when the process could
// not be started or waited for. A failed start is reported to l through
// OnError alone.
func Spawn(ctx context.Context, argv []string, env []string, l Listener) (int, error) {
	if l == nil {
		l = Discard
	}
	if len(argv) == 0 {
		err := errors.New("spawn: empty command")
		l.OnError(err)
		return -1, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		l.OnError(err)
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		l.OnError(err)
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		l.OnError(err)
		return -1, fmt.Errorf("start command: %w", err)
	}

	// Listener calls are serialized so implementations need no locking.
	var mu sync.Mutex
	var errText []string

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, func(line string) {
			mu.Lock()
			l.OnStdout(line)
			mu.Unlock()
		})
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			mu.Lock()
			errText = append(errText, line)
			l.OnStderr(line)
			mu.Unlock()
		})
	}()

	// Wait for both streams to finish before reaping the process
	wg.Wait()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			l.OnExit(-1)
			l.OnError(err)
			return -1, fmt.Errorf("wait: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	l.OnExit(exitCode)
	if exitCode != 0 {
		l.OnError(&ExitError{Code: exitCode, Stderr: strings.Join(errText, "\n")})
	}
	return exitCode, nil
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}
