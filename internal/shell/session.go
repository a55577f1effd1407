package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/tomb.v2"
)

// Options configures a Session.
type Options struct {
	// Command starts the shell. Defaults to {"sh"}.
	Command []string
	// Env is the shell's environment. Defaults to the scrubbed
	// environment of the current process.
	Env    []string
	Logger *log.Logger
}

// Session owns one shell process. Commands run in the order they were
// enqueued, one at a time.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	pipes  []io.Closer
	stdout chan string
	stderr chan string
	logger *log.Logger

	mu      sync.Mutex
	pending []*Future
	closed  bool
	wake    chan struct{}

	t tomb.Tomb
}

// Open starts the shell process and its worker.
func Open(opts Options) (*Session, error) {
	if len(opts.Command) == 0 {
		opts.Command = []string{"sh"}
	}
	if opts.Env == nil {
		opts.Env = ScrubEnvironment(os.Environ())
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[shell] ", log.LstdFlags|log.Lmsgprefix)
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Env = opts.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s := &Session{
		cmd:    cmd,
		stdin:  stdin,
		pipes:  []io.Closer{stdout, stderr},
		stdout: make(chan string, 256),
		stderr: make(chan string, 256),
		logger: opts.Logger,
		wake:   make(chan struct{}, 1),
	}

	s.t.Go(func() error { return s.readLines(stdout, s.stdout) })
	s.t.Go(func() error { return s.readLines(stderr, s.stderr) })
	s.t.Go(s.loop)

	s.logger.Printf("shell started: %s (pid %d)", strings.Join(opts.Command, " "), cmd.Process.Pid)
	return s, nil
}

// Submit runs command and blocks until it has completed.
func (s *Session) Submit(command string) (*Result, error) {
	return s.Enqueue(command).Wait(context.Background())
}

// Enqueue schedules command behind every command enqueued before it and
// returns immediately.
func (s *Session) Enqueue(command string) *Future {
	f := newFuture(command)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f.resolve(nil, ErrSessionClosed)
		return f
	}
	s.pending = append(s.pending, f)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return f
}

// Alive reports whether the session still accepts commands.
func (s *Session) Alive() bool {
	select {
	case <-s.t.Dying():
		return false
	default:
		return true
	}
}

// Close terminates the shell process. Commands still queued, and the one
// in flight, fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.t.Kill(nil)
	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	for _, p := range s.pipes {
		p.Close()
	}
	s.t.Wait()
	s.cmd.Wait()
	s.failPending()
	return nil
}

// loop is the session's single worker.
func (s *Session) loop() error {
	for {
		select {
		case <-s.t.Dying():
			s.failPending()
			return nil
		default:
		}

		f := s.next()
		if f == nil {
			select {
			case <-s.wake:
			case <-s.t.Dying():
			}
			continue
		}

		res, err := s.exec(f.Command)
		f.resolve(res, err)
		if err != nil {
			s.failPending()
			return err
		}
	}
}

func (s *Session) next() *Future {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	f := s.pending[0]
	s.pending = s.pending[1:]
	return f
}

// failPending marks the session closed and fails whatever is queued.
func (s *Session) failPending() {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, f := range pending {
		f.resolve(nil, ErrSessionClosed)
	}
}

// exec writes command followed by a marker echo on both streams, then
// collects output until both markers have come back. The marker line on
// stdout carries the exit status.
func (s *Session) exec(command string) (*Result, error) {
	mark := "__mmrl_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	script := fmt.Sprintf("{\n%s\n} </dev/null\n__mmrl_rc=$?\nprintf '%%s %%d\\n' '%s' \"$__mmrl_rc\"\nprintf '%%s\\n' '%s' >&2\n",
		command, mark, mark)

	if _, err := io.WriteString(s.stdin, script); err != nil {
		return nil, ErrSessionClosed
	}

	res := &Result{}
	gotOut, gotErr := false, false
	for !gotOut || !gotErr {
		select {
		case line, ok := <-s.stdout:
			if !ok {
				return nil, ErrSessionClosed
			}
			i := strings.Index(line, mark)
			if i < 0 {
				res.Out = append(res.Out, line)
				continue
			}
			if i > 0 {
				res.Out = append(res.Out, line[:i])
			}
			code, err := strconv.Atoi(strings.TrimSpace(line[i+len(mark):]))
			if err != nil {
				return nil, fmt.Errorf("parse exit status %q: %w", line, err)
			}
			res.ExitCode = code
			gotOut = true

		case line, ok := <-s.stderr:
			if !ok {
				return nil, ErrSessionClosed
			}
			i := strings.Index(line, mark)
			if i < 0 {
				res.Err = append(res.Err, line)
				continue
			}
			if i > 0 {
				res.Err = append(res.Err, line[:i])
			}
			gotErr = true

		case <-s.t.Dying():
			return nil, ErrSessionClosed
		}
	}
	return res, nil
}

// readLines forwards lines from one of the shell's streams. EOF means the
// shell is gone, which takes the whole session down.
func (s *Session) readLines(r io.Reader, out chan<- string) error {
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-s.t.Dying():
			return nil
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Printf("warning: shell stream: %v", err)
	}
	return ErrSessionClosed
}

// Future is the pending result of an enqueued command.
type Future struct {
	Command string

	done   chan struct{}
	once   sync.Once
	result *Result
	err    error
}

func newFuture(command string) *Future {
	return &Future{Command: command, done: make(chan struct{})}
}

func (f *Future) resolve(res *Result, err error) {
	f.once.Do(func() {
		f.result = res
		f.err = err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the command has completed or ctx is done. Giving up
// on the wait does not cancel the command.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
