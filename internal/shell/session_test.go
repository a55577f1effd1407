package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"
)

func openTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := Open(Options{
		Env:    []string{"PATH=/usr/bin:/bin"},
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubmitCapturesStreamsAndExitCode(t *testing.T) {
	s := openTestSession(t)

	tests := []struct {
		name     string
		command  string
		wantOut  []string
		wantErr  []string
		wantCode int
	}{
		{"stdout", "echo hello; echo world", []string{"hello", "world"}, nil, 0},
		{"stderr", "echo oops >&2", nil, []string{"oops"}, 0},
		{"exit code", "echo partial; exit_with() { return $1; }; exit_with 3", []string{"partial"}, nil, 3},
		{"no trailing newline", "printf 'abc'", []string{"abc"}, nil, 0},
		{"failing command", "ls /definitely/not/here 2>/dev/null", nil, nil, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Submit(tt.command)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if !equalLines(res.Out, tt.wantOut) {
				t.Errorf("out: got %q, want %q", res.Out, tt.wantOut)
			}
			if !equalLines(res.Err, tt.wantErr) {
				t.Errorf("err: got %q, want %q", res.Err, tt.wantErr)
			}
			if tt.name != "failing command" && res.ExitCode != tt.wantCode {
				t.Errorf("exit code: got %d, want %d", res.ExitCode, tt.wantCode)
			}
			if tt.name == "failing command" && res.IsSuccess() {
				t.Error("expected failure")
			}
		})
	}
}

func TestSubmitDoesNotConsumeSessionInput(t *testing.T) {
	s := openTestSession(t)

	// cat would swallow the marker lines if it could read the shell's stdin.
	res, err := s.Submit("cat; echo after")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !equalLines(res.Out, []string{"after"}) {
		t.Errorf("out: got %q", res.Out)
	}
}

func TestEnqueueRunsInSubmissionOrder(t *testing.T) {
	s := openTestSession(t)

	const n = 20
	futures := make([]*Future, n)
	for i := 0; i < n; i++ {
		futures[i] = s.Enqueue(fmt.Sprintf("echo %d", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var finished []string
	for i, f := range futures {
		res, err := f.Wait(ctx)
		if err != nil {
			t.Fatalf("future %d: %v", i, err)
		}
		finished = append(finished, res.Out...)
	}
	for i, line := range finished {
		if line != fmt.Sprint(i) {
			t.Fatalf("result %d: got %q", i, line)
		}
	}

	// Commands share one shell, so state carries over in order.
	if _, err := s.Submit("X=first"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := s.Submit("echo $X")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !equalLines(res.Out, []string{"first"}) {
		t.Errorf("shell state: got %q", res.Out)
	}
}

func TestCloseFailsPendingCommands(t *testing.T) {
	s, err := Open(Options{Env: []string{"PATH=/usr/bin:/bin"}, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	inFlight := s.Enqueue("sleep 30")
	queued := s.Enqueue("echo never")

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}

	ctx := context.Background()
	if _, err := inFlight.Wait(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("in-flight: got %v, want ErrSessionClosed", err)
	}
	if _, err := queued.Wait(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("queued: got %v, want ErrSessionClosed", err)
	}
	if _, err := s.Submit("echo late"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("after close: got %v, want ErrSessionClosed", err)
	}
	if s.Alive() {
		t.Error("session should not be alive after Close")
	}
}

func TestShellExitKillsSession(t *testing.T) {
	s := openTestSession(t)

	if _, err := s.Submit("exit 0"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("exit: got %v, want ErrSessionClosed", err)
	}
	if _, err := s.Submit("echo hi"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("after exit: got %v, want ErrSessionClosed", err)
	}
}

func TestFutureWaitHonorsContext(t *testing.T) {
	s := openTestSession(t)

	f := s.Enqueue("sleep 2")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestResultDiagnostic(t *testing.T) {
	r := &Result{Out: []string{"a", "b"}, ExitCode: 1}
	if got := r.Diagnostic(); got != "a\nb" {
		t.Errorf("stdout diagnostic: got %q", got)
	}
	r.Err = []string{"bad"}
	if got := r.Diagnostic(); got != "bad" {
		t.Errorf("stderr diagnostic: got %q", got)
	}
}

func equalLines(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
