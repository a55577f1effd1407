// Package shell runs commands on behalf of the privileged host: a
// long-lived Session that serializes commands through one sh process, and
// Spawn for streaming jobs such as module installs and action scripts.
package shell

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionClosed is returned for commands that could not complete
// because their session was closed or its process died.
var ErrSessionClosed = errors.New("shell session closed")

// Result is the outcome of one command.
type Result struct {
	Out      []string `cbor:"1,keyasint"`
	Err      []string `cbor:"2,keyasint"`
	ExitCode int      `cbor:"3,keyasint"`
}

// IsSuccess reports whether the command exited with status 0.
func (r *Result) IsSuccess() bool {
	return r.ExitCode == 0
}

// Diagnostic returns the text a failed command left behind: stderr when
// it wrote any, stdout otherwise.
func (r *Result) Diagnostic() string {
	if len(r.Err) > 0 {
		return strings.Join(r.Err, "\n")
	}
	return strings.Join(r.Out, "\n")
}

// ExitError is delivered to Listener.OnError after a streaming job exits
// with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
}
