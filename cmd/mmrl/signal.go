package main

import (
	"fmt"
	"io"
	"mmrl/internal/binder"
	"os"
	"os/signal"
	"syscall"
)

// interruptStreams watches for SIGINT and SIGTERM while a job streams.
// On a signal it closes h, which ends the job on the host, and exits.
// The returned func stops watching.
func interruptStreams(h binder.Handle, stderr io.Writer) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, "interrupted")
			h.Close()
			os.Exit(130) // 128 + SIGINT
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
