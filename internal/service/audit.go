package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mmrl/pkg/protocol"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEntry records one bind decision or one state-changing call.
type AuditEntry struct {
	Timestamp string            `json:"timestamp"`
	Method    string            `json:"method"`
	Subject   string            `json:"subject,omitempty"`
	Client    string            `json:"client,omitempty"`
	Identity  protocol.Identity `json:"identity"`
	Decision  string            `json:"decision"` // "allow", "deny"
	Duration  float64           `json:"duration_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// AuditLogger appends entries as JSON lines.
type AuditLogger struct {
	mu     sync.Mutex
	writer io.WriteCloser
}

// NewAuditLogger opens path for appending. An empty path disables
// auditing.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" {
		return &AuditLogger{writer: nopWriteCloser{}}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &AuditLogger{writer: file}, nil
}

// Log writes entry, stamping it with the current time if unset.
func (al *AuditLogger) Log(entry AuditEntry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	al.mu.Lock()
	defer al.mu.Unlock()
	if _, err := al.writer.Write(data); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func (al *AuditLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.writer.Close()
}

// ReadAuditLog returns every well-formed entry in path. A missing file
// reads as empty.
func ReadAuditLog(path string) ([]AuditEntry, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var entries []AuditEntry
	decoder := json.NewDecoder(file)
	for {
		var entry AuditEntry
		if err := decoder.Decode(&entry); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				continue
			}
			// end of log, or a torn last line
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
