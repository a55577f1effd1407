// Package service implements the privileged Service Manager: the object
// that bundles the host's identity, its module manager and its file
// operations, and the host that serves it to unprivileged clients over
// the wire protocol.
package service

import (
	"bytes"
	"mmrl/internal/fileops"
	"mmrl/internal/module"
	"mmrl/internal/platform"
	"os"
)

// Identity describes the privileged process behind a Service Manager.
type Identity struct {
	UID      int               `json:"uid" cbor:"1,keyasint"`
	PID      int               `json:"pid" cbor:"2,keyasint"`
	Context  string            `json:"context" cbor:"3,keyasint"`
	Platform platform.Platform `json:"platform" cbor:"4,keyasint"`
	Backend  string            `json:"backend" cbor:"5,keyasint"`
}

// ServiceManager is what a bound client holds.
type ServiceManager interface {
	Identity() Identity
	ModuleManager() module.Manager
	FileManager() fileops.FileManager
}

// Local is the in-process Service Manager the host serves.
type Local struct {
	identity Identity
	modules  module.Manager
	files    fileops.FileManager
}

// NewLocal bundles m and fm under the identity of the current process.
func NewLocal(m module.Manager, fm fileops.FileManager) *Local {
	id := SelfIdentity()
	id.Platform = m.Platform()
	id.Backend = m.Name()
	return &Local{identity: id, modules: m, files: fm}
}

func (l *Local) Identity() Identity               { return l.identity }
func (l *Local) ModuleManager() module.Manager    { return l.modules }
func (l *Local) FileManager() fileops.FileManager { return l.files }

// SelfIdentity returns the uid, pid and SELinux context of this process.
// The context is "unknown" where SELinux is absent.
func SelfIdentity() Identity {
	id := Identity{UID: os.Getuid(), PID: os.Getpid(), Context: "unknown"}
	if data, err := os.ReadFile("/proc/self/attr/current"); err == nil {
		if ctx := string(bytes.TrimSpace(bytes.TrimRight(data, "\x00"))); ctx != "" {
			id.Context = ctx
		}
	}
	return id
}
