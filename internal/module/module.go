// Package module implements module lifecycle management for each
// root-granting backend. Every backend shares one base that knows the
// on-disk module layout; the variants differ in which command-line tool
// they drive and which native queries they can answer.
package module

import (
	"context"
	"errors"
	"log"
	"mmrl/internal/fileops"
	"mmrl/internal/module/ksu"
	"mmrl/internal/platform"
	"mmrl/internal/shell"
)

// Default on-disk locations.
const (
	DefaultModulesDir = "/data/adb/modules"
	DefaultAdbDir     = "/data/adb"
)

// Tristate answers a query a backend may not be able to answer.
type Tristate int

const (
	Unknown Tristate = iota
	False
	True
)

// TristateOf converts a known answer.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

func (t Tristate) String() string {
	switch t {
	case False:
		return "false"
	case True:
		return "true"
	}
	return "unknown"
}

// Features records which optional files a module ships.
type Features struct {
	WebUI         bool `json:"webui" cbor:"1,keyasint"`
	Action        bool `json:"action" cbor:"2,keyasint"`
	Service       bool `json:"service" cbor:"3,keyasint"`
	PostFsData    bool `json:"postFsData" cbor:"4,keyasint"`
	PostMount     bool `json:"postMount" cbor:"5,keyasint"`
	ResetProp     bool `json:"resetprop" cbor:"6,keyasint"`
	BootCompleted bool `json:"bootCompleted" cbor:"7,keyasint"`
	SEPolicy      bool `json:"sepolicy" cbor:"8,keyasint"`
	Uninstall     bool `json:"uninstall" cbor:"9,keyasint"`
	System        bool `json:"system" cbor:"10,keyasint"`
}

// LocalModule describes an installed module, or the module.prop of an
// archive when read through ModuleInfo.
type LocalModule struct {
	ID          string   `json:"id" cbor:"1,keyasint"`
	Name        string   `json:"name" cbor:"2,keyasint"`
	Version     string   `json:"version" cbor:"3,keyasint"`
	VersionCode int      `json:"versionCode" cbor:"4,keyasint"`
	Author      string   `json:"author" cbor:"5,keyasint"`
	Description string   `json:"description" cbor:"6,keyasint"`
	UpdateJSON  string   `json:"updateJson,omitempty" cbor:"7,keyasint,omitempty"`
	State       State    `json:"state" cbor:"8,keyasint"`
	Size        int64    `json:"size" cbor:"9,keyasint"`
	LastUpdated int64    `json:"lastUpdated" cbor:"10,keyasint"`
	Features    Features `json:"features" cbor:"11,keyasint"`
}

// BulkModule names one entry of a batch install.
type BulkModule struct {
	ID   string `json:"id" cbor:"1,keyasint"`
	Name string `json:"name" cbor:"2,keyasint"`
}

// Compatibility describes how the backend mounts modules.
type Compatibility struct {
	HasMagicMount     Tristate `json:"hasMagicMount" cbor:"1,keyasint"`
	CanRestoreModules bool     `json:"canRestoreModules" cbor:"2,keyasint"`
}

// AppProfile is the per-app root configuration of KernelSU backends.
type AppProfile = ksu.Profile

var (
	// ErrModuleMissing is the failure for an id with no module directory.
	// It carries no diagnostic text.
	ErrModuleMissing = errors.New("module does not exist")

	// ErrUnsupported is returned by backends that cannot perform an
	// operation at all.
	ErrUnsupported = errors.New("not supported by this backend")
)

// OpError is the failure of a module lifecycle operation. Diagnostic is
// whatever text the backend tool left behind and may be empty.
type OpError struct {
	ID         string
	Op         string
	Diagnostic string
	Err        error
}

func (e *OpError) Error() string {
	msg := e.Op + " " + e.ID
	switch {
	case e.Diagnostic != "":
		return msg + ": " + e.Diagnostic
	case e.Err != nil:
		return msg + ": " + e.Err.Error()
	}
	return msg + ": failed"
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Manager is the lifecycle contract every backend implements. Lifecycle
// calls return exactly once, with nil on success or an *OpError.
type Manager interface {
	Name() string
	Platform() platform.Platform

	Version() string
	VersionCode() int
	IsSuEnabled() bool
	SetSuEnabled(enabled bool) bool
	IsSafeMode() bool
	SuperUserCount() int
	AppProfile(key string, uid int) (*AppProfile, error)
	SetAppProfile(p *AppProfile) error
	UIDShouldUmount(uid int) bool
	IsLKMMode() Tristate
	Compatibility() Compatibility

	Modules() ([]LocalModule, error)
	ModuleByID(id string) (*LocalModule, error)
	ModuleInfo(zipPath string) (*LocalModule, error)

	Enable(ctx context.Context, id string, useShellTool bool) error
	Disable(ctx context.Context, id string, useShellTool bool) error
	Remove(ctx context.Context, id string, useShellTool bool) error
	Install(ctx context.Context, zipPath string, bulk []BulkModule, l shell.Listener) error
	InstallAll(ctx context.Context, zipPaths []string, l shell.Listener) error
	Action(ctx context.Context, id string, legacy bool, l shell.Listener) error
	Reboot(ctx context.Context, reason string) error
}

// Runner executes a command line in the privileged shell.
type Runner interface {
	Submit(command string) (*shell.Result, error)
}

// SpawnFunc starts a streaming job; shell.Spawn is the implementation
// outside tests.
type SpawnFunc func(ctx context.Context, argv []string, env []string, l shell.Listener) (int, error)

// HostInfo identifies the manager and the device to module scripts.
type HostInfo struct {
	Version     string
	VersionCode int
	Arch        string
	API         int
	Is64Bit     bool
}

// Config holds what every backend variant needs.
type Config struct {
	Files      fileops.FileManager
	Shell      Runner
	Spawn      SpawnFunc
	KSU        ksu.Driver
	ModulesDir string // default: /data/adb/modules
	AdbDir     string // default: /data/adb
	Host       HostInfo
	Env        []string // base environment of spawned jobs; default: scrubbed os.Environ
	Logger     *log.Logger
}

func opFailed(op, id string, diagnostic string) error {
	return &OpError{ID: id, Op: op, Diagnostic: diagnostic}
}

func missing(op, id string) error {
	return &OpError{ID: id, Op: op, Err: ErrModuleMissing}
}

func opError(op, id string, err error) error {
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{ID: id, Op: op, Err: err}
}
