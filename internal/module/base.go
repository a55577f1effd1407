package module

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"mmrl/internal/fileops"
	"mmrl/internal/platform"
	"mmrl/internal/shell"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
)

// toolset is what distinguishes one backend from another when driving
// module lifecycle.
type toolset struct {
	// Transition commands. %[1]s is the quoted module id. An empty
	// command means the backend only has marker files.
	enable  string
	disable string
	remove  string

	// install is the argv prefix of the installer; the archive path is
	// appended.
	install []string

	// action is the argv prefix of the native action command; the id is
	// appended. Without one, actions always run the script directly.
	action []string

	// env is the backend identity exported to scripts run directly.
	// Without it, actions always use the native command.
	env func() map[string]string

	// refuse marks a backend that cannot change module state.
	refuse bool
}

// base holds the behavior every backend shares: the on-disk module
// layout, su version probing and running jobs.
type base struct {
	name     string
	platform platform.Platform
	cfg      Config
	tools    toolset
	logger   *log.Logger

	versionOnce sync.Once
	version     string
	versionCode int
}

func newBase(name string, p platform.Platform, cfg Config) *base {
	if cfg.Files == nil {
		cfg.Files = fileops.NewLocal()
	}
	if cfg.Spawn == nil {
		cfg.Spawn = shell.Spawn
	}
	if cfg.ModulesDir == "" {
		cfg.ModulesDir = DefaultModulesDir
	}
	if cfg.AdbDir == "" {
		cfg.AdbDir = DefaultAdbDir
	}
	if cfg.Env == nil {
		cfg.Env = shell.ScrubEnvironment(os.Environ())
	}
	if cfg.Host.Version == "" {
		cfg.Host.Version = "unknown"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[module] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &base{
		name:     name,
		platform: p,
		cfg:      cfg,
		logger:   cfg.Logger,
	}
}

func (b *base) Name() string                { return b.name }
func (b *base) Platform() platform.Platform { return b.platform }

func (b *base) loadVersion() {
	b.versionOnce.Do(func() {
		b.version = "unknown"
		b.versionCode = -1
		if out, ok := b.query("su -v"); ok {
			b.version = out
		}
		if out, ok := b.query("su -V"); ok {
			if code, err := strconv.Atoi(out); err == nil {
				b.versionCode = code
			}
		}
	})
}

// query runs command and returns its trimmed stdout when it succeeded.
func (b *base) query(command string) (string, bool) {
	if b.cfg.Shell == nil {
		return "", false
	}
	res, err := b.cfg.Shell.Submit(command)
	if err != nil || !res.IsSuccess() {
		return "", false
	}
	return strings.TrimSpace(strings.Join(res.Out, "\n")), true
}

// Version is what `su -v` prints, or "unknown".
func (b *base) Version() string {
	b.loadVersion()
	return b.version
}

// VersionCode is what `su -V` prints, or -1.
func (b *base) VersionCode() int {
	b.loadVersion()
	return b.versionCode
}

func (b *base) IsSuEnabled() bool              { return true }
func (b *base) SetSuEnabled(enabled bool) bool { return true }
func (b *base) IsSafeMode() bool               { return false }
func (b *base) SuperUserCount() int            { return -1 }
func (b *base) UIDShouldUmount(uid int) bool   { return false }
func (b *base) IsLKMMode() Tristate            { return Unknown }

func (b *base) AppProfile(key string, uid int) (*AppProfile, error) {
	return nil, fmt.Errorf("app profile %s: %w", key, ErrUnsupported)
}

func (b *base) SetAppProfile(p *AppProfile) error {
	return fmt.Errorf("app profile %s: %w", p.Name, ErrUnsupported)
}

func (b *base) Compatibility() Compatibility {
	return Compatibility{HasMagicMount: False}
}

// Modules lists the installed modules. Directories without a module.prop
// are skipped; a missing modules directory is an empty list.
func (b *base) Modules() ([]LocalModule, error) {
	names, err := b.cfg.Files.List(b.cfg.ModulesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list modules: %w", err)
	}

	var modules []LocalModule
	for _, name := range names {
		dir := path.Join(b.cfg.ModulesDir, name)
		if !b.cfg.Files.IsDirectory(dir) {
			continue
		}
		m, err := readModule(b.cfg.Files, dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				b.logger.Printf("warning: skipping module %s: %v", name, err)
			}
			continue
		}
		modules = append(modules, *m)
	}
	return modules, nil
}

func (b *base) ModuleByID(id string) (*LocalModule, error) {
	if !ValidID(id) {
		return nil, missing("read", id)
	}
	m, err := readModule(b.cfg.Files, path.Join(b.cfg.ModulesDir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, missing("read", id)
		}
		return nil, opError("read", id, err)
	}
	return m, nil
}

// ModuleInfo reads the module.prop inside an archive.
func (b *base) ModuleInfo(zipPath string) (*LocalModule, error) {
	m, err := readArchiveInfo(zipPath)
	if err != nil {
		return nil, fmt.Errorf("module info %s: %w", zipPath, err)
	}
	if m == nil {
		return nil, fmt.Errorf("module info %s: no %s: %w", zipPath, PropFile, fs.ErrNotExist)
	}
	return m, nil
}

// moduleDir returns the directory of id, or the missing-module failure.
func (b *base) moduleDir(op, id string) (string, error) {
	if !ValidID(id) {
		return "", missing(op, id)
	}
	dir := path.Join(b.cfg.ModulesDir, id)
	if !b.cfg.Files.IsDirectory(dir) {
		return "", missing(op, id)
	}
	return dir, nil
}

func (b *base) Enable(ctx context.Context, id string, useShellTool bool) error {
	return b.transition(ctx, "enable", id, Enabled, useShellTool, b.tools.enable)
}

func (b *base) Disable(ctx context.Context, id string, useShellTool bool) error {
	return b.transition(ctx, "disable", id, Disabled, useShellTool, b.tools.disable)
}

func (b *base) Remove(ctx context.Context, id string, useShellTool bool) error {
	return b.transition(ctx, "remove", id, PendingRemoval, useShellTool, b.tools.remove)
}

func (b *base) transition(ctx context.Context, op, id string, target State, useShellTool bool, tool string) error {
	dir, err := b.moduleDir(op, id)
	if err != nil {
		return err
	}
	if b.tools.refuse {
		return opError(op, id, ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return opError(op, id, err)
	}

	if useShellTool && tool != "" {
		if err := b.runTool(op, id, fmt.Sprintf(tool, shell.Quote(id))); err != nil {
			return err
		}
		// The tool owns the on-disk result; only report a disagreement.
		got, want := ReadMarkers(b.cfg.Files, dir), MarkersFor(target)
		if got.Remove != want.Remove || got.Disable != want.Disable {
			b.logger.Printf("warning: %s %s: tool left state %s, expected %s", op, id, got.State(), target)
		}
		return nil
	}

	if err := WriteMarkers(b.cfg.Files, dir, MarkersFor(target)); err != nil {
		return &OpError{ID: id, Op: op, Diagnostic: err.Error(), Err: err}
	}
	b.logger.Printf("%s %s: markers updated", op, id)
	return nil
}

func (b *base) runTool(op, id, command string) error {
	if b.cfg.Shell == nil {
		return opError(op, id, ErrUnsupported)
	}
	res, err := b.cfg.Shell.Submit(command)
	if err != nil {
		return opError(op, id, err)
	}
	if !res.IsSuccess() {
		b.logger.Printf("%s %s: %q exited %d", op, id, command, res.ExitCode)
		return opFailed(op, id, res.Diagnostic())
	}
	b.logger.Printf("%s %s: ok", op, id)
	return nil
}

// Install runs the backend installer on zipPath, streaming its output to
// l. bulk names every module of the batch this archive belongs to.
func (b *base) Install(ctx context.Context, zipPath string, bulk []BulkModule, l shell.Listener) error {
	subject := zipPath
	if info, err := b.ModuleInfo(zipPath); err == nil {
		subject = info.ID
	}

	ids := make([]string, 0, len(bulk))
	for _, m := range bulk {
		ids = append(ids, m.ID)
	}

	vars := b.hostVars()
	vars["BULK_MODULES"] = strings.Join(ids, " ")

	argv := append(append([]string(nil), b.tools.install...), zipPath)
	b.logger.Printf("install %s from %s", subject, zipPath)
	return b.spawn(ctx, "install", subject, argv, vars, l)
}

// InstallAll installs each archive in order. A failed entry does not stop
// the rest; the failures are joined into the returned error.
func (b *base) InstallAll(ctx context.Context, zipPaths []string, l shell.Listener) error {
	var bulk []BulkModule
	for _, p := range zipPaths {
		if info, err := b.ModuleInfo(p); err == nil {
			bulk = append(bulk, BulkModule{ID: info.ID, Name: info.Name})
		}
	}

	var errs []error
	for _, p := range zipPaths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, opError("install", p, err))
			break
		}
		if err := b.Install(ctx, p, bulk, l); err != nil {
			b.logger.Printf("warning: bulk install continues after %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Action runs the module's action script. In legacy mode the script is
// run directly with the backend identity exported, since older scripts
// expect the backend to have set it.
func (b *base) Action(ctx context.Context, id string, legacy bool, l shell.Listener) error {
	if !ValidID(id) {
		return missing("action", id)
	}

	vars := b.hostVars()
	vars["BOOTMODE"] = "true"
	vars["ARCH"] = b.cfg.Host.Arch
	vars["API"] = strconv.Itoa(b.cfg.Host.API)
	vars["IS64BIT"] = strconv.FormatBool(b.cfg.Host.Is64Bit)

	var argv []string
	if b.tools.action == nil || (legacy && b.tools.env != nil) {
		if b.tools.env != nil {
			for k, v := range b.tools.env() {
				vars[k] = v
			}
		}
		argv = []string{"busybox", "sh", path.Join(b.cfg.ModulesDir, id, ActionFile)}
	} else {
		argv = append(append([]string(nil), b.tools.action...), id)
	}

	b.logger.Printf("action %s (legacy=%v)", id, legacy)
	return b.spawn(ctx, "action", id, argv, vars, l)
}

func (b *base) hostVars() map[string]string {
	return map[string]string{
		"MMRL":          "true",
		"MMRL_VER":      b.cfg.Host.Version,
		"MMRL_VER_CODE": strconv.Itoa(b.cfg.Host.VersionCode),
	}
}

// exitCapture forwards to a Listener and keeps the exit failure.
type exitCapture struct {
	shell.Listener
	exit *shell.ExitError
}

func (c *exitCapture) OnError(err error) {
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) {
		c.exit = exitErr
	}
	c.Listener.OnError(err)
}

func (b *base) spawn(ctx context.Context, op, subject string, argv []string, vars map[string]string, l shell.Listener) error {
	if l == nil {
		l = shell.Discard
	}
	capture := &exitCapture{Listener: l}

	code, err := b.cfg.Spawn(ctx, argv, shell.MergeEnv(b.cfg.Env, vars), capture)
	if err != nil {
		return opError(op, subject, err)
	}
	if code != 0 {
		diagnostic := fmt.Sprintf("exit status %d", code)
		var cause error = &shell.ExitError{Code: code}
		if capture.exit != nil {
			cause = capture.exit
			if capture.exit.Stderr != "" {
				diagnostic = capture.exit.Stderr
			}
		}
		return &OpError{ID: subject, Op: op, Diagnostic: diagnostic, Err: cause}
	}
	return nil
}

// Reboot restarts the device, into reason's target when one is given.
func (b *base) Reboot(ctx context.Context, reason string) error {
	if b.cfg.Shell == nil {
		return opError("reboot", reason, ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return opError("reboot", reason, err)
	}
	if reason == "recovery" {
		// power key
		b.cfg.Shell.Submit("/system/bin/input keyevent 26")
	}

	arg := ""
	if reason != "" {
		arg = " " + shell.Quote(reason)
	}
	res, err := b.cfg.Shell.Submit("/system/bin/svc power reboot" + arg + " || /system/bin/reboot" + arg)
	if err != nil {
		return opError("reboot", reason, err)
	}
	if !res.IsSuccess() {
		return opFailed("reboot", reason, res.Diagnostic())
	}
	return nil
}

// DetectHost fills the device fields of a HostInfo from system
// properties.
func DetectHost(r Runner, version string, versionCode int) HostInfo {
	info := HostInfo{Version: version, VersionCode: versionCode}
	prop := func(name string) string {
		res, err := r.Submit("getprop " + name)
		if err != nil || !res.IsSuccess() {
			return ""
		}
		return strings.TrimSpace(strings.Join(res.Out, ""))
	}

	abis := strings.Split(prop("ro.product.cpu.abilist"), ",")
	info.Arch = strings.TrimSpace(abis[0])
	if info.Arch == "" {
		info.Arch = prop("ro.product.cpu.abi")
	}
	info.API, _ = strconv.Atoi(prop("ro.build.version.sdk"))
	info.Is64Bit = prop("ro.product.cpu.abilist64") != ""
	return info
}
