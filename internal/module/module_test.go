package module

import (
	"context"
	"errors"
	"io"
	"log"
	"mmrl/internal/fileops"
	"mmrl/internal/module/ksu"
	"mmrl/internal/platform"
	"mmrl/internal/shell"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
)

type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	results  map[string]*shell.Result
	fallback *shell.Result
}

func (r *fakeRunner) Submit(command string) (*shell.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	if res, ok := r.results[command]; ok {
		return res, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return &shell.Result{}, nil
}

type spawnCall struct {
	argv []string
	env  []string
}

type fakeSpawner struct {
	mu    sync.Mutex
	calls []spawnCall
	// fail maps the last argv element to the stderr of a failing run.
	fail map[string]string
}

func (s *fakeSpawner) spawn(ctx context.Context, argv []string, env []string, l shell.Listener) (int, error) {
	s.mu.Lock()
	s.calls = append(s.calls, spawnCall{argv: argv, env: env})
	stderr, failing := s.fail[argv[len(argv)-1]]
	s.mu.Unlock()

	l.OnStdout("- working")
	if failing {
		l.OnStderr(stderr)
		l.OnExit(1)
		l.OnError(&shell.ExitError{Code: 1, Stderr: stderr})
		return 1, nil
	}
	l.OnExit(0)
	return 0, nil
}

type fakeDriver struct {
	version  int
	lkm      bool
	allow    []int
	profiles map[string]*ksu.Profile
}

func (d *fakeDriver) Version() int                 { return d.version }
func (d *fakeDriver) IsLKM() bool                  { return d.lkm }
func (d *fakeDriver) IsSafeMode() bool             { return false }
func (d *fakeDriver) IsSuEnabled() bool            { return true }
func (d *fakeDriver) SetSuEnabled(bool) bool       { return true }
func (d *fakeDriver) AllowList() []int             { return d.allow }
func (d *fakeDriver) UIDShouldUmount(uid int) bool { return uid >= 10000 }
func (d *fakeDriver) GrantRoot() bool              { return true }

func (d *fakeDriver) AppProfile(key string, uid int) (*ksu.Profile, bool) {
	p, ok := d.profiles[key]
	return p, ok
}

func (d *fakeDriver) SetAppProfile(p *ksu.Profile) bool {
	if d.profiles == nil {
		d.profiles = make(map[string]*ksu.Profile)
	}
	d.profiles[p.Name] = p
	return true
}

type fixture struct {
	cfg     Config
	runner  *fakeRunner
	spawner *fakeSpawner
	driver  *fakeDriver
	modules string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	modules := filepath.Join(root, "modules")
	if err := os.MkdirAll(modules, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	f := &fixture{
		runner:  &fakeRunner{results: make(map[string]*shell.Result)},
		spawner: &fakeSpawner{fail: make(map[string]string)},
		driver:  &fakeDriver{version: -1},
		modules: modules,
	}
	f.cfg = Config{
		Files:      fileops.NewLocal(),
		Shell:      f.runner,
		Spawn:      f.spawner.spawn,
		KSU:        f.driver,
		ModulesDir: modules,
		AdbDir:     root,
		Host:       HostInfo{Version: "v33.1.0", VersionCode: 33100, Arch: "arm64-v8a", API: 34, Is64Bit: true},
		Env:        []string{"PATH=/system/bin"},
		Logger:     log.New(io.Discard, "", 0),
	}
	return f
}

func (f *fixture) addModule(t *testing.T, id string, prop string) string {
	t.Helper()
	dir := filepath.Join(f.modules, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, PropFile), []byte(prop), 0644); err != nil {
		t.Fatalf("write prop: %v", err)
	}
	return dir
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestMarkersState(t *testing.T) {
	tests := []struct {
		markers Markers
		want    State
	}{
		{Markers{}, Enabled},
		{Markers{Disable: true}, Disabled},
		{Markers{Remove: true}, PendingRemoval},
		{Markers{Remove: true, Disable: true}, PendingRemoval},
		{Markers{Update: true}, Updating},
		{Markers{Disable: true, Update: true}, Disabled},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := tt.markers.State(); got != tt.want {
				t.Errorf("%+v: got %v, want %v", tt.markers, got, tt.want)
			}
		})
	}

	for _, s := range []State{Enabled, Disabled, PendingRemoval} {
		if got := MarkersFor(s).State(); got != s {
			t.Errorf("MarkersFor(%v).State(): got %v", s, got)
		}
	}
}

func TestDisableIsIdempotent(t *testing.T) {
	f := newFixture(t)
	dir := f.addModule(t, "foo", "id=foo\n")
	m := New(platform.Magisk, f.cfg)

	for i := 0; i < 2; i++ {
		if err := m.Disable(context.Background(), "foo", false); err != nil {
			t.Fatalf("disable #%d: %v", i+1, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "disable,module.prop" {
		t.Errorf("directory: got %v", names)
	}
	if got := ReadMarkers(f.cfg.Files, dir).State(); got != Disabled {
		t.Errorf("state: got %v, want %v", got, Disabled)
	}
}

func TestMarkerTransitions(t *testing.T) {
	f := newFixture(t)
	dir := f.addModule(t, "foo", "id=foo\n")
	m := New(platform.KernelSU, f.cfg)
	ctx := context.Background()

	steps := []struct {
		op   func() error
		want Markers
	}{
		{func() error { return m.Remove(ctx, "foo", false) }, Markers{Remove: true}},
		{func() error { return m.Disable(ctx, "foo", false) }, Markers{Disable: true}},
		{func() error { return m.Enable(ctx, "foo", false) }, Markers{}},
		{func() error { return m.Enable(ctx, "foo", false) }, Markers{}},
	}
	for i, step := range steps {
		if err := step.op(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := ReadMarkers(f.cfg.Files, dir); got != step.want {
			t.Errorf("step %d: got %+v, want %+v", i, got, step.want)
		}
	}
	if len(f.runner.commands) != 0 {
		t.Errorf("marker path ran commands: %q", f.runner.commands)
	}
}

func TestMissingModuleFailsWithoutDiagnostic(t *testing.T) {
	ctx := context.Background()
	for _, p := range platform.All() {
		for _, useTool := range []bool{false, true} {
			f := newFixture(t)
			m := New(p, f.cfg)
			ops := map[string]func(string) error{
				"enable":  func(id string) error { return m.Enable(ctx, id, useTool) },
				"disable": func(id string) error { return m.Disable(ctx, id, useTool) },
				"remove":  func(id string) error { return m.Remove(ctx, id, useTool) },
			}
			for name, op := range ops {
				for _, id := range []string{"absent", "../../etc", ""} {
					err := op(id)
					var oe *OpError
					if !errors.As(err, &oe) {
						t.Fatalf("%v %s %q: got %v, want *OpError", p, name, id, err)
					}
					if !errors.Is(err, ErrModuleMissing) || oe.Diagnostic != "" || oe.ID != id || oe.Op != name {
						t.Errorf("%v %s %q: got %+v", p, name, id, oe)
					}
				}
			}
			if len(f.runner.commands) != 0 {
				t.Errorf("%v: ran commands for missing modules: %q", p, f.runner.commands)
			}
		}
	}
}

func TestToolCommands(t *testing.T) {
	tests := []struct {
		platform platform.Platform
		op       string
		want     string
	}{
		{platform.KernelSU, "enable", "ksud module enable 'foo'"},
		{platform.KernelSU, "disable", "ksud module disable 'foo'"},
		{platform.KernelSU, "remove", "ksud module uninstall 'foo'"},
		{platform.SukiSU, "disable", "ksud module disable 'foo'"},
		{platform.KsuNext, "enable", "ksud module restore 'foo' && ksud module enable 'foo'"},
		{platform.KsuNext, "remove", "ksud module uninstall 'foo'"},
		{platform.APatch, "enable", "apd module enable 'foo'"},
		{platform.APatch, "disable", "apd module disable 'foo'"},
		{platform.APatch, "remove", "apd module uninstall 'foo'"},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.platform.String()+"/"+tt.op, func(t *testing.T) {
			f := newFixture(t)
			f.addModule(t, "foo", "id=foo\n")
			m := New(tt.platform, f.cfg)

			var err error
			switch tt.op {
			case "enable":
				err = m.Enable(ctx, "foo", true)
			case "disable":
				err = m.Disable(ctx, "foo", true)
			case "remove":
				err = m.Remove(ctx, "foo", true)
			}
			if err != nil {
				t.Fatalf("%s: %v", tt.op, err)
			}
			if len(f.runner.commands) != 1 || f.runner.commands[0] != tt.want {
				t.Errorf("commands: got %q, want [%q]", f.runner.commands, tt.want)
			}
		})
	}
}

func TestToolFailureCarriesDiagnostic(t *testing.T) {
	f := newFixture(t)
	f.addModule(t, "foo", "id=foo\n")
	f.runner.fallback = &shell.Result{Out: []string{"checking"}, Err: []string{"module foo is busy"}, ExitCode: 1}
	m := New(platform.APatch, f.cfg)

	err := m.Disable(context.Background(), "foo", true)
	var oe *OpError
	if !errors.As(err, &oe) {
		t.Fatalf("got %v, want *OpError", err)
	}
	if oe.Diagnostic != "module foo is busy" || errors.Is(err, ErrModuleMissing) {
		t.Errorf("got %+v", oe)
	}
}

func TestMagiskAlwaysUsesMarkers(t *testing.T) {
	f := newFixture(t)
	dir := f.addModule(t, "foo", "id=foo\n")
	m := New(platform.Magisk, f.cfg)

	if err := m.Remove(context.Background(), "foo", true); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(f.runner.commands) != 0 {
		t.Errorf("ran commands: %q", f.runner.commands)
	}
	if !ReadMarkers(f.cfg.Files, dir).Remove {
		t.Error("remove marker not created")
	}
}

func TestStubRefusesLifecycle(t *testing.T) {
	f := newFixture(t)
	f.addModule(t, "foo", "id=foo\n")
	f.spawner.fail["foo"] = ""
	m := New(platform.NonRoot, f.cfg)
	ctx := context.Background()

	if err := m.Enable(ctx, "foo", false); !errors.Is(err, ErrUnsupported) {
		t.Errorf("enable: got %v, want ErrUnsupported", err)
	}
	if err := m.Action(ctx, "foo", true, nil); err == nil {
		t.Error("action: expected failure")
	}
	if got := f.spawner.calls[0].argv; strings.Join(got, " ") != "sh -c exit 1 foo" {
		t.Errorf("stub action argv: got %q", got)
	}
	if m.IsSuEnabled() || m.VersionCode() != -1 {
		t.Error("stub should report no root")
	}
}

func TestLegacyActionEnvironment(t *testing.T) {
	tests := []struct {
		platform platform.Platform
		want     map[string]string
		absent   []string
	}{
		{
			platform: platform.Magisk,
			want:     map[string]string{"MAGISK": "true", "MAGISK_VER": "27.0", "MAGISK_VER_CODE": "27000", "MAGISKTMP": "null"},
			absent:   []string{"KSU"},
		},
		{
			platform: platform.KernelSU,
			want:     map[string]string{"KSU": "true", "KSU_VER": "27.0", "KSU_VER_CODE": "11986"},
			absent:   []string{"KSU_NEXT", "MAGISK"},
		},
		{
			platform: platform.KsuNext,
			want:     map[string]string{"KSU": "true", "KSU_NEXT": "true", "KSU_VER_CODE": "11986"},
		},
		{
			platform: platform.APatch,
			want:     map[string]string{"APATCH": "true", "APATCH_VER": "27.0", "APATCH_VER_CODE": "27000"},
		},
	}

	common := map[string]string{
		"ASH_STANDALONE": "1",
		"MMRL":           "true",
		"MMRL_VER":       "v33.1.0",
		"MMRL_VER_CODE":  "33100",
		"BOOTMODE":       "true",
		"ARCH":           "arm64-v8a",
		"API":            "34",
		"IS64BIT":        "true",
		"PATH":           "/system/bin",
	}

	for _, tt := range tests {
		t.Run(tt.platform.String(), func(t *testing.T) {
			f := newFixture(t)
			f.addModule(t, "foo", "id=foo\n")
			f.driver.version = 11986
			f.runner.results["su -v"] = &shell.Result{Out: []string{"27.0"}}
			f.runner.results["su -V"] = &shell.Result{Out: []string{"27000"}}
			m := New(tt.platform, f.cfg)

			if err := m.Action(context.Background(), "foo", true, nil); err != nil {
				t.Fatalf("action: %v", err)
			}
			call := f.spawner.calls[0]
			wantArgv := "busybox sh " + filepath.Join(f.modules, "foo", "action.sh")
			if got := strings.Join(call.argv, " "); got != wantArgv {
				t.Errorf("argv: got %q, want %q", got, wantArgv)
			}
			for k, v := range common {
				if got, _ := envValue(call.env, k); got != v {
					t.Errorf("%s: got %q, want %q", k, got, v)
				}
			}
			for k, v := range tt.want {
				if got, _ := envValue(call.env, k); got != v {
					t.Errorf("%s: got %q, want %q", k, got, v)
				}
			}
			for _, k := range tt.absent {
				if _, ok := envValue(call.env, k); ok {
					t.Errorf("%s should not be set", k)
				}
			}
		})
	}
}

func TestNativeAction(t *testing.T) {
	f := newFixture(t)
	m := New(platform.KernelSU, f.cfg)

	if err := m.Action(context.Background(), "foo", false, nil); err != nil {
		t.Fatalf("action: %v", err)
	}
	call := f.spawner.calls[0]
	if got := strings.Join(call.argv, " "); got != "ksud module action foo" {
		t.Errorf("argv: got %q", got)
	}
	if _, ok := envValue(call.env, "KSU"); ok {
		t.Error("native action should not export backend identity")
	}
	if got, _ := envValue(call.env, "MMRL"); got != "true" {
		t.Errorf("MMRL: got %q", got)
	}

	if err := m.Action(context.Background(), "foo;reboot", false, nil); !errors.Is(err, ErrModuleMissing) {
		t.Errorf("invalid id: got %v", err)
	}
	if len(f.spawner.calls) != 1 {
		t.Errorf("invalid id was spawned")
	}
}

func writeModuleZip(t *testing.T, path, prop string) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	if prop != "" {
		w, err := zw.Create(PropFile)
		if err != nil {
			t.Fatalf("zip entry: %v", err)
		}
		io.WriteString(w, prop)
	}
	w, err := zw.Create("customize.sh")
	if err != nil {
		t.Fatalf("zip entry: %v", err)
	}
	io.WriteString(w, "ui_print hi\n")
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

func TestInstall(t *testing.T) {
	f := newFixture(t)
	zipPath := filepath.Join(t.TempDir(), "foo.zip")
	writeModuleZip(t, zipPath, "id=foo\nname=Foo\n")
	m := New(platform.Magisk, f.cfg)

	var lines []string
	l := shell.ListenerFuncs{Stdout: func(line string) { lines = append(lines, line) }}
	bulk := []BulkModule{{ID: "foo"}, {ID: "bar"}}
	if err := m.Install(context.Background(), zipPath, bulk, l); err != nil {
		t.Fatalf("install: %v", err)
	}

	call := f.spawner.calls[0]
	if got := strings.Join(call.argv, " "); got != "magisk --install-module "+zipPath {
		t.Errorf("argv: got %q", got)
	}
	if got, _ := envValue(call.env, "BULK_MODULES"); got != "foo bar" {
		t.Errorf("BULK_MODULES: got %q", got)
	}
	if len(lines) != 1 || lines[0] != "- working" {
		t.Errorf("streamed lines: got %q", lines)
	}
}

func TestInstallFailureAndBulkContinues(t *testing.T) {
	f := newFixture(t)
	tmp := t.TempDir()
	bad := filepath.Join(tmp, "bad.zip")
	good := filepath.Join(tmp, "good.zip")
	writeModuleZip(t, bad, "id=bad\n")
	writeModuleZip(t, good, "id=good\n")
	f.spawner.fail[bad] = "! Unzip error"
	m := New(platform.KernelSU, f.cfg)

	err := m.Install(context.Background(), bad, nil, nil)
	var oe *OpError
	if !errors.As(err, &oe) || oe.Diagnostic != "! Unzip error" || oe.ID != "bad" {
		t.Fatalf("single install: got %v", err)
	}

	f.spawner.calls = nil
	err = m.InstallAll(context.Background(), []string{bad, good}, nil)
	if err == nil {
		t.Fatal("expected the bad archive to fail")
	}
	if len(f.spawner.calls) != 2 {
		t.Fatalf("bulk install stopped early: %d calls", len(f.spawner.calls))
	}
	if got, _ := envValue(f.spawner.calls[1].env, "BULK_MODULES"); got != "bad good" {
		t.Errorf("BULK_MODULES: got %q", got)
	}
	if !strings.Contains(err.Error(), "Unzip error") {
		t.Errorf("joined error: %v", err)
	}
}

func TestModuleInfo(t *testing.T) {
	f := newFixture(t)
	m := New(platform.Magisk, f.cfg)
	tmp := t.TempDir()

	withProp := filepath.Join(tmp, "a.zip")
	writeModuleZip(t, withProp, "id = zygisk_foo\nversion=v1.2\nversionCode=120\r\nauthor=someone\n")
	info, err := m.ModuleInfo(withProp)
	if err != nil {
		t.Fatalf("module info: %v", err)
	}
	if info.ID != "zygisk_foo" || info.Version != "v1.2" || info.VersionCode != 120 || info.Author != "someone" {
		t.Errorf("got %+v", info)
	}
	if info.Name != "unknown" {
		t.Errorf("name fallback: got %q", info.Name)
	}

	withoutProp := filepath.Join(tmp, "b.zip")
	writeModuleZip(t, withoutProp, "")
	if _, err := m.ModuleInfo(withoutProp); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing prop: got %v", err)
	}
}

func TestModules(t *testing.T) {
	f := newFixture(t)
	foo := f.addModule(t, "foo", "id=foo\nname=Foo Module\nversion=1.0\nversionCode=abc\ndescription=does = things\n")
	os.MkdirAll(filepath.Join(foo, WebrootDir), 0755)
	os.WriteFile(filepath.Join(foo, ActionFile), []byte("#!/system/bin/sh\n"), 0755)
	os.WriteFile(filepath.Join(foo, MarkerDisable), nil, 0644)

	f.addModule(t, "bar", "name=Bar\n")
	os.MkdirAll(filepath.Join(f.modules, "noprop"), 0755)
	os.WriteFile(filepath.Join(f.modules, "stray-file"), nil, 0644)

	m := New(platform.KernelSU, f.cfg)
	modules, err := m.Modules()
	if err != nil {
		t.Fatalf("modules: %v", err)
	}
	if len(modules) != 2 {
		t.Fatalf("got %d modules, want 2: %+v", len(modules), modules)
	}

	byID := map[string]LocalModule{}
	for _, mod := range modules {
		byID[mod.ID] = mod
	}

	got := byID["foo"]
	if got.Name != "Foo Module" || got.VersionCode != -1 || got.Description != "does = things" {
		t.Errorf("foo props: got %+v", got)
	}
	if got.State != Disabled {
		t.Errorf("foo state: got %v", got.State)
	}
	if !got.Features.WebUI || !got.Features.Action || got.Features.Service {
		t.Errorf("foo features: got %+v", got.Features)
	}
	if got.Size == 0 || got.LastUpdated == 0 {
		t.Errorf("foo size=%d lastUpdated=%d", got.Size, got.LastUpdated)
	}

	bar, ok := byID["bar"]
	if !ok || bar.Name != "Bar" || bar.State != Enabled {
		t.Errorf("bar: got %+v", bar)
	}

	one, err := m.ModuleByID("foo")
	if err != nil || one.ID != "foo" {
		t.Errorf("by id: got %+v, %v", one, err)
	}
	if _, err := m.ModuleByID("noprop"); !errors.Is(err, ErrModuleMissing) {
		t.Errorf("no prop: got %v", err)
	}
}

func TestModulesWithoutDirectory(t *testing.T) {
	f := newFixture(t)
	f.cfg.ModulesDir = filepath.Join(f.modules, "nope")
	modules, err := New(platform.Magisk, f.cfg).Modules()
	if err != nil || len(modules) != 0 {
		t.Errorf("got %v, %v", modules, err)
	}
}

func TestKernelSUQueries(t *testing.T) {
	f := newFixture(t)
	f.driver.allow = []int{10001, 10002, 10003}
	f.driver.lkm = true

	tests := []struct {
		version int
		gki     bool
		want    Tristate
	}{
		{11648, true, True},
		{11647, true, Unknown},
		{12000, false, Unknown},
		{-1, true, Unknown},
	}
	for _, tt := range tests {
		f.driver.version = tt.version
		k := New(platform.KernelSU, f.cfg).(*kernelSU)
		k.gki = func() bool { return tt.gki }
		if got := k.IsLKMMode(); got != tt.want {
			t.Errorf("version %d gki %v: got %v, want %v", tt.version, tt.gki, got, tt.want)
		}
	}

	f.driver.version = 11986
	m := New(platform.KernelSU, f.cfg)
	if got := m.SuperUserCount(); got != 3 {
		t.Errorf("superuser count: got %d", got)
	}
	if got := m.VersionCode(); got != 11986 {
		t.Errorf("version code: got %d", got)
	}
	if !m.UIDShouldUmount(10050) || m.UIDShouldUmount(1000) {
		t.Error("uid umount mismatch")
	}

	profile := ksu.DefaultProfile("com.example", 10050)
	if err := m.SetAppProfile(profile); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	got, err := m.AppProfile("com.example", 10050)
	if err != nil || got != profile {
		t.Errorf("get profile: got %+v, %v", got, err)
	}
	if _, err := m.AppProfile("com.other", 10051); err == nil {
		t.Error("expected failure for an unknown profile")
	}
}

func TestOtherBackendsAnswerUnknown(t *testing.T) {
	f := newFixture(t)
	for _, p := range []platform.Platform{platform.Magisk, platform.APatch, platform.NonRoot} {
		m := New(p, f.cfg)
		if m.IsLKMMode() != Unknown || m.SuperUserCount() != -1 {
			t.Errorf("%v: expected unknown answers", p)
		}
		if _, err := m.AppProfile("x", 1); !errors.Is(err, ErrUnsupported) {
			t.Errorf("%v: app profile: got %v", p, err)
		}
	}
}

func TestAPatchMagicMount(t *testing.T) {
	tests := []struct {
		name    string
		bind    bool
		overlay bool
		code    string
		want    Tristate
	}{
		{"bind mount", true, false, "11039", True},
		{"overlay wins", true, true, "11039", False},
		{"too old", true, false, "10983", False},
		{"no bind flag", false, false, "11039", False},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.bind {
				os.WriteFile(filepath.Join(f.cfg.AdbDir, ".bind_mount_enable"), nil, 0644)
			}
			if tt.overlay {
				os.WriteFile(filepath.Join(f.cfg.AdbDir, ".overlay_enable"), nil, 0644)
			}
			f.runner.results["su -V"] = &shell.Result{Out: []string{tt.code}}
			if got := New(platform.APatch, f.cfg).Compatibility().HasMagicMount; got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVersionFallback(t *testing.T) {
	f := newFixture(t)
	f.runner.fallback = &shell.Result{ExitCode: 127, Err: []string{"su: not found"}}
	m := New(platform.Magisk, f.cfg)
	if m.Version() != "unknown" || m.VersionCode() != -1 {
		t.Errorf("got %q/%d", m.Version(), m.VersionCode())
	}
}

func TestReboot(t *testing.T) {
	f := newFixture(t)
	m := New(platform.Magisk, f.cfg)

	if err := m.Reboot(context.Background(), "recovery"); err != nil {
		t.Fatalf("reboot: %v", err)
	}
	want := []string{
		"/system/bin/input keyevent 26",
		"/system/bin/svc power reboot 'recovery' || /system/bin/reboot 'recovery'",
	}
	if strings.Join(f.runner.commands, "\n") != strings.Join(want, "\n") {
		t.Errorf("commands: got %q", f.runner.commands)
	}
}

func TestParsePropsAndIDs(t *testing.T) {
	props := ParseProps("id=foo\n# comment\nname = Foo = Bar \n\nbroken\nid=foo2")
	if props["id"] != "foo2" || props["name"] != "Foo = Bar" {
		t.Errorf("got %v", props)
	}
	if _, ok := props["broken"]; ok {
		t.Error("line without = should be ignored")
	}

	for id, want := range map[string]bool{
		"foo":        true,
		"zygisk_lsp": true,
		"a.b-c":      true,
		"f":          false,
		"1abc":       false,
		"../etc":     false,
		"foo bar":    false,
	} {
		if got := ValidID(id); got != want {
			t.Errorf("ValidID(%q): got %v", id, got)
		}
	}
	if got := SanitizeID("my-module.x"); got != "my_module.x" {
		t.Errorf("SanitizeID: got %q", got)
	}
}
