package main

import (
	"bytes"
	"io"
	"log"
	"mmrl/internal/platform"
	"mmrl/internal/prefs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// device is a throwaway modules directory plus the client's own files.
type device struct {
	prefs   string
	config  string
	modules string
}

func newDevice(t *testing.T) device {
	t.Helper()
	dir := t.TempDir()
	d := device{
		prefs:   filepath.Join(dir, "prefs.cbor"),
		config:  filepath.Join(dir, "mmrld.yaml"),
		modules: filepath.Join(dir, "modules"),
	}
	if err := os.MkdirAll(d.modules, 0o755); err != nil {
		t.Fatal(err)
	}
	return d
}

func (d device) addModule(t *testing.T, id, prop string, markers ...string) {
	t.Helper()
	dir := filepath.Join(d.modules, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "module.prop"), []byte(prop), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, m := range markers {
		if err := os.WriteFile(filepath.Join(dir, m), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func (d device) run(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	full := append([]string{"--prefs", d.prefs, "--config", d.config, "--modules-dir", d.modules}, args...)
	err := run(full, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func (d device) store(t *testing.T) *prefs.Store {
	t.Helper()
	s, err := prefs.Open(d.prefs, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMode(t *testing.T) {
	d := newDevice(t)

	out, _, err := d.run("mode")
	if err != nil {
		t.Fatalf("mode: %v", err)
	}
	if !strings.HasPrefix(out, string(platform.ModeFirstSetup)) {
		t.Errorf("fresh mode = %q, want FIRST_SETUP", out)
	}

	if _, _, err := d.run("mode", string(platform.ModeMagisk)); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if got := d.store(t).WorkingMode(); got != platform.ModeMagisk {
		t.Errorf("persisted mode = %q, want %q", got, platform.ModeMagisk)
	}
}

func TestModules(t *testing.T) {
	d := newDevice(t)
	d.addModule(t, "foo", "id=foo\nname=Foo\nversion=v1.2\nversionCode=12\n")
	d.addModule(t, "bar", "id=bar\nname=Bar\nversion=v0.1\nversionCode=1\n", "disable")

	s := d.store(t)
	s.SetModule("foo", prefs.Module{DevTools: true})
	s.SetModule("gone", prefs.Module{DevTools: true})

	out, _, err := d.run("modules")
	if err != nil {
		t.Fatalf("modules: %v", err)
	}

	for _, want := range []string{"ID", "foo", "Foo", "v1.2 (12)", "bar", "DISABLE"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	mods := d.store(t).Get().Modules
	if _, ok := mods["gone"]; ok {
		t.Error("prefs kept an uninstalled module")
	}
	if !mods["foo"].DevTools {
		t.Error("prefs lost an installed module")
	}
}

func TestModulesEmpty(t *testing.T) {
	d := newDevice(t)
	out, _, err := d.run("modules")
	if err != nil {
		t.Fatalf("modules: %v", err)
	}
	if !strings.Contains(out, "No modules installed") {
		t.Errorf("output = %q", out)
	}
}

func TestStatus(t *testing.T) {
	d := newDevice(t)
	out, _, err := d.run("status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"FIRST_SETUP", "Non-Root", "Superuser:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEnableRefusedWithoutRoot(t *testing.T) {
	d := newDevice(t)
	d.addModule(t, "foo", "id=foo\n", "disable")

	if _, _, err := d.run("enable", "foo"); err == nil {
		t.Fatal("enable succeeded in non-root mode")
	}
	if _, err := os.Stat(filepath.Join(d.modules, "foo", "disable")); err != nil {
		t.Errorf("disable marker touched: %v", err)
	}
}

func TestDevTools(t *testing.T) {
	d := newDevice(t)

	if _, _, err := d.run("devtools", "foo", "on"); err != nil {
		t.Fatalf("devtools on: %v", err)
	}
	out, _, err := d.run("devtools", "foo")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "on" {
		t.Errorf("devtools foo = %q, want on", out)
	}

	if _, _, err := d.run("devtools", "foo", "off"); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.store(t).Get().Modules["foo"]; ok {
		t.Error("turning devtools off kept the entry")
	}
}

func TestShellTool(t *testing.T) {
	d := newDevice(t)
	if _, _, err := d.run("shell-tool", "on"); err != nil {
		t.Fatal(err)
	}
	if !d.store(t).Get().UseShellTool {
		t.Error("shell-tool on was not persisted")
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "missing command"},
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"bad mode", []string{"mode", "MODE_BOGUS"}, "MODE_BOGUS"},
		{"info without zip", []string{"info"}, "usage: mmrl info"},
		{"enable extra args", []string{"enable", "a", "b"}, "usage: mmrl enable"},
		{"devtools bad id", []string{"devtools", "../x", "on"}, "invalid module id"},
		{"devtools bad value", []string{"devtools", "foo", "maybe"}, "want on or off"},
		{"unknown flag", []string{"modules", "--bogus"}, "modules:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDevice(t)
			_, _, err := d.run(tt.args...)
			if err == nil {
				t.Fatal("run succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.n); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
