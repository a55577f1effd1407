package config

import (
	"mmrl/internal/platform"
	"mmrl/internal/webui"
	"mmrl/pkg/protocol"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
platform: KernelSU
socket_path: /dev/socket/mmrld
allowed_uids: [10123, 10124]
grant_timeout: 30s
env:
  B: "2"
  A: "1"
webui:
  addr: 127.0.0.1:9000
  insets: {top: 24, bottom: 48}
  colors:
    - {name: primary, value: "#123456"}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Platform != platform.KernelSU {
		t.Errorf("Platform = %v, want KernelSU", cfg.Platform)
	}
	if cfg.SocketPath != "/dev/socket/mmrld" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if !reflect.DeepEqual(cfg.AllowedUIDs, []int{10123, 10124}) {
		t.Errorf("AllowedUIDs = %v", cfg.AllowedUIDs)
	}
	if cfg.GrantTimeout != 30*time.Second {
		t.Errorf("GrantTimeout = %v, want 30s", cfg.GrantTimeout)
	}
	if want := map[string]string{"A": "1", "B": "2"}; !reflect.DeepEqual(cfg.Env, want) {
		t.Errorf("Env = %v, want %v", cfg.Env, want)
	}
	if cfg.WebUI.Addr != "127.0.0.1:9000" || cfg.WebUI.Insets != (webui.Insets{Top: 24, Bottom: 48}) {
		t.Errorf("WebUI = %+v", cfg.WebUI)
	}
	if len(cfg.WebUI.Colors) != 1 || cfg.WebUI.Colors[0].Value != "#123456" {
		t.Errorf("Colors = %v", cfg.WebUI.Colors)
	}

	// Unset fields get defaults.
	if cfg.AuditLog == "" || cfg.ModulesDir != webui.DefaultModulesDir || cfg.WebUI.Domain != webui.DefaultDomain {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "platform: [",
		"bad platform": "platform: Unknown",
		"bad uid":      "allowed_uids: [-5]",
		"bad duration": "grant_timeout: soon",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); err == nil {
				t.Error("Parse() succeeded")
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.SocketPath != protocol.DefaultSocketPath {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.GrantTimeout != 2*time.Minute {
		t.Errorf("GrantTimeout = %v", cfg.GrantTimeout)
	}
	if cfg.Platform != platform.NonRoot {
		t.Errorf("Platform = %v", cfg.Platform)
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("missing file = %+v, want defaults", cfg)
	}

	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("allowed_uids: nope"), 0o644)
	if _, err := LoadOrDefault(path); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("bad file error = %v", err)
	}
}
