package webui

import (
	"mmrl/internal/fileops"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		check func(t *testing.T, c Config)
	}{
		{
			name:  "missing",
			files: nil,
			check: func(t *testing.T, c Config) {
				if !reflect.DeepEqual(c, DefaultConfig()) {
					t.Errorf("config = %+v, want defaults", c)
				}
			},
		},
		{
			name: "comments and trailing commas",
			files: map[string]string{"config.json": `{
				// serve index.html for client routes
				"historyFallback": true,
				"permissions": ["wx.permission.ROOT_PATH",],
				"require": {"version": {"required": 3, /* inline */ "supportLink": "https://example.com"}},
			}`},
			check: func(t *testing.T, c Config) {
				if !c.HistoryFallback || c.HistoryFallbackFile != "index.html" {
					t.Errorf("fallback = %v %q", c.HistoryFallback, c.HistoryFallbackFile)
				}
				if !c.HasPermission(PermissionRootPath) {
					t.Errorf("permissions = %v", c.Permissions)
				}
				if c.Require.Version.Required != 3 || c.Require.Version.SupportLink != "https://example.com" {
					t.Errorf("require = %+v", c.Require)
				}
				if !c.WindowResize || !c.ExitConfirm {
					t.Error("unset fields lost their defaults")
				}
			},
		},
		{
			name:  "mmrl config as fallback",
			files: map[string]string{"config.mmrl.json": `{"historyFallbackFile": "app.html"}`},
			check: func(t *testing.T, c Config) {
				if c.HistoryFallbackFile != "app.html" {
					t.Errorf("historyFallbackFile = %q", c.HistoryFallbackFile)
				}
			},
		},
		{
			name: "config.json wins",
			files: map[string]string{
				"config.json":      `{"title": "first"}`,
				"config.mmrl.json": `{"title": "second"}`,
			},
			check: func(t *testing.T, c Config) {
				if c.Title != "first" {
					t.Errorf("title = %q, want first", c.Title)
				}
			},
		},
		{
			name:  "broken",
			files: map[string]string{"config.json": `{"historyFallback": "yes"`},
			check: func(t *testing.T, c Config) {
				if !reflect.DeepEqual(c, DefaultConfig()) {
					t.Errorf("config = %+v, want defaults", c)
				}
			},
		},
		{
			name:  "empty fallback file",
			files: map[string]string{"config.json": `{"historyFallbackFile": ""}`},
			check: func(t *testing.T, c Config) {
				if c.HistoryFallbackFile != "index.html" {
					t.Errorf("historyFallbackFile = %q", c.HistoryFallbackFile)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, data := range tt.files {
				mustWrite(t, filepath.Join(dir, name), data)
			}
			tt.check(t, LoadConfig(fileops.NewLocal(), dir))
		})
	}
}

func TestConfigSupports(t *testing.T) {
	c := DefaultConfig()
	c.Require.Version.Required = 5
	if c.Supports(4) {
		t.Error("Supports(4) = true")
	}
	if !c.Supports(5) || !c.Supports(6) {
		t.Error("Supports(5/6) = false")
	}
}
