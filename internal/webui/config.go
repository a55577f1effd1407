package webui

import (
	"encoding/json"
	"mmrl/internal/fileops"
	"path"
	"slices"

	"github.com/tidwall/jsonc"
)

// PermissionRootPath lets a module read the whole file system through
// /__root__/.
const PermissionRootPath = "wx.permission.ROOT_PATH"

// configFiles are tried in order; the first one present wins.
var configFiles = []string{"config.json", "config.mmrl.json"}

// RequireVersion names the oldest app version the web UI works with.
type RequireVersion struct {
	Required    int    `json:"required"`
	SupportText string `json:"supportText,omitempty"`
	SupportLink string `json:"supportLink,omitempty"`
}

// Require groups a web UI's requirements.
type Require struct {
	Version RequireVersion `json:"version"`
}

// Config is the optional config.json in a module's web root.
type Config struct {
	Require             Require  `json:"require"`
	Permissions         []string `json:"permissions"`
	HistoryFallback     bool     `json:"historyFallback"`
	HistoryFallbackFile string   `json:"historyFallbackFile"`
	Title               string   `json:"title,omitempty"`
	Icon                string   `json:"icon,omitempty"`
	WindowResize        bool     `json:"windowResize"`
	ExitConfirm         bool     `json:"exitConfirm"`
	PullToRefresh       bool     `json:"pullToRefresh"`
}

// DefaultConfig is used when a module ships no config or a broken one.
func DefaultConfig() Config {
	return Config{
		Require:             Require{Version: RequireVersion{Required: 1}},
		HistoryFallbackFile: "index.html",
		WindowResize:        true,
		ExitConfirm:         true,
	}
}

// LoadConfig reads the web root's config. Comments and trailing commas are
// allowed. Any failure yields DefaultConfig.
func LoadConfig(fm fileops.FileManager, webroot string) Config {
	for _, name := range configFiles {
		data, err := fm.Read(path.Join(webroot, name))
		if err != nil {
			continue
		}
		cfg := DefaultConfig()
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return DefaultConfig()
		}
		if cfg.HistoryFallbackFile == "" {
			cfg.HistoryFallbackFile = "index.html"
		}
		return cfg
	}
	return DefaultConfig()
}

// HasPermission reports whether the config declares perm.
func (c Config) HasPermission(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

// Supports reports whether an app at version can run this web UI.
func (c Config) Supports(version int) bool {
	return c.Require.Version.Required <= version
}
