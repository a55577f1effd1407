// Package config loads the daemon's YAML configuration and reloads it when
// the file changes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"mmrl/internal/platform"
	"mmrl/internal/webui"
	"mmrl/pkg/protocol"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where mmrld looks for its config.
const DefaultPath = "/data/adb/mmrl/mmrld.yaml"

// WebUI configures the content server started by `mmrl webui`.
type WebUI struct {
	Addr      string       `yaml:"addr"`
	Domain    string       `yaml:"domain"`
	AssetsDir string       `yaml:"assets_dir,omitempty"`
	ConfigDir string       `yaml:"config_dir"`
	Insets    webui.Insets `yaml:"insets"`
	Colors    webui.Colors `yaml:"colors,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	Platform     platform.Platform `yaml:"platform"`
	SocketPath   string            `yaml:"socket_path"`
	AuditLog     string            `yaml:"audit_log"`
	APIAddr      string            `yaml:"api_addr,omitempty"` // operator API; off when empty
	ModulesDir   string            `yaml:"modules_dir"`
	AdbDir       string            `yaml:"adb_dir"`
	AllowedUIDs  []int             `yaml:"allowed_uids,omitempty"`
	GrantTimeout time.Duration     `yaml:"grant_timeout"` // negative denies unknown peers outright
	Env          map[string]string `yaml:"env,omitempty"` // extra variables for module scripts
	WebUI        WebUI             `yaml:"webui"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse decodes YAML config data and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = protocol.DefaultSocketPath
	}
	if c.AuditLog == "" {
		c.AuditLog = "/data/adb/mmrl/audit.jsonl"
	}
	if c.ModulesDir == "" {
		c.ModulesDir = webui.DefaultModulesDir
	}
	if c.AdbDir == "" {
		c.AdbDir = "/data/adb"
	}
	if c.GrantTimeout == 0 {
		c.GrantTimeout = 2 * time.Minute
	}
	if c.WebUI.Addr == "" {
		c.WebUI.Addr = "127.0.0.1:8787"
	}
	if c.WebUI.Domain == "" {
		c.WebUI.Domain = webui.DefaultDomain
	}
	if c.WebUI.ConfigDir == "" {
		c.WebUI.ConfigDir = webui.DefaultConfigDir
	}
}

func (c *Config) validate() error {
	for _, uid := range c.AllowedUIDs {
		if uid < 0 {
			return fmt.Errorf("allowed_uids: invalid uid %d", uid)
		}
	}
	return nil
}
