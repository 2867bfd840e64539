// Package appconfig manages application configuration and runtime file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"pgtunnel/internal/model"
	"pgtunnel/internal/util"
)

// UIConfig contains TUI display settings.
type UIConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds"`
}

// Config holds application-level configuration.
//
// AliasTunnels and HostTunnels are the two ordered rule sets consumed by the
// tunnel rule matcher: alias patterns are tested against the database target
// name, host patterns against the literal database host. Patterns are
// regular expressions matched in full; they are compiled (and therefore
// validated) at load time.
type Config struct {
	AllowAgent     bool                   `yaml:"allow_agent"`
	HostKeyPolicy  string                 `yaml:"host_key_policy"`
	SSHConfigPath  string                 `yaml:"ssh_config"`
	KnownHostsPath string                 `yaml:"known_hosts"`
	AliasTunnels   []model.TunnelRule     `yaml:"alias_tunnels"`
	HostTunnels    []model.TunnelRule     `yaml:"host_tunnels"`
	Databases      []model.DatabaseTarget `yaml:"databases"`
	UI             UIConfig               `yaml:"ui"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		AllowAgent:     true,
		HostKeyPolicy:  string(model.HostKeyAutoAdd),
		SSHConfigPath:  "~/.ssh/config",
		KnownHostsPath: "~/.ssh/known_hosts",
		UI:             UIConfig{RefreshSeconds: util.DefaultRefreshSeconds},
	}
}

// Policy returns the normalized host key policy. Unrecognized configured
// values fall back to auto-add.
func (c Config) Policy() model.HostKeyPolicy {
	return model.ParseHostKeyPolicy(c.HostKeyPolicy)
}

// SSHConfigFile returns the OpenSSH client config path with ~ expanded.
func (c Config) SSHConfigFile() string {
	return util.ExpandHome(util.DefaultString(c.SSHConfigPath, "~/.ssh/config"))
}

// KnownHostsFile returns the known_hosts path with ~ expanded.
func (c Config) KnownHostsFile() string {
	return util.ExpandHome(util.DefaultString(c.KnownHostsPath, "~/.ssh/known_hosts"))
}

// FindDatabase looks up a configured database target by name.
func (c Config) FindDatabase(name string) (model.DatabaseTarget, bool) {
	for _, d := range c.Databases {
		if d.Name == name {
			return d, true
		}
	}
	return model.DatabaseTarget{}, false
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/pgtunnel.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pgtunnel"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "pgtunnel"), nil
}

// Load reads config.yaml from the config directory.
// If the file doesn't exist, creates it with defaults.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = util.DefaultRefreshSeconds
	}
	for i := range cfg.Databases {
		if cfg.Databases[i].Port == 0 {
			cfg.Databases[i].Port = util.DefaultDatabasePort
		}
	}
	return cfg, nil
}

// validate rejects configurations that would only fail later at use time:
// rule patterns that are not valid regular expressions, databases without a
// name or host, and out-of-range ports.
func (c Config) validate() error {
	for _, set := range []struct {
		name  string
		rules []model.TunnelRule
	}{
		{"alias_tunnels", c.AliasTunnels},
		{"host_tunnels", c.HostTunnels},
	} {
		for i, r := range set.rules {
			if r.Pattern == "" {
				return fmt.Errorf("%s[%d]: empty pattern", set.name, i)
			}
			if r.Tunnel == "" {
				return fmt.Errorf("%s[%d]: empty tunnel specification", set.name, i)
			}
			if _, err := regexp.Compile(r.Pattern); err != nil {
				return fmt.Errorf("%s[%d]: invalid pattern %q: %w", set.name, i, r.Pattern, err)
			}
		}
	}
	for i, d := range c.Databases {
		if d.Name == "" || d.Host == "" {
			return fmt.Errorf("databases[%d]: name and host are required", i)
		}
		if d.Port != 0 {
			if err := util.ValidatePort(d.Port); err != nil {
				return fmt.Errorf("databases[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	// Tunnel specifications may embed passwords; keep the file private.
	return os.WriteFile(path, b, 0o600)
}

// EventsFilePath returns the full path to events.jsonl.
func EventsFilePath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "events.jsonl"), nil
}
