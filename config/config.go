package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	nativecommon "lendcore/native/common"
	"lendcore/native/lending"
)

// Config is the module-level TOML configuration. It tunes engine behaviour;
// deployment concerns (listen addresses, telemetry, storage paths) live with
// each service's YAML config.
type Config struct {
	Lending lending.Config `toml:"lending"`
	// PausedModules lists modules rejecting mutations, by name.
	PausedModules []string `toml:"paused_modules"`
}

// Load reads the TOML file and applies defaults. An empty path yields the
// default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	cfg.EnsureDefaults()
	return cfg, nil
}

// EnsureDefaults fills unset fields.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	c.Lending.EnsureDefaults()
	for i, module := range c.PausedModules {
		c.PausedModules[i] = strings.ToLower(strings.TrimSpace(module))
	}
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[strings.ToLower(module)] }

// PauseView exposes the configured pause switches to module guards.
func (c *Config) PauseView() nativecommon.PauseView {
	set := make(pauseSet, len(c.PausedModules))
	for _, module := range c.PausedModules {
		if module != "" {
			set[module] = true
		}
	}
	return set
}
