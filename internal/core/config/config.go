package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConflictNotice is the mustache template for the notice inserted
// into the fragment stream when a session-id conflict forces a retry.
const DefaultConflictNotice = `[session {{external_id}} is already in use — retrying with a fresh session]`

// DefaultConflictRetryDelay is how long to wait after killing a
// conflicted claude process before relaunching, so the OS fully
// releases it.
const DefaultConflictRetryDelay = 500 * time.Millisecond

type Config struct {
	ClaudeBinary           string        // claude executable name or path
	ClaudeFlags            []string      // extra flags passed on every invocation
	ConflictRetryDelay     time.Duration // wait before the single conflict retry
	ConflictNoticeTemplate string        // mustache template, see DefaultConflictNotice
	LogLevel               string
}

type tomlConfig struct {
	ClaudeBinary         string   `toml:"claude_binary"`
	ClaudeFlags          []string `toml:"claude_flags"`
	ConflictRetryDelayMS int      `toml:"conflict_retry_delay_ms"`
	LogLevel             string   `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ClaudeBinary:           "claude",
		ConflictRetryDelay:     DefaultConflictRetryDelay,
		ConflictNoticeTemplate: DefaultConflictNotice,
		LogLevel:               "info",
	}
}

// Load reads config from ~/.config/ccbridge/. Missing files fall back
// to defaults; Load never fails on absent config.
func Load() (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil // Use defaults
	}

	return loadFrom(cfg, filepath.Join(home, ".config", "ccbridge")), nil
}

// LoadDir reads config from an explicit directory, used in tests.
func LoadDir(dir string) *Config {
	return loadFrom(Default(), dir)
}

func loadFrom(cfg *Config, configDir string) *Config {
	tomlPath := filepath.Join(configDir, "config.toml")
	noticePath := filepath.Join(configDir, "conflict_notice.txt")

	if _, err := os.Stat(tomlPath); err == nil {
		var tc tomlConfig
		if _, err := toml.DecodeFile(tomlPath, &tc); err == nil {
			if tc.ClaudeBinary != "" {
				cfg.ClaudeBinary = tc.ClaudeBinary
			}
			if len(tc.ClaudeFlags) > 0 {
				cfg.ClaudeFlags = tc.ClaudeFlags
			}
			if tc.ConflictRetryDelayMS > 0 {
				cfg.ConflictRetryDelay = time.Duration(tc.ConflictRetryDelayMS) * time.Millisecond
			}
			if tc.LogLevel != "" {
				cfg.LogLevel = tc.LogLevel
			}
		}
	}

	// If a custom conflict notice template exists, use it
	if data, err := os.ReadFile(noticePath); err == nil {
		cfg.ConflictNoticeTemplate = strings.TrimSpace(string(data))
	}

	return cfg
}
