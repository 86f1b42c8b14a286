// Package config loads the optional .termhold/config.toml user configuration.
//
// All state for termhold lives under a working-directory-relative store so a
// project's sessions, logs and configuration travel with the project instead
// of a machine-global config path.
package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/termhold/termhold/internal/platform"
)

// StoreDirName is the working-directory-relative root for all termhold state.
const StoreDirName = ".termhold"

// ConfigFileName is the TOML config file inside the store.
const ConfigFileName = "config.toml"

// Config represents user-facing configuration in TOML format.
type Config struct {
	// Backend selects the session backend: "auto" (default), "tmux", "process".
	// "auto" prefers tmux when available and falls back to the native
	// process backend (always the case on Windows).
	Backend string `toml:"backend"`

	// Shell is the default command interpreter for new sessions.
	// Empty means $SHELL, falling back to /bin/bash (cmd.exe on Windows).
	Shell string `toml:"shell"`

	// Exec holds defaults for the exec command.
	Exec ExecSettings `toml:"exec"`

	// Read holds defaults for the read command.
	Read ReadSettings `toml:"read"`

	// Logs configures the rotated debug log.
	Logs LogSettings `toml:"logs"`
}

// ExecSettings defines exec command behavior.
type ExecSettings struct {
	// TimeoutSecs is the default exec timeout (default: 10).
	TimeoutSecs int `toml:"timeout_secs"`

	// PollIntervalMS is the output poll interval in milliseconds (default: 100).
	PollIntervalMS int `toml:"poll_interval_ms"`
}

// ReadSettings defines read command defaults.
type ReadSettings struct {
	// Lines is the default trailing line count (default: 30).
	Lines int `toml:"lines"`

	// MaxChars is the default character cap (default: 2000). Set -1 to
	// disable truncation by default; --max-chars 0 disables it per call.
	MaxChars int `toml:"max_chars"`
}

// LogSettings configures the rotated log file.
type LogSettings struct {
	// Level is "debug", "info" (default), "warn" or "error".
	Level string `toml:"level"`

	// MaxSizeMB is the rotation threshold (default: 10).
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is how many rotated files to keep (default: 3).
	MaxBackups int `toml:"max_backups"`
}

var (
	loadOnce   sync.Once
	loadedCfg  *Config
	loadedRoot string
)

// Load reads config.toml from the store rooted at the current working
// directory, applying defaults for anything unset. A missing file is not an
// error: defaults apply. The result is cached for the process lifetime.
func Load() *Config {
	loadOnce.Do(func() {
		root, err := os.Getwd()
		if err != nil {
			root = "."
		}
		loadedRoot = filepath.Join(root, StoreDirName)
		loadedCfg = loadFrom(filepath.Join(loadedRoot, ConfigFileName))
	})
	return loadedCfg
}

// StoreRoot returns the absolute path of the working-directory store.
func StoreRoot() string {
	Load()
	return loadedRoot
}

// SessionsDir returns the directory holding per-session records and scratch.
func SessionsDir() string {
	return filepath.Join(StoreRoot(), "sessions")
}

// LogDir returns the directory for rotated debug logs.
func LogDir() string {
	return filepath.Join(StoreRoot(), "logs")
}

func loadFrom(path string) *Config {
	cfg := &Config{}
	// Decode errors fall through to defaults; a malformed config must not
	// keep session commands from producing an envelope.
	if _, err := os.Stat(path); err == nil {
		_, _ = toml.DecodeFile(path, cfg)
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = "auto"
	}
	if cfg.Shell == "" {
		cfg.Shell = platform.DefaultShell()
	}
	if cfg.Exec.TimeoutSecs <= 0 {
		cfg.Exec.TimeoutSecs = 10
	}
	if cfg.Exec.PollIntervalMS <= 0 {
		cfg.Exec.PollIntervalMS = 100
	}
	if cfg.Read.Lines <= 0 {
		cfg.Read.Lines = 30
	}
	switch {
	case cfg.Read.MaxChars < 0:
		cfg.Read.MaxChars = 0 // unlimited
	case cfg.Read.MaxChars == 0:
		cfg.Read.MaxChars = 2000
	}
	if cfg.Logs.Level == "" {
		cfg.Logs.Level = "info"
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 10
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 3
	}
}
