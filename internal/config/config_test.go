package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg := loadFrom(filepath.Join(t.TempDir(), "config.toml"))

	assert.Equal(t, "auto", cfg.Backend)
	assert.NotEmpty(t, cfg.Shell)
	assert.Equal(t, 10, cfg.Exec.TimeoutSecs)
	assert.Equal(t, 100, cfg.Exec.PollIntervalMS)
	assert.Equal(t, 30, cfg.Read.Lines)
	assert.Equal(t, 2000, cfg.Read.MaxChars)
	assert.Equal(t, "info", cfg.Logs.Level)
}

func TestLoadFromOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend = "process"
shell = "/bin/zsh"

[exec]
timeout_secs = 30
poll_interval_ms = 50

[read]
lines = 100
max_chars = 5000

[logs]
level = "debug"
`), 0o600))

	cfg := loadFrom(path)
	assert.Equal(t, "process", cfg.Backend)
	assert.Equal(t, "/bin/zsh", cfg.Shell)
	assert.Equal(t, 30, cfg.Exec.TimeoutSecs)
	assert.Equal(t, 50, cfg.Exec.PollIntervalMS)
	assert.Equal(t, 100, cfg.Read.Lines)
	assert.Equal(t, 5000, cfg.Read.MaxChars)
	assert.Equal(t, "debug", cfg.Logs.Level)
}

func TestLoadFromMaxCharsSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[read]\nmax_chars = -1\n"), 0o600))

	cfg := loadFrom(path)
	assert.Equal(t, 0, cfg.Read.MaxChars, "-1 means no cap, normalized to 0")
}

func TestLoadFromMalformedFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("backend = [broken"), 0o600))

	cfg := loadFrom(path)
	assert.Equal(t, "auto", cfg.Backend)
}
