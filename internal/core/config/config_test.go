package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "claude", cfg.ClaudeBinary)
	assert.Equal(t, DefaultConflictRetryDelay, cfg.ConflictRetryDelay)
	assert.Equal(t, DefaultConflictNotice, cfg.ConflictNoticeTemplate)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadDir_MissingDirUsesDefaults(t *testing.T) {
	cfg := LoadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Equal(t, "claude", cfg.ClaudeBinary)
	assert.Equal(t, DefaultConflictRetryDelay, cfg.ConflictRetryDelay)
}

func TestLoadDir_ReadsToml(t *testing.T) {
	dir := t.TempDir()
	toml := `
claude_binary = "/opt/bin/claude"
claude_flags = ["--model", "opus"]
conflict_retry_delay_ms = 250
log_level = "debug"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o644))

	cfg := LoadDir(dir)
	assert.Equal(t, "/opt/bin/claude", cfg.ClaudeBinary)
	assert.Equal(t, []string{"--model", "opus"}, cfg.ClaudeFlags)
	assert.Equal(t, 250*time.Millisecond, cfg.ConflictRetryDelay)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadDir_PartialTomlKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`log_level = "warn"`), 0o644))

	cfg := LoadDir(dir)
	assert.Equal(t, "claude", cfg.ClaudeBinary)
	assert.Equal(t, DefaultConflictRetryDelay, cfg.ConflictRetryDelay)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadDir_ConflictNoticeOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "conflict_notice.txt"),
		[]byte("session {{external_id}} busy, retrying\n"), 0o644))

	cfg := LoadDir(dir)
	assert.Equal(t, "session {{external_id}} busy, retrying", cfg.ConflictNoticeTemplate)
}

func TestLoadDir_MalformedTomlIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`not [valid`), 0o644))

	cfg := LoadDir(dir)
	assert.Equal(t, "claude", cfg.ClaudeBinary)
}
