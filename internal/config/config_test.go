package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		envValue string
		want     string
	}{
		{"flag takes precedence", "/path/from/flag", "/path/from/env", "/path/from/flag"},
		{"env when no flag", "", "/path/from/env", "/path/from/env"},
		{"empty when neither", "", "", ""},
		{"whitespace flag", "  ", "/path/from/env", "/path/from/env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RESOLVFUZZ_CONFIG", tt.envValue)
			got := ResolveConfigPath(tt.flag)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.InDelta(t, 0.15, cfg.Scheduler.PNew, 1e-9)
	assert.Equal(t, "resolvfuzz.db", cfg.Store.DBPath)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.False(t, cfg.Fleet.Enabled)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	content := `
[scheduler]
batch_size = 25
p_new = 0.3
seed = 7

[store]
db_path = "run.db"
dump_dir = "run-dumps"

[logging]
level = "DEBUG"
structured = true
structured_format = "json"

[[resolvers]]
id = "bind"
binary_path = "/usr/bin/named"
control_addr = "127.0.0.1:9000"

[[auth]]
zone = "fuzz."
listen-addresses = ["127.64.1.1:53"]
server-id = "fuzz-ns"
ttl = 300

[common]
log-level = "DEBUG"
fuzzing-messages = true
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test-config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Scheduler.BatchSize)
	assert.InDelta(t, 0.3, cfg.Scheduler.PNew, 1e-9)
	assert.Equal(t, int64(7), cfg.Scheduler.Seed)
	assert.Equal(t, "run.db", cfg.Store.DBPath)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Structured)
	require.Len(t, cfg.Resolvers, 1)
	assert.Equal(t, "bind", cfg.Resolvers[0].ID)
	require.Len(t, cfg.Auth.Auths, 1)
	assert.Equal(t, "fuzz.", cfg.Auth.Auths[0].Zone)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.toml")
	assert.Error(t, err)
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler = [invalid"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeInvalidAPIPort(t *testing.T) {
	content := `
[api]
enabled = true
port = 0
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeRequiresResolverFields(t *testing.T) {
	content := `
[[resolvers]]
id = "bind"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeRequiresFleetPeerURL(t *testing.T) {
	content := `
[fleet]
enabled = true
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RESOLVFUZZ_SCHEDULER_BATCH_SIZE", "12")
	t.Setenv("RESOLVFUZZ_STORE_DB_PATH", "/custom/run.db")
	t.Setenv("RESOLVFUZZ_LOGGING_LEVEL", "debug")
	t.Setenv("RESOLVFUZZ_API_ENABLED", "true")
	t.Setenv("RESOLVFUZZ_API_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Scheduler.BatchSize)
	assert.Equal(t, "/custom/run.db", cfg.Store.DBPath)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 9090, cfg.API.Port)
}
