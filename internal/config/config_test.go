package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Server.EnableREST)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9001
  enable_rest: true
identity:
  cortex_id: node-a
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.True(t, cfg.Server.EnableREST)
	assert.Equal(t, "node-a", cfg.Identity.CortexID)
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o600))

	t.Setenv("CORTEX_PORT", "7777")
	t.Setenv("CORTEX_ENABLE_REST", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.True(t, cfg.Server.EnableREST)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bogus_field: 1\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadPort(t *testing.T) {
	t.Setenv("CORTEX_PORT", "-1")
	_, err := Load("")
	assert.Error(t, err)
}

func TestExpandsEnvVarsInYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  connection_string: ${TEST_REDIS_URL}\n"), 0o600))

	t.Setenv("TEST_REDIS_URL", "redis://localhost:6379")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379", cfg.Storage.ConnectionString)
}
