package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://niyambadha.vercel.app", cfg.Engine.APIBaseURL)
	assert.Equal(t, "https://niyambadha.vercel.app", cfg.Engine.PuzzleURL)
	assert.NotEmpty(t, cfg.Engine.DataDir)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 90*24*time.Hour, cfg.Auth.SessionExpiry)
}

func TestLoad_FromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watchd.yaml")
	content := `
engine:
  api_base_url: http://localhost:9000
  puzzle_url: http://localhost:9000/puzzle
  data_dir: /tmp/watchd-test
server:
  port: 9100
auth:
  session_secret: test-secret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", cfg.Engine.APIBaseURL)
	assert.Equal(t, "http://localhost:9000/puzzle", cfg.Engine.PuzzleURL)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "test-secret", cfg.Auth.SessionSecret)

	// Derived defaults follow the configured data dir.
	assert.Equal(t, filepath.Join("/tmp/watchd-test", "watchd.sock"), cfg.Engine.BridgeSocket)
	assert.Equal(t, filepath.Join("/tmp/watchd-test", "watchd.log"), cfg.Engine.LogPath)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WATCHD_API_BASE_URL", "http://override:8000")
	t.Setenv("WATCHD_SERVER_PORT", "9200")
	t.Setenv("WATCHD_DEBUG", "yes")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://override:8000", cfg.Engine.APIBaseURL)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.True(t, cfg.Debug)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/watchd.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Engine.APIBaseURL = ""
	assert.EqualError(t, cfg.Validate(), "engine.api_base_url is required")

	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	assert.EqualError(t, cfg.Validate(), "server.port is required and must be positive")
}
