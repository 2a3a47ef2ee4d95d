package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome clears the process environment and points HOME at a fresh
// temp directory so the loader sees neither a real user config nor ambient
// overrides. The environment is restored on cleanup.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	saved := os.Environ()
	os.Clearenv()
	os.Setenv("HOME", home)

	t.Cleanup(func() {
		os.Clearenv()
		for _, kv := range saved {
			if k, v, ok := strings.Cut(kv, "="); ok {
				os.Setenv(k, v)
			}
		}
	})

	return home
}

// writeTestConfig writes content to the default config path inside the fake
// home with secure permissions and returns the path.
func writeTestConfig(t *testing.T, home, content string) string {
	t.Helper()
	dir := filepath.Join(home, ".config", "specfactory")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	home := setupTestHome(t)
	path := writeTestConfig(t, home, `server:
  http_port: 8088

agents:
  backend: openai
  model_id: gpt-4o
  api_key: sk-yaml-test
  timeout: 90s

session:
  idle_timeout: 45m
  max_sessions: 20

nats:
  url: nats://localhost:4222

archive:
  backend: qdrant

qdrant:
  host: vectors.internal
  port: 7443
  use_tls: true
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Agents.Backend)
	assert.Equal(t, "gpt-4o", cfg.Agents.Model())
	assert.Equal(t, "sk-yaml-test", cfg.Agents.APIKey.Value())
	assert.Equal(t, 90*time.Second, cfg.Agents.Timeout.Duration())
	assert.Equal(t, 45*time.Minute, cfg.Session.IdleTimeout.Duration())
	assert.Equal(t, 20, cfg.Session.MaxSessions)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "qdrant", cfg.Archive.Backend)
	assert.Equal(t, "vectors.internal", cfg.Qdrant.Host)
	assert.Equal(t, 7443, cfg.Qdrant.Port)
	assert.True(t, cfg.Qdrant.UseTLS)
	assert.Empty(t, cfg.Warnings())
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	home := setupTestHome(t)
	path := writeTestConfig(t, home, `server:
  http_port: 8088

agents:
  backend: openai
  model_id: gpt-4
  api_key: sk-yaml-test
`)

	os.Setenv("SERVER_HTTP_PORT", "7777")
	os.Setenv("MODEL_ID", "gpt-4o-mini")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port, "environment overrides the file")
	assert.Equal(t, "gpt-4o-mini", cfg.Agents.ModelID, "flat MODEL_ID overrides the file")
	assert.Equal(t, "sk-yaml-test", cfg.Agents.APIKey.Value(), "file value survives where no override exists")
}

func TestLoadWithFile_FlatEnvironmentSurface(t *testing.T) {
	setupTestHome(t)

	os.Setenv("BACKEND", "openai")
	os.Setenv("MODEL_ID", "gpt-4o")
	os.Setenv("API_KEY", "sk-env-test")
	os.Setenv("SESSION_IDLE_TIMEOUT", "45m")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Agents.Backend)
	assert.Equal(t, "gpt-4o", cfg.Agents.ModelID)
	assert.Equal(t, "sk-env-test", cfg.Agents.APIKey.Value())
	assert.Equal(t, 45*time.Minute, cfg.Session.IdleTimeout.Duration())
}

func TestLoadWithFile_AzureFallback(t *testing.T) {
	setupTestHome(t)

	os.Setenv("BACKEND", "azure")
	os.Setenv("API_KEY", "sk-env-test")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Agents.Backend, "incomplete azure credentials fall back to openai")
	require.NotEmpty(t, cfg.Warnings())
	assert.Contains(t, cfg.Warnings()[0], "falling back")
}

func TestLoadWithFile_MissingCredentialsFatal(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	setupTestHome(t)

	os.Setenv("BACKEND", "openai")
	os.Setenv("API_KEY", "sk-env-test")

	cfg, err := LoadWithFile("")
	require.NoError(t, err, "a missing config file is not an error")

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "chromem", cfg.Archive.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout.Duration())
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	home := setupTestHome(t)
	path := writeTestConfig(t, home, "server: [\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on Windows")
	}

	home := setupTestHome(t)
	dir := filepath.Join(home, ".config", "specfactory")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 8088\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_FileTooLarge(t *testing.T) {
	home := setupTestHome(t)
	dir := filepath.Join(home, ".config", "specfactory")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")

	large := bytes.Repeat([]byte("# comment line\n"), 150000)
	require.NoError(t, os.WriteFile(path, large, 0600))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadWithFile_RejectsPathsOutsideAllowedDirs(t *testing.T) {
	home := setupTestHome(t)

	outside := []string{
		"/tmp/evil/config.yaml",
		"../../../../etc/passwd",
		filepath.Join(home, ".config", "specfactory-evil", "config.yaml"),
	}

	for _, path := range outside {
		_, err := LoadWithFile(path)
		require.Error(t, err, "expected %s to be rejected", path)
		assert.Contains(t, err.Error(), "must be in")
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BACKEND", "agents.backend"},
		{"MODEL_DEPLOYMENT_NAME", "agents.model_deployment_name"},
		{"MODEL_ID", "agents.model_id"},
		{"API_KEY", "agents.api_key"},
		{"ENDPOINT", "agents.endpoint"},
		{"SESSION_IDLE_TIMEOUT", "session.idle_timeout"},
		{"SERVER_HTTP_PORT", "server.http_port"},
		{"SERVER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"NATS_URL", "nats.url"},
		{"QDRANT_VECTOR_SIZE", "qdrant.vector_size"},
		{"ARCHIVE_BACKEND", "archive.backend"},
		{"EMBEDDER_BASE_URL", "embedder.base_url"},
		{"PATH", "path"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransform(tt.in), "transform of %s", tt.in)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := setupTestHome(t)

	require.NoError(t, EnsureConfigDir())

	info, err := os.Stat(filepath.Join(home, ".config", "specfactory"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	}
}
