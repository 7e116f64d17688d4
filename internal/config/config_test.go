package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultUpstreamURL, cfg.UpstreamURL)
	assert.Equal(t, DefaultModel, cfg.DefaultModel)
	assert.Empty(t, cfg.UpstreamKeys)
	assert.NotNil(t, cfg.ModelMapping)
	assert.Equal(t, 4096, cfg.Translation.MaxTokens)
	assert.Equal(t, 3, cfg.Upstream.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Upstream.Cooldown)
	assert.Equal(t, "./data/nova.db", cfg.Database.Path)
}

// 旧版 config.json 可以直接加载
func TestLoadConfig_LegacyJSON(t *testing.T) {
	path := writeConfigFile(t, `{
  "nvidia_url": "https://example.com/v1/chat/completions",
  "nvidia_keys": [" nvapi-1 ", "", "nvapi-2", "nvapi-1"],
  "model_mapping": {"claude-3-5-sonnet": "meta/llama-3.1-70b-instruct"},
  "default_model": "qwen/qwen2.5-coder",
  "server_api_key": "ignored"
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/v1/chat/completions", cfg.UpstreamURL)
	assert.Equal(t, []string{"nvapi-1", "nvapi-2"}, cfg.UpstreamKeys)
	assert.Equal(t, "meta/llama-3.1-70b-instruct", cfg.ModelMapping["claude-3-5-sonnet"])
	assert.Equal(t, "qwen/qwen2.5-coder", cfg.DefaultModel)
	// 没有出现的段保留默认值
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfigFile(t, `
nvidia_keys:
  - key-a
server:
  port: 9000
  log_level: debug
upstream:
  timeout: 30s
  max_retries: 4
  cooldown: 2m
translation:
  max_tokens: 1024
events:
  retention_days: 3
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 4, cfg.Upstream.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Upstream.Cooldown)
	assert.Equal(t, 1024, cfg.Translation.MaxTokens)
	assert.Equal(t, 3, cfg.Events.RetentionDays)
	assert.Equal(t, DefaultUpstreamURL, cfg.UpstreamURL)
}

func TestLoadConfig_CorruptFileUsesDefaults(t *testing.T) {
	path := writeConfigFile(t, "{not: [valid")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, path, cfg.Path())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("NOVA_PORT", "4000")
	t.Setenv("NOVA_UPSTREAM_URL", "http://localhost:8000/v1/chat/completions")
	t.Setenv("NOVA_UPSTREAM_KEYS", "k1, k2,,k3")
	t.Setenv("NOVA_DEFAULT_MODEL", "env-model")
	t.Setenv("NOVA_LOG_LEVEL", "warn")
	t.Setenv("DATABASE_PATH", "/tmp/env.db")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8000/v1/chat/completions", cfg.UpstreamURL)
	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.UpstreamKeys)
	assert.Equal(t, "env-model", cfg.DefaultModel)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"端口越界", "server:\n  port: 70000\n"},
		{"URL 不是 http", "nvidia_url: ftp://example.com\n"},
		{"日志级别错误", "server:\n  log_level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfigFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestConfig_UpdateKeysPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg.ModelMapping["claude-3-haiku"] = "small-model"

	require.NoError(t, cfg.UpdateKeys([]string{"new-1", " new-2 ", "new-1"}))
	assert.Equal(t, []string{"new-1", "new-2"}, cfg.Keys())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-1", "new-2"}, reloaded.UpstreamKeys)
	assert.Equal(t, "small-model", reloaded.ModelMapping["claude-3-haiku"])
	assert.Equal(t, cfg.Upstream.Timeout, reloaded.Upstream.Timeout)
}

func TestConfig_SaveWithoutPath(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Save())
}

func TestServerConfig_Addr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:3001", ServerConfig{Host: "127.0.0.1", Port: 3001}.Addr())
}
