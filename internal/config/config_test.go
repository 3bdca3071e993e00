package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	// 设置必填环境变量，绕过 Validate 检查
	t.Setenv("ARK_API_KEY", "dummy-key")
	t.Setenv("ARK_MODEL_ID", "dummy-model")

	cfg, err := Load("")
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "violet.db", cfg.Storage.Path)
	assert.Equal(t, "ark", cfg.LLM.Provider)
	assert.Equal(t, "dummy-key", cfg.LLM.Ark.APIKey)
	assert.Equal(t, time.Second, cfg.LLM.Retry.InitialDelay)
	assert.Equal(t, 3, cfg.Summarizer.MaxRetries)
	assert.Equal(t, 0.75, cfg.Summarizer.MemoryWarningThreshold)
	assert.Equal(t, 5, cfg.Summarizer.KeepLastN)
	assert.Equal(t, 180*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Maintenance.Retention.ToolExecutions.KeepAll)
	assert.True(t, cfg.Agent.Chaining)
}

func TestLoad_ConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	content := []byte(`
log_level: "debug"
llm:
  provider: openai
  context_window: 8192
  openai:
    model: "gpt-4o-mini"
  retry:
    initial_delay: "500ms"
storage:
  path: "test.db"
  busy_timeout: "10s"
summarizer:
  keep_last_n: 2
  evict_all: true
maintenance:
  retention:
    enabled: false
    tool_executions:
      keep_latest: 50
`)
	err := os.WriteFile(configFile, content, 0644)
	assert.NoError(t, err)

	cfg, err := Load(configFile)
	assert.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "test.db", cfg.Storage.Path)
	assert.Equal(t, 10*time.Second, cfg.Storage.BusyTimeout)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.OpenAI.Model)
	assert.Equal(t, 8192, cfg.LLM.ContextWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.LLM.Retry.InitialDelay)
	assert.Equal(t, 2, cfg.Summarizer.KeepLastN)
	assert.True(t, cfg.Summarizer.EvictAll)
	assert.False(t, cfg.Maintenance.Retention.Enabled)
	assert.Equal(t, 50, cfg.Maintenance.Retention.ToolExecutions.KeepLatest)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ARK_API_KEY", "dummy-key")
	t.Setenv("ARK_MODEL_ID", "dummy-model")
	t.Setenv("VIOLET_LOG_LEVEL", "warn")
	t.Setenv("VIOLET_AGENT_MAX_CHAINING_STEPS", "3")

	cfg, err := Load("")
	assert.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Agent.MaxChainingSteps)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "ark provider without key")

	cfg.LLM.Ark.APIKey = "k"
	cfg.LLM.Ark.ModelID = "m"
	assert.NoError(t, cfg.Validate())

	cfg.Summarizer.DesiredMemoryTokenPressure = 0.9
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.LLM.Provider = "local"
	assert.Error(t, cfg.Validate())
}
