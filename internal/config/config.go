package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ClearXs/Violet/internal/maintenance"
	"github.com/ClearXs/Violet/internal/storage"
)

type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetryConfig 控制限流（429）时的指数退避。
type RetryConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	// Jitter 为每次放大延迟时叠加的随机比例（0 表示不抖动）。
	Jitter     float64 `mapstructure:"jitter"`
	MaxRetries int     `mapstructure:"max_retries"`
}

type LLMConfig struct {
	// Provider 为 ark 或 openai。
	Provider string `mapstructure:"provider"`
	// ContextWindow 为新建 Agent 的默认上下文窗口。
	ContextWindow int          `mapstructure:"context_window"`
	Ark           ArkConfig    `mapstructure:"ark"`
	OpenAI        OpenAIConfig `mapstructure:"openai"`
	Retry         RetryConfig  `mapstructure:"retry"`
}

type AgentConfig struct {
	Chaining         bool `mapstructure:"chaining"`
	MaxChainingSteps int  `mapstructure:"max_chaining_steps"`
	// SendMemoryWarning 为 true 时，首次越过告警阈值只追加一条提醒而不立即压缩。
	SendMemoryWarning bool `mapstructure:"send_memory_warning"`
}

type SummarizerConfig struct {
	MaxRetries                 int     `mapstructure:"max_retries"`
	MemoryWarningThreshold     float64 `mapstructure:"memory_warning_threshold"`
	DesiredMemoryTokenPressure float64 `mapstructure:"desired_memory_token_pressure"`
	KeepLastN                  int     `mapstructure:"keep_last_n"`
	EvictAll                   bool    `mapstructure:"evict_all"`
	ShrinkFactor               float64 `mapstructure:"shrink_factor"`
}

type SandboxConfig struct {
	Timeout time.Duration       `mapstructure:"timeout"`
	Docker  DockerSandboxConfig `mapstructure:"docker"`
}

type DockerSandboxConfig struct {
	Image string `mapstructure:"image"`
	// MemoryBytes 为容器内存上限。
	MemoryBytes int64   `mapstructure:"memory_bytes"`
	CPUs        float64 `mapstructure:"cpus"`
	PidsLimit   int64   `mapstructure:"pids_limit"`
}

type ArchivalConfig struct {
	EmbeddingDimensions int `mapstructure:"embedding_dimensions"`
	SearchTopK          int `mapstructure:"search_top_k"`
}

type Config struct {
	Storage     storage.Config     `mapstructure:"storage"`
	LLM         LLMConfig          `mapstructure:"llm"`
	Agent       AgentConfig        `mapstructure:"agent"`
	Summarizer  SummarizerConfig   `mapstructure:"summarizer"`
	Sandbox     SandboxConfig      `mapstructure:"sandbox"`
	Archival    ArchivalConfig     `mapstructure:"archival"`
	Maintenance maintenance.Config `mapstructure:"maintenance"`
	LogLevel    string             `mapstructure:"log_level"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.violet")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("VIOLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只认识来自文件、默认值或显式绑定的 key，所以每个 key 都需要默认值
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "ark":
		if c.LLM.Ark.APIKey == "" {
			return fmt.Errorf("llm.ark.api_key is required (or set ARK_API_KEY env var)")
		}
		if c.LLM.Ark.ModelID == "" {
			return fmt.Errorf("llm.ark.model_id is required (or set ARK_MODEL_ID env var)")
		}
	case "openai":
		if c.LLM.OpenAI.Model == "" {
			return fmt.Errorf("llm.openai.model is required (or set OPENAI_MODEL env var)")
		}
	default:
		return fmt.Errorf("unsupported llm.provider %q (ark or openai)", c.LLM.Provider)
	}
	if c.LLM.ContextWindow <= 0 {
		return fmt.Errorf("llm.context_window must be positive")
	}
	s := c.Summarizer
	if s.MemoryWarningThreshold <= 0 || s.MemoryWarningThreshold > 1 {
		return fmt.Errorf("summarizer.memory_warning_threshold must be in (0, 1]")
	}
	if s.DesiredMemoryTokenPressure <= 0 || s.DesiredMemoryTokenPressure >= s.MemoryWarningThreshold {
		return fmt.Errorf("summarizer.desired_memory_token_pressure must be in (0, memory_warning_threshold)")
	}
	if s.ShrinkFactor <= 0 || s.ShrinkFactor >= 1 {
		return fmt.Errorf("summarizer.shrink_factor must be in (0, 1)")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// -------------------------------------------------------------------------
	// Global / Storage
	// -------------------------------------------------------------------------
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)

	// -------------------------------------------------------------------------
	// LLM
	// -------------------------------------------------------------------------
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.context_window", d.LLM.ContextWindow)
	v.SetDefault("llm.ark.api_key", "")
	v.SetDefault("llm.ark.model_id", "")
	v.SetDefault("llm.ark.base_url", d.LLM.Ark.BaseURL)
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.base_url", d.LLM.OpenAI.BaseURL)
	v.SetDefault("llm.openai.model", "")
	v.SetDefault("llm.openai.timeout", d.LLM.OpenAI.Timeout)
	v.SetDefault("llm.retry.initial_delay", d.LLM.Retry.InitialDelay)
	v.SetDefault("llm.retry.multiplier", d.LLM.Retry.Multiplier)
	v.SetDefault("llm.retry.jitter", d.LLM.Retry.Jitter)
	v.SetDefault("llm.retry.max_retries", d.LLM.Retry.MaxRetries)

	_ = v.BindEnv("llm.ark.api_key", "ARK_API_KEY")
	_ = v.BindEnv("llm.ark.model_id", "ARK_MODEL_ID")
	_ = v.BindEnv("llm.ark.base_url", "ARK_BASE_URL")
	_ = v.BindEnv("llm.openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("llm.openai.model", "OPENAI_MODEL")

	// -------------------------------------------------------------------------
	// Agent / Summarizer
	// -------------------------------------------------------------------------
	v.SetDefault("agent.chaining", d.Agent.Chaining)
	v.SetDefault("agent.max_chaining_steps", d.Agent.MaxChainingSteps)
	v.SetDefault("agent.send_memory_warning", d.Agent.SendMemoryWarning)
	v.SetDefault("summarizer.max_retries", d.Summarizer.MaxRetries)
	v.SetDefault("summarizer.memory_warning_threshold", d.Summarizer.MemoryWarningThreshold)
	v.SetDefault("summarizer.desired_memory_token_pressure", d.Summarizer.DesiredMemoryTokenPressure)
	v.SetDefault("summarizer.keep_last_n", d.Summarizer.KeepLastN)
	v.SetDefault("summarizer.evict_all", d.Summarizer.EvictAll)
	v.SetDefault("summarizer.shrink_factor", d.Summarizer.ShrinkFactor)

	// -------------------------------------------------------------------------
	// Sandbox / Archival
	// -------------------------------------------------------------------------
	v.SetDefault("sandbox.timeout", d.Sandbox.Timeout)
	v.SetDefault("sandbox.docker.image", d.Sandbox.Docker.Image)
	v.SetDefault("sandbox.docker.memory_bytes", d.Sandbox.Docker.MemoryBytes)
	v.SetDefault("sandbox.docker.cpus", d.Sandbox.Docker.CPUs)
	v.SetDefault("sandbox.docker.pids_limit", d.Sandbox.Docker.PidsLimit)
	v.SetDefault("archival.embedding_dimensions", d.Archival.EmbeddingDimensions)
	v.SetDefault("archival.search_top_k", d.Archival.SearchTopK)

	// -------------------------------------------------------------------------
	// Maintenance
	// -------------------------------------------------------------------------
	m := d.Maintenance
	v.SetDefault("maintenance.retention.enabled", m.Retention.Enabled)
	v.SetDefault("maintenance.retention.interval", m.Retention.Interval)
	v.SetDefault("maintenance.retention.workers", m.Retention.Workers)
	v.SetDefault("maintenance.retention.batch_rows", m.Retention.BatchRows)
	v.SetDefault("maintenance.retention.idle_sleep", m.Retention.IdleSleep)
	v.SetDefault("maintenance.retention.tool_executions.keep_all", m.Retention.ToolExecutions.KeepAll)
	v.SetDefault("maintenance.retention.tool_executions.keep_latest", m.Retention.ToolExecutions.KeepLatest)
	v.SetDefault("maintenance.scheduler.enabled", m.Scheduler.Enabled)
	v.SetDefault("maintenance.scheduler.trigger_message", m.Scheduler.TriggerMessage)
	v.SetDefault("maintenance.scheduler.timeout", m.Scheduler.Timeout)
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Storage: storage.Config{
			Path:        "violet.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
		},
		LLM: LLMConfig{
			Provider:      "ark",
			ContextWindow: 32768,
			Ark: ArkConfig{
				BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
			},
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Timeout: 150 * time.Second,
			},
			Retry: RetryConfig{
				InitialDelay: time.Second,
				Multiplier:   2,
				Jitter:       0.1,
				MaxRetries:   20,
			},
		},
		Agent: AgentConfig{
			Chaining:         true,
			MaxChainingSteps: 10,
		},
		Summarizer: SummarizerConfig{
			MaxRetries:                 3,
			MemoryWarningThreshold:     0.75,
			DesiredMemoryTokenPressure: 0.1,
			KeepLastN:                  5,
			EvictAll:                   false,
			ShrinkFactor:               0.8,
		},
		Sandbox: SandboxConfig{
			Timeout: 180 * time.Second,
			Docker: DockerSandboxConfig{
				Image:       "python:3.12-alpine",
				MemoryBytes: 256 * 1024 * 1024,
				CPUs:        1,
				PidsLimit:   128,
			},
		},
		Archival: ArchivalConfig{
			EmbeddingDimensions: 384,
			SearchTopK:          5,
		},
		Maintenance: maintenance.DefaultConfig(),
	}
}
