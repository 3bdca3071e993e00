package maintenance

import (
	"runtime"
	"time"
)

type ErrorHandler func(err error)

// ToolExecutionPolicy 为工具执行审计记录的保留策略。
type ToolExecutionPolicy struct {
	// KeepAll 为全部保留的时间窗口，早于 now-KeepAll 的记录会被删除。
	KeepAll time.Duration `mapstructure:"keep_all"`
	// KeepLatest >0 时，无论时间只保留最新的 N 条。
	KeepLatest int `mapstructure:"keep_latest"`
}

type RetentionConfig struct {
	// Enabled 控制清理任务是否启用。
	Enabled bool `mapstructure:"enabled"`
	// Interval 为两次清理之间的间隔。
	Interval time.Duration `mapstructure:"interval"`
	// Workers 为并发执行清理任务的 worker 数量。
	Workers int `mapstructure:"workers"`
	// BatchRows 为单条 DELETE 语句删除的最大行数。
	BatchRows int `mapstructure:"batch_rows"`
	// IdleSleep 为两批删除之间的休眠，降低对写入的影响。
	IdleSleep time.Duration `mapstructure:"idle_sleep"`

	ToolExecutions ToolExecutionPolicy `mapstructure:"tool_executions"`

	// OnError 为异步错误回调；默认丢弃。
	OnError ErrorHandler `mapstructure:"-"`
}

type SchedulerConfig struct {
	// Enabled 控制是否按 cron 触发 background Agent。
	Enabled bool `mapstructure:"enabled"`
	// TriggerMessage 为定时触发时注入的 system 消息内容。
	TriggerMessage string `mapstructure:"trigger_message"`
	// Timeout 限制单次触发的最长执行时间。
	Timeout time.Duration `mapstructure:"timeout"`

	OnError ErrorHandler `mapstructure:"-"`
}

type Config struct {
	Retention RetentionConfig `mapstructure:"retention"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

func DefaultConfig() Config {
	return Config{
		Retention: RetentionConfig{
			Enabled:   true,
			Interval:  time.Hour,
			Workers:   2,
			BatchRows: 500,
			IdleSleep: 50 * time.Millisecond,
			ToolExecutions: ToolExecutionPolicy{
				KeepAll:    7 * 24 * time.Hour,
				KeepLatest: 0,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			TriggerMessage: "[scheduled wake-up] Review recent memory and act if needed.",
			Timeout:        5 * time.Minute,
		},
	}
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = max(2, runtime.NumCPU()/2)
	}
	if c.BatchRows <= 0 {
		c.BatchRows = 500
	}
	if c.ToolExecutions.KeepAll <= 0 {
		c.ToolExecutions.KeepAll = 7 * 24 * time.Hour
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.TriggerMessage == "" {
		c.TriggerMessage = DefaultConfig().Scheduler.TriggerMessage
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}
