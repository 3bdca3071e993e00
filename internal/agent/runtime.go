package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/mudler/xlog"

	"github.com/ClearXs/Violet/internal/config"
	"github.com/ClearXs/Violet/internal/contextwindow"
	"github.com/ClearXs/Violet/internal/docker"
	"github.com/ClearXs/Violet/internal/llm"
	"github.com/ClearXs/Violet/internal/locks"
	"github.com/ClearXs/Violet/internal/memory"
	"github.com/ClearXs/Violet/internal/sandbox"
	"github.com/ClearXs/Violet/internal/storage"
)

// Settings 为 step 的默认行为。
type Settings struct {
	Chaining         bool
	MaxChainingSteps int
	// SendMemoryWarning 为 true 时越过 WarningThreshold 先追加一条提醒，超出窗口才压缩。
	SendMemoryWarning bool
	WarningThreshold  float64
	// TargetPressure 为压缩后上下文占窗口的目标比例。
	TargetPressure float64
	ArchivalTopK   int
}

func (s Settings) withDefaults() Settings {
	if s.WarningThreshold <= 0 || s.WarningThreshold > 1 {
		s.WarningThreshold = 0.75
	}
	if s.TargetPressure <= 0 || s.TargetPressure >= s.WarningThreshold {
		s.TargetPressure = 0.1
	}
	if s.ArchivalTopK <= 0 {
		s.ArchivalTopK = 5
	}
	return s
}

// Runtime 持有 step 所需的全部协作者。锁注册表只存在于这里。
type Runtime struct {
	Store      *storage.Storage
	Memory     *memory.TierStore
	Locks      *locks.Registry
	Monitor    *contextwindow.Monitor
	Summarizer *contextwindow.Summarizer
	Sandbox    *sandbox.Sandbox
	LLM        llm.Client
	Model      llm.ModelConfig
	Agents     map[Variant]MemoryAgent
	Settings   Settings

	closers []func() error
}

// NewRuntime 校验依赖并补齐可缺省的部分（锁注册表、Monitor、MemoryAgent）。
func NewRuntime(rt *Runtime) (*Runtime, error) {
	if rt == nil {
		return nil, errors.New("runtime is nil")
	}
	if rt.Store == nil || rt.Memory == nil || rt.LLM == nil || rt.Summarizer == nil || rt.Sandbox == nil {
		return nil, errors.New("runtime requires store, memory, llm client, summarizer and sandbox")
	}
	if rt.Monitor == nil {
		return nil, errors.New("runtime requires a context window monitor")
	}
	if rt.Locks == nil {
		rt.Locks = locks.NewRegistry()
	}
	if rt.Agents == nil {
		rt.Agents = DefaultMemoryAgents(rt.Memory)
	}
	if rt.Model.ContextWindow <= 0 {
		return nil, errors.New("runtime requires a positive context window")
	}
	rt.Settings = rt.Settings.withDefaults()
	return rt, nil
}

// Build 按配置组装完整 Runtime：存储、记忆、模型、摘要器与沙箱。
// Docker 不可用时 docker 工具会返回错误结果，其余功能不受影响。
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	storeCfg := cfg.Storage
	storeCfg.Logger = storage.GormLogger(cfg.LogLevel)
	store, err := storage.Open(ctx, storeCfg)
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	rt.Store = store
	rt.closers = append(rt.closers, store.Close)

	tiers, err := memory.NewTierStore(store, memory.NewHashEmbedder(cfg.Archival.EmbeddingDimensions))
	if err != nil {
		return fail(err)
	}
	rt.Memory = tiers

	est, err := contextwindow.NewEstimator()
	if err != nil {
		return fail(fmt.Errorf("create token estimator: %w", err))
	}
	rt.closers = append(rt.closers, func() error { est.Close(); return nil })
	rt.Monitor = contextwindow.NewMonitor(est)

	client, model, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fail(err)
	}
	rt.LLM, rt.Model = client, model

	rt.Summarizer, err = contextwindow.NewSummarizer(contextwindow.SummarizerConfig{
		MaxRetries:   cfg.Summarizer.MaxRetries,
		KeepLastN:    cfg.Summarizer.KeepLastN,
		EvictAll:     cfg.Summarizer.EvictAll,
		ShrinkFactor: cfg.Summarizer.ShrinkFactor,
	}, est, llm.NewSummaryModel(client, model), tiers)
	if err != nil {
		return fail(err)
	}

	dockerClient := connectDocker(ctx)
	if dockerClient != nil {
		rt.closers = append(rt.closers, dockerClient.Close)
	}
	registry := sandbox.NewRegistry()
	for _, t := range BuiltinTools(tiers, cfg.Archival.SearchTopK) {
		if err := registry.Register(ctx, sandbox.Definition{Tool: t}); err != nil {
			return fail(err)
		}
	}
	rt.Sandbox = sandbox.New(sandbox.Config{
		Timeout: cfg.Sandbox.Timeout,
		Docker: sandbox.DockerLimits{
			Image:       cfg.Sandbox.Docker.Image,
			MemoryBytes: cfg.Sandbox.Docker.MemoryBytes,
			NanoCPUs:    int64(cfg.Sandbox.Docker.CPUs * 1e9),
			PidsLimit:   cfg.Sandbox.Docker.PidsLimit,
		},
	}, registry, store, dockerClient)

	rt.Settings = Settings{
		Chaining:          cfg.Agent.Chaining,
		MaxChainingSteps:  cfg.Agent.MaxChainingSteps,
		SendMemoryWarning: cfg.Agent.SendMemoryWarning,
		WarningThreshold:  cfg.Summarizer.MemoryWarningThreshold,
		TargetPressure:    cfg.Summarizer.DesiredMemoryTokenPressure,
		ArchivalTopK:      cfg.Archival.SearchTopK,
	}
	if _, err := NewRuntime(rt); err != nil {
		return fail(err)
	}
	return rt, nil
}

func connectDocker(ctx context.Context) *docker.Client {
	c, err := docker.NewClient()
	if err != nil {
		xlog.Warn("docker sandbox disabled", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		xlog.Warn("docker sandbox disabled", "error", err)
		_ = c.Close()
		return nil
	}
	return c
}

// Close 按创建的逆序释放资源。
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// tools 返回发送给模型的全部工具：沙箱注册的工具加 memory_write。
func (rt *Runtime) tools() []*schema.ToolInfo {
	return append(rt.Sandbox.Registry().Infos(), memoryWriteInfo())
}

// modelFor 以 Agent 自身的模型配置覆盖默认值。
func (rt *Runtime) modelFor(a *storage.Agent) llm.ModelConfig {
	m := rt.Model
	if a.ModelProvider != "" {
		m.Provider = a.ModelProvider
	}
	if a.ModelName != "" {
		m.Name = a.ModelName
	}
	if a.ModelEndpoint != "" {
		m.Endpoint = a.ModelEndpoint
	}
	if a.ContextWindow > 0 {
		m.ContextWindow = a.ContextWindow
	}
	return m
}
