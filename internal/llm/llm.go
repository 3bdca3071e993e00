package llm

import (
	"context"
	"fmt"

	"github.com/ClearXs/Violet/internal/config"
)

// New 按配置创建模型客户端，并包上限流重试。
func New(ctx context.Context, cfg config.LLMConfig) (Client, ModelConfig, error) {
	var (
		base  Client
		model ModelConfig
		err   error
	)
	switch cfg.Provider {
	case "ark":
		base, err = NewArkClient(ctx, cfg.Ark)
		model = ModelConfig{Provider: "ark", Name: cfg.Ark.ModelID, Endpoint: cfg.Ark.BaseURL, ContextWindow: cfg.ContextWindow}
	case "openai":
		base, err = NewOpenAIClient(cfg.OpenAI)
		model = ModelConfig{Provider: "openai", Name: cfg.OpenAI.Model, Endpoint: cfg.OpenAI.BaseURL, ContextWindow: cfg.ContextWindow}
	default:
		return nil, ModelConfig{}, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, ModelConfig{}, err
	}
	return NewRetryingClient(base, cfg.Retry), model, nil
}
