package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ClearXs/Violet/internal/config"
)

// EinoClient 通过 eino 的 ToolCallingChatModel 调用模型。
type EinoClient struct {
	provider string
	model    model.ToolCallingChatModel
}

func NewEinoClient(provider string, m model.ToolCallingChatModel) (*EinoClient, error) {
	if m == nil {
		return nil, errors.New("chat model is nil")
	}
	return &EinoClient{provider: provider, model: m}, nil
}

// NewArkClient 初始化 Ark ChatModel
func NewArkClient(ctx context.Context, arkConfig config.ArkConfig) (*EinoClient, error) {
	if arkConfig.APIKey == "" || arkConfig.ModelID == "" {
		return nil, fmt.Errorf("ARK_API_KEY, ARK_MODEL_ID must be set")
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  arkConfig.APIKey,
		Model:   arkConfig.ModelID,
		BaseURL: arkConfig.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return NewEinoClient("ark", chatModel)
}

func (c *EinoClient) Complete(ctx context.Context, req Request) (*Response, error) {
	m := c.model
	// ToolChoiceNone 时不绑定工具，模型只能直接回复
	if len(req.Tools) > 0 && req.ToolChoice != ToolChoiceNone {
		bound, err := c.model.WithTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		m = bound
	}

	out, err := m.Generate(ctx, SanitizeToolCalls(req.Messages))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(c.provider, 0, err)
	}
	if out == nil {
		return nil, &ProviderError{Provider: c.provider, Message: "empty response"}
	}

	resp := &Response{Message: out}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		u := out.ResponseMeta.Usage
		resp.Usage = Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	if out.Role == "" {
		out.Role = schema.Assistant
	}
	return resp, nil
}
