// Package llm 定义模型调用接口，并提供 eino（Ark）与 OpenAI 兼容两种实现以及限流重试。
package llm

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type ToolChoice string

const (
	// ToolChoiceAuto 由模型决定是否调用工具。
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone 禁止调用工具，模型必须直接回复。
	ToolChoiceNone ToolChoice = "none"
)

// ModelConfig 描述一次调用使用的模型。
type ModelConfig struct {
	Provider      string
	Name          string
	Endpoint      string
	ContextWindow int
}

type Request struct {
	Messages   []*schema.Message
	Tools      []*schema.ToolInfo
	ToolChoice ToolChoice
	Model      ModelConfig
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Message *schema.Message
	Usage   Usage
}

// Client 执行一次非流式的模型调用。
// 失败时返回 ErrRateLimited、ErrContextTooLarge 或 *ProviderError。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
