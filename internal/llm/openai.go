package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"

	"github.com/ClearXs/Violet/internal/config"
)

// ChatCompleter 为 go-openai 客户端中本包用到的部分，便于测试替换。
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient 调用 OpenAI 兼容的 Chat Completions 接口。
type OpenAIClient struct {
	client ChatCompleter
	model  string
}

func NewOpenAIClient(cfg config.OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai model must be set")
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// 本地兼容服务通常不校验 key
		apiKey = "sk-xxx"
	}
	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(oc), model: cfg.Model}, nil
}

// NewOpenAIClientWith 使用自定义的 ChatCompleter。
func NewOpenAIClientWith(c ChatCompleter, model string) *OpenAIClient {
	return &OpenAIClient{client: c, model: model}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	modelName := c.model
	if req.Model.Name != "" {
		modelName = req.Model.Name
	}
	creq := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: toOpenAIMessages(SanitizeToolCalls(req.Messages)),
	}
	if len(req.Tools) > 0 {
		tools, err := toOpenAITools(req.Tools)
		if err != nil {
			return nil, err
		}
		creq.Tools = tools
		if req.ToolChoice != "" {
			creq.ToolChoice = string(req.ToolChoice)
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify("openai", statusOf(err), err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Message: "no completion choices"}
	}

	msg := resp.Choices[0].Message
	out := &schema.Message{
		Role:    schema.Assistant,
		Content: strings.TrimSpace(msg.Content),
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			Index: tc.Index,
			ID:    tc.ID,
			Type:  string(tc.Type),
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return &Response{
		Message: out,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func toOpenAIMessages(in []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		if m == nil {
			continue
		}
		om := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			ToolCallID: m.ToolCallID,
		}
		if m.Role == schema.Tool {
			om.Name = m.ToolName
		}
		if len(m.MultiContent) > 0 {
			for _, p := range m.MultiContent {
				switch p.Type {
				case schema.ChatMessagePartTypeImageURL:
					if p.ImageURL != nil {
						om.MultiContent = append(om.MultiContent, openai.ChatMessagePart{
							Type:     openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL.URL},
						})
					}
				default:
					om.MultiContent = append(om.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: p.Text,
					})
				}
			}
		} else {
			om.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(in []*schema.ToolInfo) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(in))
	for _, t := range in {
		if t == nil {
			continue
		}
		def := &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Desc,
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}
		if t.ParamsOneOf != nil {
			js, err := t.ParamsOneOf.ToJSONSchema()
			if err != nil {
				return nil, fmt.Errorf("convert tool %s schema: %w", t.Name, err)
			}
			if js != nil {
				def.Parameters = js
			}
		}
		tools = append(tools, openai.Tool{Type: openai.ToolTypeFunction, Function: def})
	}
	return tools, nil
}
