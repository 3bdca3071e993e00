package llm

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearXs/Violet/internal/config"
)

type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedClient) Complete(context.Context, Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &Response{Message: schema.AssistantMessage("ok", nil)}, nil
}

func TestRetryingClientBacksOffExponentially(t *testing.T) {
	base := &scriptedClient{errs: []error{ErrRateLimited, ErrRateLimited, ErrRateLimited}}
	c := NewRetryingClient(base, config.RetryConfig{InitialDelay: time.Second, Multiplier: 2, MaxRetries: 5})
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	resp, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	assert.Equal(t, 4, base.calls)
}

func TestRetryingClientJitterOnlyGrowsDelays(t *testing.T) {
	base := &scriptedClient{errs: []error{ErrRateLimited, ErrRateLimited, ErrRateLimited}}
	c := NewRetryingClient(base, config.RetryConfig{InitialDelay: time.Second, Multiplier: 2, Jitter: 0.5, MaxRetries: 5})
	var total time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		total += d
		return nil
	}
	_, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 7*time.Second)
}

func TestRetryingClientExhaustion(t *testing.T) {
	base := &scriptedClient{errs: []error{ErrRateLimited, ErrRateLimited, ErrRateLimited}}
	c := NewRetryingClient(base, config.RetryConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxRetries: 2})

	start := time.Now()
	_, err := c.Complete(context.Background(), Request{})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, base.calls)
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

func TestRetryingClientDoesNotRetryOtherErrors(t *testing.T) {
	perr := &ProviderError{Provider: "test", StatusCode: 500, Message: "boom"}
	base := &scriptedClient{errs: []error{perr}}
	c := NewRetryingClient(base, config.RetryConfig{MaxRetries: 5})

	_, err := c.Complete(context.Background(), Request{})
	var got *ProviderError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 500, got.StatusCode)
	assert.Equal(t, 1, base.calls)
}

func TestRetryingClientStopsOnCancel(t *testing.T) {
	base := &scriptedClient{errs: []error{ErrRateLimited}}
	c := NewRetryingClient(base, config.RetryConfig{InitialDelay: time.Hour, MaxRetries: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify("ark", 0, errors.New("status code: 429, Too Many Requests")), ErrRateLimited)
	assert.ErrorIs(t, classify("openai", 429, errors.New("slow down")), ErrRateLimited)
	assert.ErrorIs(t, classify("ark", 0, errors.New("This model's maximum context length is 8192 tokens")), ErrContextTooLarge)

	var perr *ProviderError
	require.ErrorAs(t, classify("ark", 401, errors.New("unauthorized")), &perr)
	assert.Equal(t, 401, perr.StatusCode)
}

func TestSanitizeToolCalls(t *testing.T) {
	orig := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "1", Function: schema.FunctionCall{Name: "a", Arguments: "{bad"}},
			{ID: "2", Function: schema.FunctionCall{Name: "b", Arguments: `{"x":1}`}},
		},
	}
	in := []*schema.Message{schema.UserMessage("hi"), orig}
	out := SanitizeToolCalls(in)

	assert.Equal(t, "{}", out[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, `{"x":1}`, out[1].ToolCalls[1].Function.Arguments)
	assert.Equal(t, "{bad", orig.ToolCalls[0].Function.Arguments, "input must not be mutated")
	assert.Same(t, in[0], out[0])
}

type fakeCompleter struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAIClientConvertsToolsAndCalls(t *testing.T) {
	fc := &fakeCompleter{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID: "call-1", Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "memory_write", Arguments: `{"variant":"episodic-memory"}`},
			}},
		}}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	c := NewOpenAIClientWith(fc, "gpt-4o-mini")

	tools := []*schema.ToolInfo{{
		Name: "memory_write",
		Desc: "write memory",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"variant": {Type: schema.String, Required: true},
		}),
	}}
	resp, err := c.Complete(context.Background(), Request{
		Messages:   []*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("remember this")},
		Tools:      tools,
		ToolChoice: ToolChoiceAuto,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", fc.req.Model)
	require.Len(t, fc.req.Tools, 1)
	assert.Equal(t, "memory_write", fc.req.Tools[0].Function.Name)
	assert.Equal(t, "auto", fc.req.ToolChoice)
	assert.Equal(t, "remember this", fc.req.Messages[1].Content)

	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call-1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAIClientClassifiesAPIErrors(t *testing.T) {
	c := NewOpenAIClientWith(&fakeCompleter{err: &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}}, "m")
	_, err := c.Complete(context.Background(), Request{Messages: []*schema.Message{schema.UserMessage("x")}})
	assert.ErrorIs(t, err, ErrRateLimited)

	c = NewOpenAIClientWith(&fakeCompleter{err: &openai.APIError{HTTPStatusCode: 400, Message: "context_length_exceeded"}}, "m")
	_, err = c.Complete(context.Background(), Request{Messages: []*schema.Message{schema.UserMessage("x")}})
	assert.ErrorIs(t, err, ErrContextTooLarge)
}

type fakeChatModel struct {
	bound []*schema.ToolInfo
	input []*schema.Message
	reply *schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return f.reply, nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &boundModel{parent: f, tools: tools}, nil
}

type boundModel struct {
	parent *fakeChatModel
	tools  []*schema.ToolInfo
}

func (b *boundModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	b.parent.bound = b.tools
	return b.parent.Generate(ctx, input, opts...)
}

func (b *boundModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return b.parent.Stream(ctx, input, opts...)
}

func (b *boundModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return b.parent.WithTools(tools)
}

func TestEinoClientToolChoice(t *testing.T) {
	fm := &fakeChatModel{reply: &schema.Message{
		Role:         schema.Assistant,
		Content:      "hello",
		ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
	}}
	c, err := NewEinoClient("fake", fm)
	require.NoError(t, err)
	tools := []*schema.ToolInfo{{Name: "echo", Desc: "echo"}}

	resp, err := c.Complete(context.Background(), Request{Messages: []*schema.Message{schema.UserMessage("hi")}, Tools: tools})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Len(t, fm.bound, 1)

	fm.bound = nil
	_, err = c.Complete(context.Background(), Request{Messages: []*schema.Message{schema.UserMessage("hi")}, Tools: tools, ToolChoice: ToolChoiceNone})
	require.NoError(t, err)
	assert.Nil(t, fm.bound, "tools must not be bound when tool choice is none")
}

func TestSummaryModelSendsAckSequence(t *testing.T) {
	fm := &fakeChatModel{reply: schema.AssistantMessage("  short summary ", nil)}
	c, err := NewEinoClient("fake", fm)
	require.NoError(t, err)

	out, err := NewSummaryModel(c, ModelConfig{}).Summarize(context.Background(), "user: hi")
	require.NoError(t, err)
	assert.Equal(t, "short summary", out)
	require.Len(t, fm.input, 3)
	assert.Equal(t, schema.System, fm.input[0].Role)
	assert.Equal(t, schema.Assistant, fm.input[1].Role)
	assert.Equal(t, "user: hi", fm.input[2].Content)
}

func TestArkClientRealCall(t *testing.T) {
	apiKey := os.Getenv("ARK_API_KEY")
	modelID := os.Getenv("ARK_MODEL_ID")
	if apiKey == "" || modelID == "" {
		t.Skip("ARK_API_KEY or ARK_MODEL_ID not set, skipping real model test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c, err := NewArkClient(ctx, config.ArkConfig{APIKey: apiKey, ModelID: modelID, BaseURL: os.Getenv("ARK_BASE_URL")})
	require.NoError(t, err)
	resp, err := c.Complete(ctx, Request{Messages: []*schema.Message{schema.UserMessage("Reply with the single word: pong")}})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Message.Content)
}
