package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/ClearXs/Violet/internal/memory"
	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/sandbox"
)

const (
	// MemoryWriteTool 由引擎直接分发给对应类型的 MemoryAgent，不经过沙箱。
	MemoryWriteTool = "memory_write"

	maxSearchResults       = 50
	conversationScanWindow = 1000
)

func variantEnum() []string {
	out := make([]string, 0, len(archivalVariants)+2)
	for _, v := range archivalVariants {
		out = append(out, string(v))
	}
	return append(out, string(VariantCore), string(VariantMeta))
}

func heartbeatParam() *schema.ParameterInfo {
	return &schema.ParameterInfo{
		Desc: "Request an immediate follow-up step after this call (default true)",
		Type: schema.Boolean,
	}
}

// memoryWriteInfo 为 memory_write 的 schema。
func memoryWriteInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: MemoryWriteTool,
		Desc: "Save information to long-term memory. Choose the memory variant that matches the kind of information.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"variant": {
				Desc:     "Which memory to write: " + strings.Join(variantEnum(), ", "),
				Type:     schema.String,
				Enum:     variantEnum(),
				Required: true,
			},
			"content": {
				Desc:     "The information to remember",
				Type:     schema.String,
				Required: true,
			},
			"label": {
				Desc: "Core memory block label (core-memory only, default human)",
				Type: schema.String,
			},
			"targets": {
				Desc:     "Memory variants to fan out to (meta-memory only)",
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
			},
			"request_heartbeat": heartbeatParam(),
		}),
	}
}

type memoryWriteArgs struct {
	Variant string   `json:"variant"`
	Content string   `json:"content"`
	Label   string   `json:"label"`
	Targets []string `json:"targets"`
}

func parseMemoryWrite(agentID, argumentsInJSON string) (Variant, AbsorbRequest, error) {
	var args memoryWriteArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", AbsorbRequest{}, fmt.Errorf("invalid arguments: %w", err)
	}
	v, err := ParseVariant(args.Variant)
	if err != nil {
		return "", AbsorbRequest{}, err
	}
	req := AbsorbRequest{AgentID: agentID, Content: args.Content, Label: args.Label}
	for _, t := range args.Targets {
		tv, err := ParseVariant(t)
		if err != nil {
			return "", AbsorbRequest{}, err
		}
		req.Targets = append(req.Targets, tv)
	}
	return v, req, nil
}

// requestHeartbeat 读取工具参数中的 request_heartbeat；未指定时返回 (false, false)。
func requestHeartbeat(argumentsInJSON string) (value bool, set bool) {
	var args struct {
		RequestHeartbeat *bool `json:"request_heartbeat"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil || args.RequestHeartbeat == nil {
		return false, false
	}
	return *args.RequestHeartbeat, true
}

// requireAgent 从 context 读取当前 Agent，工具只能在 step 内被沙箱调用。
func requireAgent(ctx context.Context) (string, error) {
	id := sandbox.AgentID(ctx)
	if id == "" {
		return "", errors.New("no agent in context")
	}
	return id, nil
}

// ArchivalSearchTool 在 archival memory 中做相似度检索
type ArchivalSearchTool struct {
	store *memory.TierStore
	topK  int
}

func (t *ArchivalSearchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "archival_memory_search",
		Desc: "Search archival memory using semantic similarity.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "String to search for",
				Type:     schema.String,
				Required: true,
			},
			"top_k": {
				Desc: "Maximum number of results",
				Type: schema.Integer,
			},
			"request_heartbeat": heartbeatParam(),
		}),
	}, nil
}

func (t *ArchivalSearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	agentID, err := requireAgent(ctx)
	if err != nil {
		return "", err
	}
	topK := args.TopK
	if topK <= 0 {
		topK = t.topK
	}
	if topK > maxSearchResults {
		topK = maxSearchResults
	}

	notes, err := t.store.SearchArchivalText(ctx, agentID, args.Query, topK)
	if err != nil {
		return "", err
	}
	type item struct {
		ID        string  `json:"id"`
		Category  string  `json:"category"`
		Content   string  `json:"content"`
		Score     float32 `json:"score"`
		Timestamp string  `json:"timestamp"`
	}
	out := make([]item, 0, len(notes))
	for _, n := range notes {
		out = append(out, item{ID: n.ID, Category: n.Category, Content: n.Content, Score: n.Similarity, Timestamp: n.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

// ConversationSearchTool 在 recall 中按关键字查找历史消息
type ConversationSearchTool struct {
	store *memory.TierStore
}

func (t *ConversationSearchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "conversation_search",
		Desc: "Search prior conversation history (recall memory) using case-insensitive string matching. Most recent matches come first.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "String to search for",
				Type:     schema.String,
				Required: true,
			},
			"limit": {
				Desc: "Maximum number of results (default 10)",
				Type: schema.Integer,
			},
			"request_heartbeat": heartbeatParam(),
		}),
	}, nil
}

func (t *ConversationSearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	agentID, err := requireAgent(ctx)
	if err != nil {
		return "", err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}
	query := strings.ToLower(strings.TrimSpace(args.Query))

	msgs, err := t.store.List(ctx, agentID, memory.RecallQuery{Limit: conversationScanWindow})
	if err != nil {
		return "", err
	}
	var lines []string
	for _, m := range msgs {
		if m.Role != message.RoleUser && m.Role != message.RoleAssistant {
			continue
		}
		text := m.Render()
		if query != "" && !strings.Contains(strings.ToLower(text), query) {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Role, text))
		if len(lines) >= limit {
			break
		}
	}
	if len(lines) == 0 {
		return "No results found.", nil
	}
	return fmt.Sprintf("Showing %d results:\n%s", len(lines), strings.Join(lines, "\n")), nil
}

// CoreMemoryAppendTool 向 core memory 块追加内容
type CoreMemoryAppendTool struct {
	store *memory.TierStore
}

func (t *CoreMemoryAppendTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "core_memory_append",
		Desc: "Append to the contents of a core memory block.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"label": {
				Desc:     "Block label, e.g. persona or human",
				Type:     schema.String,
				Required: true,
			},
			"content": {
				Desc:     "Content to append",
				Type:     schema.String,
				Required: true,
			},
			"request_heartbeat": heartbeatParam(),
		}),
	}, nil
}

func (t *CoreMemoryAppendTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Label   string `json:"label"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	agentID, err := requireAgent(ctx)
	if err != nil {
		return "", err
	}
	if err := t.store.AppendToBlock(ctx, agentID, args.Label, args.Content); err != nil {
		return "", err
	}
	return "OK", nil
}

// CoreMemoryReplaceTool 替换 core memory 块中的一段文本
type CoreMemoryReplaceTool struct {
	store *memory.TierStore
}

func (t *CoreMemoryReplaceTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "core_memory_replace",
		Desc: "Replace text in a core memory block. To delete text, use an empty string for new_content.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"label": {
				Desc:     "Block label, e.g. persona or human",
				Type:     schema.String,
				Required: true,
			},
			"old_content": {
				Desc:     "Exact text to replace",
				Type:     schema.String,
				Required: true,
			},
			"new_content": {
				Desc:     "Replacement text",
				Type:     schema.String,
				Required: true,
			},
			"request_heartbeat": heartbeatParam(),
		}),
	}, nil
}

func (t *CoreMemoryReplaceTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Label      string `json:"label"`
		OldContent string `json:"old_content"`
		NewContent string `json:"new_content"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	agentID, err := requireAgent(ctx)
	if err != nil {
		return "", err
	}
	b, err := t.store.GetBlock(ctx, agentID, args.Label)
	if err != nil {
		return "", err
	}
	if args.OldContent == "" || !strings.Contains(b.Value, args.OldContent) {
		return "", fmt.Errorf("old content %q not found in block %s", args.OldContent, args.Label)
	}
	if err := t.store.SetBlock(ctx, agentID, args.Label, strings.Replace(b.Value, args.OldContent, args.NewContent, 1)); err != nil {
		return "", err
	}
	return "OK", nil
}

// BuiltinTools 返回基于记忆层的进程内工具
func BuiltinTools(store *memory.TierStore, searchTopK int) []tool.InvokableTool {
	if searchTopK <= 0 {
		searchTopK = 5
	}
	return []tool.InvokableTool{
		&ArchivalSearchTool{store: store, topK: searchTopK},
		&ConversationSearchTool{store: store},
		&CoreMemoryAppendTool{store: store},
		&CoreMemoryReplaceTool{store: store},
	}
}
