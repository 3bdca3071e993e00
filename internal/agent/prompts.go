package agent

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/ClearXs/Violet/internal/memory"
)

// SystemPromptTemplate 为发送给模型的系统消息模板
// 包含动态变量: {base_prompt}, {core_memory}, {recall_count}, {archival_count}, {time}, {os}
const SystemPromptTemplate = `{base_prompt}

### Memory [last modified: {time}]
{recall_count} previous messages between you and the user are stored in recall memory (use conversation_search to access them)
{archival_count} total memories you created are stored in archival memory (use archival_memory_search to access them)

Core memory shown below (limited in size, additional information stored in archival / recall memory):
{core_memory}

Runtime: {os}`

const memoryWarningText = "[System Message] The conversation history will soon reach its maximum length and be trimmed. Make sure to save any important information from the conversation to your memory before it is removed."

var defaultBasePrompts = map[Variant]string{
	VariantConversational: "You are Violet, a personal assistant with long-lived memory. Answer the user directly and keep your memory up to date with memory_write.",
	VariantReflexion:      "You are Violet's reflexion agent. Review recent memory, remove redundancy and record durable insights with memory_write.",
	VariantBackground:     "You are Violet's background agent. When woken up, review what you know and record anything worth keeping with memory_write.",
}

// DefaultBasePrompt 返回类型对应的基础系统提示词。
func DefaultBasePrompt(v Variant) string {
	if p, ok := defaultBasePrompts[v]; ok {
		return p
	}
	return fmt.Sprintf("You are Violet's %s agent. Extract the information relevant to your category from the input and store it with memory_write.", v)
}

// NewChatTemplate 创建 "系统消息 + 历史消息" 的模板
func NewChatTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(SystemPromptTemplate),
		schema.MessagesPlaceholder("history", true),
	)
}

// compileSystemPrompt 将基础提示词与 core memory 以及 recall / archival 概况编译为系统消息文本。
func compileSystemPrompt(ctx context.Context, tmpl prompt.ChatTemplate, store *memory.TierStore, agentID, base string) (string, error) {
	snap, err := store.Snapshot(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("snapshot memory: %w", err)
	}
	core, err := store.CompileCore(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("compile core memory: %w", err)
	}
	msgs, err := tmpl.Format(ctx, map[string]any{
		"base_prompt":    base,
		"core_memory":    core,
		"recall_count":   snap.Recall.Count,
		"archival_count": snap.ArchivalCount,
		"time":           time.Now().Format(time.RFC3339),
		"os":             runtime.GOOS + "/" + runtime.GOARCH,
		"history":        []*schema.Message{},
	})
	if err != nil {
		return "", fmt.Errorf("format chat template failed: %w", err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("format chat template failed: no system message")
	}
	return msgs[0].Content, nil
}
