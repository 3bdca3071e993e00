package storage

import (
	"time"

	"gorm.io/gorm"
)

// Agent 是一个 Agent 的持久化状态。
//
// 上下文中的消息只保存有序的消息 ID 列表（MessageIDsJSON），消息正文存放在 messages 表中；
// 淘汰（eviction）只改写这个列表，不会删除 messages 表中的行。
type Agent struct {
	// ID 为 Agent 唯一标识（agent-<uuid>）。
	ID string `gorm:"primaryKey;size:64"`
	// Name 为便于展示的名称。
	Name string `gorm:"size:255;index"`
	// Variant 为 Agent 的类型（conversational / episodic-memory / ...）。
	Variant string `gorm:"size:32;not null;index"`
	// SystemPrompt 为基础系统提示词；实际发送时会拼接 core memory。
	SystemPrompt string `gorm:"type:text"`
	// ModelProvider/ModelName/ModelEndpoint 描述该 Agent 使用的模型。
	ModelProvider string `gorm:"size:32"`
	ModelName     string `gorm:"size:128"`
	ModelEndpoint string `gorm:"size:255"`
	// ContextWindow 为模型上下文窗口（token 数）。
	ContextWindow int `gorm:"not null"`
	// EvictAll/KeepLastN 为该 Agent 的摘要策略覆盖项；KeepLastN 为 nil 表示沿用全局配置。
	EvictAll  bool
	KeepLastN *int
	// Schedule 为 background 类型 Agent 的 cron 表达式（可选）。
	Schedule string `gorm:"size:64"`
	// MessageIDsJSON 为当前上下文中的消息 ID（JSON 数组，按顺序）。
	MessageIDsJSON string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
	// DeletedAt 支持软删除。
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// Message 是 recall 层的一条消息，写入后不可变。
//
// Seq 为自增序号，用作分页游标的稳定排序键：并发追加只会产生更大的 Seq，
// 因此基于消息 ID 的游标分页不会因为新写入而错位。
type Message struct {
	Seq uint64 `gorm:"primaryKey;autoIncrement;index:idx_messages_agent_seq,priority:2"`
	// ID 为消息唯一标识（message-<uuid>），对外暴露的游标。
	ID      string `gorm:"size:64;not null;uniqueIndex"`
	AgentID string `gorm:"size:64;not null;index:idx_messages_agent_seq,priority:1"`
	// Role 为 system/user/assistant/tool。
	Role string `gorm:"size:16;not null"`
	// PartsJSON 为有序的内容片段（text / image / file）。
	PartsJSON string `gorm:"type:text;not null"`
	// ToolCallsJSON 为 assistant 消息发起的工具调用（可选）。
	ToolCallsJSON string `gorm:"type:text"`
	// ToolCallID/ToolName 为 tool 消息对应的调用。
	ToolCallID string    `gorm:"size:128"`
	ToolName   string    `gorm:"size:128"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

// Block 为 core memory 中的一个命名块，例如 persona / human。
type Block struct {
	ID      uint64 `gorm:"primaryKey"`
	AgentID string `gorm:"size:64;not null;uniqueIndex:idx_blocks_agent_label,priority:1"`
	Label   string `gorm:"size:64;not null;uniqueIndex:idx_blocks_agent_label,priority:2"`
	Value   string `gorm:"type:text"`
	// CharLimit 为 Value 的最大字符数。
	CharLimit int `gorm:"not null"`
	// Summarizable 为 true 时，超限写入会被压缩而不是拒绝。
	Summarizable bool
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime"`
}

// ArchivalNote 为 archival memory 中的一条长期记录。
//
// 向量同时落库（EmbeddingJSON），相似度索引只是内存中的投影，进程重启后由此重建。
type ArchivalNote struct {
	ID      string `gorm:"primaryKey;size:64"`
	AgentID string `gorm:"size:64;not null;index"`
	// Category 表示写入它的记忆类型（episodic / procedural / ...）。
	Category      string `gorm:"size:32;index"`
	Content       string `gorm:"type:text;not null"`
	EmbeddingJSON string `gorm:"type:text"`
	MetadataJSON  string `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

// ToolExecution 记录一次沙箱内的工具执行及其结果，用于审计与排障。
type ToolExecution struct {
	ID uint64 `gorm:"primaryKey"`
	// TraceID 串联一次 step 调用内的所有工具执行。
	TraceID string `gorm:"size:64;index"`
	AgentID string `gorm:"size:64;index"`
	// Tool 为工具名。
	Tool string `gorm:"size:128;not null;index"`
	// Runtime 为执行方式（inprocess / process / docker）。
	Runtime    string `gorm:"size:16"`
	ParamsJSON string `gorm:"type:text"`
	ResultJSON string `gorm:"type:text"`
	// Status 为 running/success/error。
	Status       string `gorm:"size:32;not null;index"`
	ErrorMessage string `gorm:"type:text"`
	DurationMS   int64
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index"`
}
