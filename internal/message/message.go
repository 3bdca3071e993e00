// Package message 定义 Agent 消息及其内容片段，并负责与 eino schema、持久化行之间的转换。
package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/ClearXs/Violet/internal/storage"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part 是消息中的一个内容片段，只有本包内的类型可以实现它。
type Part interface {
	isPart()
	// Render 返回该片段在纯文本上下文中的表示。
	Render() string
}

type TextPart struct {
	Text string
}

// ImagePart 引用一张已上传的图片。
type ImagePart struct {
	FileID string
	URL    string
}

// FilePart 引用一个已上传的文件。
type FilePart struct {
	FileID string
	Name   string
}

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}
func (FilePart) isPart()  {}

func (p TextPart) Render() string  { return p.Text }
func (p ImagePart) Render() string { return fmt.Sprintf("[Image: %s]", p.FileID) }
func (p FilePart) Render() string  { return fmt.Sprintf("[File: %s]", p.FileID) }

// Message 是一条不可变的对话消息。
type Message struct {
	ID         string
	AgentID    string
	Role       Role
	Parts      []Part
	ToolCalls  []schema.ToolCall
	ToolCallID string
	ToolName   string
	CreatedAt  time.Time
}

// NewID 生成消息 ID。
func NewID() string {
	return "message-" + uuid.NewString()
}

// New 创建一条纯文本消息。
func New(agentID string, role Role, text string) Message {
	return Message{
		ID:        NewID(),
		AgentID:   agentID,
		Role:      role,
		Parts:     []Part{TextPart{Text: text}},
		CreatedAt: time.Now().UTC(),
	}
}

// NewToolResult 创建一条回应 callID 的 tool 消息。
func NewToolResult(agentID, callID, toolName, content string) Message {
	m := New(agentID, RoleTool, content)
	m.ToolCallID = callID
	m.ToolName = toolName
	return m
}

// Text 拼接所有文本片段。
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Render 将全部片段（包括图片、文件引用）渲染为纯文本。
func (m Message) Render() string {
	parts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		if s := p.Render(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// ToSchema 转换为发送给模型的 eino 消息。
func (m Message) ToSchema() *schema.Message {
	out := &schema.Message{
		Role:       schema.RoleType(m.Role),
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
	}
	if hasMedia(m.Parts) && m.Role == RoleUser {
		for _, p := range m.Parts {
			if img, ok := p.(ImagePart); ok && img.URL != "" {
				out.MultiContent = append(out.MultiContent, schema.ChatMessagePart{
					Type:     schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{URL: img.URL},
				})
				continue
			}
			out.MultiContent = append(out.MultiContent, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeText,
				Text: p.Render(),
			})
		}
		return out
	}
	out.Content = m.Render()
	return out
}

func hasMedia(parts []Part) bool {
	for _, p := range parts {
		if _, ok := p.(TextPart); !ok {
			return true
		}
	}
	return false
}

// FromSchema 将模型返回的 eino 消息包装为一条新消息。
func FromSchema(agentID string, in *schema.Message) Message {
	m := Message{
		ID:        NewID(),
		AgentID:   agentID,
		CreatedAt: time.Now().UTC(),
	}
	if in == nil {
		m.Role = RoleAssistant
		return m
	}
	m.Role = Role(in.Role)
	if in.Content != "" {
		m.Parts = []Part{TextPart{Text: in.Content}}
	}
	m.ToolCalls = in.ToolCalls
	m.ToolCallID = in.ToolCallID
	m.ToolName = in.ToolName
	return m
}

type partRecord struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	FileID string `json:"file_id,omitempty"`
	URL    string `json:"url,omitempty"`
	Name   string `json:"name,omitempty"`
}

// ToRecord 转换为持久化行。
func (m Message) ToRecord() (storage.Message, error) {
	recs := make([]partRecord, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			recs = append(recs, partRecord{Type: "text", Text: v.Text})
		case ImagePart:
			recs = append(recs, partRecord{Type: "image", FileID: v.FileID, URL: v.URL})
		case FilePart:
			recs = append(recs, partRecord{Type: "file", FileID: v.FileID, Name: v.Name})
		}
	}
	parts, err := json.Marshal(recs)
	if err != nil {
		return storage.Message{}, fmt.Errorf("encode parts: %w", err)
	}
	row := storage.Message{
		ID:         m.ID,
		AgentID:    m.AgentID,
		Role:       string(m.Role),
		PartsJSON:  string(parts),
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
		CreatedAt:  m.CreatedAt,
	}
	if len(m.ToolCalls) > 0 {
		calls, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return storage.Message{}, fmt.Errorf("encode tool calls: %w", err)
		}
		row.ToolCallsJSON = string(calls)
	}
	return row, nil
}

// FromRecord 从持久化行还原消息。
func FromRecord(row storage.Message) (Message, error) {
	m := Message{
		ID:         row.ID,
		AgentID:    row.AgentID,
		Role:       Role(row.Role),
		ToolCallID: row.ToolCallID,
		ToolName:   row.ToolName,
		CreatedAt:  row.CreatedAt,
	}
	var recs []partRecord
	if row.PartsJSON != "" {
		if err := json.Unmarshal([]byte(row.PartsJSON), &recs); err != nil {
			return Message{}, fmt.Errorf("decode parts of %s: %w", row.ID, err)
		}
	}
	for _, r := range recs {
		switch r.Type {
		case "image":
			m.Parts = append(m.Parts, ImagePart{FileID: r.FileID, URL: r.URL})
		case "file":
			m.Parts = append(m.Parts, FilePart{FileID: r.FileID, Name: r.Name})
		default:
			m.Parts = append(m.Parts, TextPart{Text: r.Text})
		}
	}
	if row.ToolCallsJSON != "" {
		if err := json.Unmarshal([]byte(row.ToolCallsJSON), &m.ToolCalls); err != nil {
			return Message{}, fmt.Errorf("decode tool calls of %s: %w", row.ID, err)
		}
	}
	return m, nil
}

// ToRecords 批量转换。
func ToRecords(msgs []Message) ([]storage.Message, error) {
	out := make([]storage.Message, 0, len(msgs))
	for _, m := range msgs {
		row, err := m.ToRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// FromRecords 批量还原。
func FromRecords(rows []storage.Message) ([]Message, error) {
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		m, err := FromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// IDs 返回消息 ID 列表。
func IDs(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

// Transcript 把消息渲染为 "role: text" 形式的文本，供摘要模型阅读。
func Transcript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		text := m.Render()
		if len(m.ToolCalls) > 0 {
			names := make([]string, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				names = append(names, fmt.Sprintf("%s(%s)", c.Function.Name, c.Function.Arguments))
			}
			if text != "" {
				text += " "
			}
			text += "[calls: " + strings.Join(names, ", ") + "]"
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
	}
	return strings.TrimRight(b.String(), "\n")
}
