package message

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptRendersMediaReferences(t *testing.T) {
	user := Message{
		Role:  RoleUser,
		Parts: []Part{TextPart{Text: "look at this"}, ImagePart{FileID: "img-1"}, FilePart{FileID: "f-9"}},
	}
	assistant := Message{
		Role:  RoleAssistant,
		Parts: []Part{TextPart{Text: "ok"}},
		ToolCalls: []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: "memory_write", Arguments: `{"variant":"episodic-memory"}`},
		}},
	}

	got := Transcript([]Message{user, assistant})
	assert.Equal(t, "user: look at this [Image: img-1] [File: f-9]\nassistant: ok [calls: memory_write({\"variant\":\"episodic-memory\"})]", got)
}

func TestRecordKeepsPartsAndToolCalls(t *testing.T) {
	m := New("agent-1", RoleAssistant, "hi")
	m.Parts = append(m.Parts, ImagePart{FileID: "img", URL: "https://example.com/a.png"})
	m.ToolCalls = []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "echo", Arguments: "{}"}}}

	row, err := m.ToRecord()
	require.NoError(t, err)
	back, err := FromRecord(row)
	require.NoError(t, err)

	assert.Equal(t, m.ID, back.ID)
	assert.Equal(t, m.Parts, back.Parts)
	assert.Equal(t, "echo", back.ToolCalls[0].Function.Name)
}

func TestToSchemaUsesMultiContentForUserMedia(t *testing.T) {
	m := Message{Role: RoleUser, Parts: []Part{TextPart{Text: "see"}, ImagePart{FileID: "x", URL: "https://example.com/x.png"}}}
	out := m.ToSchema()
	require.Len(t, out.MultiContent, 2)
	assert.Equal(t, schema.ChatMessagePartTypeImageURL, out.MultiContent[1].Type)
	assert.Empty(t, out.Content)

	plain := New("a", RoleAssistant, "hello").ToSchema()
	assert.Equal(t, "hello", plain.Content)
	assert.Equal(t, schema.Assistant, plain.Role)
}
