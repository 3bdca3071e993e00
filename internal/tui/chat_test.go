package tui

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/sandbox"
	"github.com/ClearXs/Violet/internal/stream"
	"github.com/ClearXs/Violet/internal/ui"
)

type nopBackend struct{}

func (nopBackend) Submit(context.Context, string) (ui.Reply, error) { return ui.Reply{}, nil }

func TestModelAppliesStreamEvents(t *testing.T) {
	m := newChatModel(context.Background(), nopBackend{}, ui.ChatOptions{ShowTools: true})
	m.thinking = true

	reply := message.New("agent-1", message.RoleAssistant, "hello there")
	next, _ := m.Update(streamEventMsg{ok: true, ev: stream.Event{Kind: stream.KindDelta, Text: reply.Text(), Message: &reply}})
	m = next.(chatModel)
	require.Len(t, m.entries, 1)
	assert.Equal(t, message.RoleAssistant, m.entries[0].role)
	assert.True(t, m.streaming)

	res := sandbox.Result{Status: sandbox.StatusError, ReturnValue: "boom"}
	next, _ = m.Update(streamEventMsg{ok: true, ev: stream.Event{Kind: stream.KindToolResult, ToolName: "echo", Text: "boom", Result: &res}})
	m = next.(chatModel)
	require.Len(t, m.entries, 2)
	assert.Equal(t, "TOOL echo (error)", m.entries[1].label)

	next, _ = m.Update(streamEventMsg{ok: true, ev: stream.Event{Kind: stream.KindDone, Text: "hello there"}})
	m = next.(chatModel)
	assert.False(t, m.thinking)
	assert.Nil(t, m.active)
	assert.Len(t, m.entries, 2)
}

func TestModelShowsCommandOutput(t *testing.T) {
	m := newChatModel(context.Background(), nopBackend{}, ui.ChatOptions{})
	m.thinking = true

	next, _ := m.Update(submitResultMsg{reply: ui.Reply{Text: "上下文已清空。"}})
	m = next.(chatModel)
	require.Len(t, m.entries, 1)
	assert.Equal(t, "COMMAND", m.entries[0].label)
	assert.False(t, m.thinking)
	assert.Contains(t, m.renderChat(), "上下文已清空。")
}
