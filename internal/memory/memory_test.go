package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/storage"
)

func openTestStore(t *testing.T) (*TierStore, *storage.Storage) {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "violet.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.CreateAgent(context.Background(), &storage.Agent{ID: "agent-1", Variant: "conversational", ContextWindow: 4096}))

	m, err := NewTierStore(s, nil)
	require.NoError(t, err)
	return m, s
}

func TestCoreBlockLimits(t *testing.T) {
	m, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, m.CreateBlock(ctx, "agent-1", Block{Label: "human", Value: "name: Ann", Limit: 10}))
	require.NoError(t, m.CreateBlock(ctx, "agent-1", Block{Label: "scratch", Limit: 5, Summarizable: true}))

	err := m.SetBlock(ctx, "agent-1", "human", "name: Ann Smith")
	require.ErrorIs(t, err, ErrBlockLimitExceeded)
	b, err := m.GetBlock(ctx, "agent-1", "human")
	require.NoError(t, err)
	assert.Equal(t, "name: Ann", b.Value, "rejected write must not change the block")

	require.NoError(t, m.SetBlock(ctx, "agent-1", "scratch", "abcdefgh"))
	b, err = m.GetBlock(ctx, "agent-1", "scratch")
	require.NoError(t, err)
	assert.Equal(t, "defgh", b.Value)

	require.NoError(t, m.AppendToBlock(ctx, "agent-1", "scratch", "xy"))
	b, err = m.GetBlock(ctx, "agent-1", "scratch")
	require.NoError(t, err)
	assert.Equal(t, "gh\nxy", b.Value)

	compiled, err := m.CompileCore(ctx, "agent-1")
	require.NoError(t, err)
	assert.Contains(t, compiled, "<human characters=\"9/10\">")
	assert.Contains(t, compiled, "name: Ann")
}

func TestRecallAppendIsIdempotentAndPaginates(t *testing.T) {
	m, _ := openTestStore(t)
	ctx := context.Background()

	var msgs []message.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, message.New("agent-1", message.RoleUser, fmt.Sprintf("msg %d", i)))
	}
	require.NoError(t, m.Append(ctx, "agent-1", msgs...))
	require.NoError(t, m.Append(ctx, "agent-1", msgs[0], msgs[1]))

	n, err := m.Count(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	page, err := m.List(ctx, "agent-1", RecallQuery{After: msgs[1].ID, Limit: 2, Ascending: true})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "msg 2", page[0].Text())
	assert.Equal(t, "msg 3", page[1].Text())

	latest, err := m.List(ctx, "agent-1", RecallQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "msg 4", latest[0].Text())

	sum, err := m.Summary(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum.Count)
	assert.False(t, sum.Last.Before(sum.First))
}

func TestArchivalSearchOrdersBySimilarity(t *testing.T) {
	m, s := openTestStore(t)
	ctx := context.Background()

	notes := []string{
		"the user enjoys hiking in the alps every summer",
		"quarterly tax report is due in april",
		"favorite food is spicy ramen",
	}
	for _, c := range notes {
		_, err := m.InsertArchivalText(ctx, "agent-1", Note{Content: c, Category: "episodic"})
		require.NoError(t, err)
	}

	got, err := m.SearchArchivalText(ctx, "agent-1", "hiking in the alps", 10)
	require.NoError(t, err)
	require.Len(t, got, 3, "topK above the note count is clamped")
	assert.True(t, strings.Contains(got[0].Content, "hiking"))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity)
	}

	// 新的 TierStore 从数据库重建索引
	fresh, err := NewTierStore(s, nil)
	require.NoError(t, err)
	got, err = fresh.SearchArchivalText(ctx, "agent-1", "spicy ramen", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "favorite food is spicy ramen", got[0].Content)
	assert.Equal(t, "episodic", got[0].Category)

	n, err := fresh.ArchivalCount(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	empty, err := fresh.SearchArchivalText(ctx, "agent-2", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHashEmbedderIsDeterministic(t *testing.T) {
	e := NewHashEmbedder(0)
	a, err := e.Embed(context.Background(), "Hello world")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "hello, world!")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 384)
}
