package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "violet.db")
	s, err := Open(ctx, Config{
		Path:      dbPath,
		EnableWAL: true,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestAgent(t *testing.T, s *Storage, id string) *Agent {
	t.Helper()
	a := &Agent{ID: id, Name: id, Variant: "conversational", ContextWindow: 4096}
	if err := s.CreateAgent(context.Background(), a); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return a
}

func TestAgentInContextIDsRoundtrip(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	createTestAgent(t, s, "agent-a")

	if err := s.SetInContextMessageIDs(ctx, "agent-a", []string{"m1", "m2"}); err != nil {
		t.Fatalf("set ids: %v", err)
	}
	a, err := s.GetAgent(ctx, "agent-a")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	ids, err := a.InContextMessageIDs()
	if err != nil {
		t.Fatalf("decode ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != "m1" || ids[1] != "m2" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	if err := s.SoftDeleteAgent(ctx, "agent-a"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := s.GetAgent(ctx, "agent-a"); !IsNotFound(err) {
		t.Fatalf("expected not found after soft delete, got %v", err)
	}
	if err := s.SetInContextMessageIDs(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing agent, got %v", err)
	}
}

func TestMessagesCursorPagination(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	createTestAgent(t, s, "agent-a")

	base := time.Now().Add(-time.Hour).UTC()
	var msgs []Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, Message{
			ID:        fmt.Sprintf("m%02d", i),
			AgentID:   "agent-a",
			Role:      "user",
			PartsJSON: `[]`,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	if err := s.InsertMessages(ctx, msgs); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// 重复写入按 ID 幂等
	if err := s.InsertMessages(ctx, msgs[:3]); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	n, err := s.CountMessages(ctx, "agent-a")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 messages, got %d", n)
	}

	page, err := s.QueryMessages(ctx, MessageQuery{AgentID: "agent-a", After: "m02", Limit: 3})
	if err != nil {
		t.Fatalf("query after: %v", err)
	}
	if len(page) != 3 || page[0].ID != "m03" || page[2].ID != "m05" {
		t.Fatalf("unexpected page: %+v", page)
	}

	// 分页过程中并发追加不影响已有游标
	if err := s.InsertMessages(ctx, []Message{{ID: "m10", AgentID: "agent-a", Role: "user", PartsJSON: `[]`}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	next, err := s.QueryMessages(ctx, MessageQuery{AgentID: "agent-a", After: page[len(page)-1].ID, Before: "m08"})
	if err != nil {
		t.Fatalf("query next: %v", err)
	}
	if len(next) != 2 || next[0].ID != "m06" || next[1].ID != "m07" {
		t.Fatalf("unexpected next page: %+v", next)
	}

	desc, err := s.QueryMessages(ctx, MessageQuery{AgentID: "agent-a", Limit: 2, Desc: true})
	if err != nil {
		t.Fatalf("query desc: %v", err)
	}
	if len(desc) != 2 || desc[0].ID != "m10" || desc[1].ID != "m09" {
		t.Fatalf("unexpected desc page: %+v", desc)
	}

	if _, err := s.QueryMessages(ctx, MessageQuery{AgentID: "agent-a", After: "nope"}); !IsNotFound(err) {
		t.Fatalf("expected not found cursor, got %v", err)
	}

	got, err := s.GetMessagesByIDs(ctx, []string{"m04", "m01"})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if got[0].ID != "m04" || got[1].ID != "m01" {
		t.Fatalf("expected caller order, got %s,%s", got[0].ID, got[1].ID)
	}

	r, err := s.MessageRange(ctx, "agent-a")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if r.Count != 11 || !r.First.Equal(base) {
		t.Fatalf("unexpected range: %+v", r)
	}
}

func TestBlocks(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	createTestAgent(t, s, "agent-a")

	if err := s.CreateBlock(ctx, &Block{AgentID: "agent-a", Label: "persona", Value: "I am Violet", CharLimit: 100}); err != nil {
		t.Fatalf("create block: %v", err)
	}
	if err := s.CreateBlock(ctx, &Block{AgentID: "agent-a", Label: "persona", CharLimit: 100}); err == nil {
		t.Fatalf("expected duplicate label to fail")
	}
	if err := s.UpdateBlockValue(ctx, "agent-a", "persona", "updated"); err != nil {
		t.Fatalf("update block: %v", err)
	}
	b, err := s.GetBlock(ctx, "agent-a", "persona")
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if b.Value != "updated" {
		t.Fatalf("unexpected value %q", b.Value)
	}
	if _, err := s.GetBlock(ctx, "agent-a", "human"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestToolExecutionsPrune(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-48 * time.Hour).UTC()
	for i := 0; i < 5; i++ {
		rec := &ToolExecution{
			Tool:      "echo",
			Status:    "success",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.InsertToolExecution(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	status := "error"
	recs, err := s.QueryToolExecutions(ctx, ToolExecutionQuery{Tool: "echo", Desc: true, Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if err := s.UpdateToolExecution(ctx, recs[0].ID, ToolExecutionUpdate{Status: &status}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.UpdateToolExecution(ctx, 9999, ToolExecutionUpdate{Status: &status}); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	deleted, err := s.DeleteToolExecutionsKeepLatest(ctx, 3)
	if err != nil {
		t.Fatalf("keep latest: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}

	deleted, err = s.DeleteToolExecutionsBeforeLimited(ctx, base.Add(3*time.Hour), 10)
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	n, err := s.CountToolExecutions(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 remaining, got %d", n)
	}
}
