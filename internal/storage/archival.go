package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

func (s *Storage) InsertArchivalNote(ctx context.Context, n *ArchivalNote) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if n == nil {
		return errors.New("archival note is nil")
	}
	if n.ID == "" || n.AgentID == "" {
		return errors.New("archival note id and agent id are required")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("insert archival note: %w", err)
	}
	return nil
}

// ListArchivalNotes 返回 Agent 的全部 archival 记录（按写入时间），用于重建相似度索引。
func (s *Storage) ListArchivalNotes(ctx context.Context, agentID string) ([]ArchivalNote, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var out []ArchivalNote
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list archival notes: %w", err)
	}
	return out, nil
}

func (s *Storage) GetArchivalNotesByIDs(ctx context.Context, ids []string) (map[string]ArchivalNote, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	out := make(map[string]ArchivalNote, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []ArchivalNote
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get archival notes: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// CountArchivalNotes 统计 archival 记录；agentID 为空时统计全部。
func (s *Storage) CountArchivalNotes(ctx context.Context, agentID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	db := s.db.WithContext(ctx).Model(&ArchivalNote{})
	if agentID != "" {
		db = db.Where("agent_id = ?", agentID)
	}
	var n int64
	if err := db.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count archival notes: %w", err)
	}
	return n, nil
}
