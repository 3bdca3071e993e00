package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type AgentQuery struct {
	Variant string
	// WithSchedule 只返回配置了 cron 的 Agent。
	WithSchedule bool
	Limit        int
}

func (s *Storage) CreateAgent(ctx context.Context, a *Agent) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if a == nil {
		return errors.New("agent is nil")
	}
	if a.ID == "" {
		return errors.New("agent id is required")
	}
	if a.MessageIDsJSON == "" {
		a.MessageIDsJSON = "[]"
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *Storage) GetAgent(ctx context.Context, id string) (*Agent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var a Agent
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gormNotFoundError("agent", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

func (s *Storage) ListAgents(ctx context.Context, q AgentQuery) ([]Agent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	db := s.db.WithContext(ctx).Model(&Agent{})
	if q.Variant != "" {
		db = db.Where("variant = ?", q.Variant)
	}
	if q.WithSchedule {
		db = db.Where("schedule <> ''")
	}
	var out []Agent
	if err := db.Order("created_at ASC").Limit(normalizeLimit(q.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return out, nil
}

// SoftDeleteAgent 软删除 Agent，消息与记忆数据保留。
func (s *Storage) SoftDeleteAgent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Agent{})
	if res.Error != nil {
		return fmt.Errorf("delete agent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gormNotFoundError("agent", id)
	}
	return nil
}

func (s *Storage) CountAgents(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&Agent{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}

// InContextMessageIDs 解析 Agent 当前上下文中的消息 ID 列表。
func (a *Agent) InContextMessageIDs() ([]string, error) {
	if a == nil || a.MessageIDsJSON == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(a.MessageIDsJSON), &ids); err != nil {
		return nil, fmt.Errorf("decode message ids: %w", err)
	}
	return ids, nil
}

// SetInContextMessageIDs 持久化 Agent 上下文中的消息 ID 列表。
func (s *Storage) SetInContextMessageIDs(ctx context.Context, agentID string, ids []string) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode message ids: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&Agent{}).Where("id = ?", agentID).Update("message_ids_json", string(raw))
	if res.Error != nil {
		return fmt.Errorf("update agent message ids: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gormNotFoundError("agent", agentID)
	}
	return nil
}
