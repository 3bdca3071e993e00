package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

func (s *Storage) CreateBlock(ctx context.Context, b *Block) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if b == nil {
		return errors.New("block is nil")
	}
	if b.AgentID == "" || b.Label == "" {
		return errors.New("block agent id and label are required")
	}
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

func (s *Storage) GetBlock(ctx context.Context, agentID, label string) (*Block, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var b Block
	err := s.db.WithContext(ctx).Where("agent_id = ? AND label = ?", agentID, label).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gormNotFoundError("block", agentID+"/"+label)
	}
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	return &b, nil
}

func (s *Storage) ListBlocks(ctx context.Context, agentID string) ([]Block, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var out []Block
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return out, nil
}

func (s *Storage) UpdateBlockValue(ctx context.Context, agentID, label, value string) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Model(&Block{}).
		Where("agent_id = ? AND label = ?", agentID, label).
		Update("value", value)
	if res.Error != nil {
		return fmt.Errorf("update block: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gormNotFoundError("block", agentID+"/"+label)
	}
	return nil
}

func (s *Storage) CountBlocks(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&Block{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count blocks: %w", err)
	}
	return n, nil
}
