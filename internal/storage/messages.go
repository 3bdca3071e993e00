package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageQuery 为 recall 分页查询条件。
//
// After/Before 是消息 ID 游标（开区间），而不是偏移量，
// 因此在并发追加下分页结果保持稳定。
type MessageQuery struct {
	AgentID string
	After   string
	Before  string
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
	// Desc 按写入顺序倒序返回（优先返回最新消息）。
	Desc bool
}

// MessageRange 为 recall 层的概况。
type MessageRange struct {
	Count int64
	First time.Time
	Last  time.Time
}

// InsertMessages 批量写入消息。按消息 ID 幂等：已存在的 ID 会被跳过，
// 因此“先持久化再淘汰”在崩溃重试时最多产生一次无害的重复写入。
func (s *Storage) InsertMessages(ctx context.Context, msgs []Message) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range msgs {
		if msgs[i].ID == "" {
			return errors.New("message id is required")
		}
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now
		}
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(msgs, 200).Error
	if err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}
	return nil
}

func (s *Storage) GetMessage(ctx context.Context, id string) (*Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var m Message
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gormNotFoundError("message", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// GetMessagesByIDs 按给定 ID 的顺序返回消息；任一 ID 不存在都会返回 not found。
func (s *Storage) GetMessagesByIDs(ctx context.Context, ids []string) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []Message
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	byID := make(map[string]Message, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, gormNotFoundError("message", id)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Storage) QueryMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	if q.AgentID == "" {
		return nil, errors.New("agent id is required")
	}

	db := s.db.WithContext(ctx).Model(&Message{}).Where("agent_id = ?", q.AgentID)
	if q.After != "" {
		seq, err := s.messageSeq(ctx, q.AgentID, q.After)
		if err != nil {
			return nil, err
		}
		db = db.Where("seq > ?", seq)
	}
	if q.Before != "" {
		seq, err := s.messageSeq(ctx, q.AgentID, q.Before)
		if err != nil {
			return nil, err
		}
		db = db.Where("seq < ?", seq)
	}
	if q.Desc {
		db = db.Order("seq DESC")
	} else {
		db = db.Order("seq ASC")
	}

	var out []Message
	if err := db.Limit(normalizeLimit(q.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return out, nil
}

func (s *Storage) messageSeq(ctx context.Context, agentID, id string) (uint64, error) {
	var seqs []uint64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Select("seq").
		Where("agent_id = ? AND id = ?", agentID, id).
		Limit(1).
		Find(&seqs).Error
	if err != nil {
		return 0, fmt.Errorf("resolve message cursor: %w", err)
	}
	if len(seqs) == 0 {
		return 0, gormNotFoundError("message", id)
	}
	return seqs[0], nil
}

// CountMessages 统计消息条数；agentID 为空时统计全部。
func (s *Storage) CountMessages(ctx context.Context, agentID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	db := s.db.WithContext(ctx).Model(&Message{})
	if agentID != "" {
		db = db.Where("agent_id = ?", agentID)
	}
	var n int64
	if err := db.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *Storage) MessageRange(ctx context.Context, agentID string) (MessageRange, error) {
	if s == nil || s.db == nil {
		return MessageRange{}, errors.New("storage not initialized")
	}
	n, err := s.CountMessages(ctx, agentID)
	if err != nil {
		return MessageRange{}, err
	}
	out := MessageRange{Count: n}
	if n == 0 {
		return out, nil
	}

	var first, last Message
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("seq ASC").First(&first).Error; err != nil {
		return out, fmt.Errorf("first message: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("seq DESC").First(&last).Error; err != nil {
		return out, fmt.Errorf("last message: %w", err)
	}
	out.First = first.CreatedAt
	out.Last = last.CreatedAt
	return out, nil
}
