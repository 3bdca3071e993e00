package memory

import (
	"context"
	"time"

	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/storage"
)

const defaultRecallLimit = 100

// RecallQuery 为 recall 分页条件，After/Before 为消息 ID 游标（开区间）。
type RecallQuery struct {
	After  string
	Before string
	// Limit <=0 时使用默认值 100。
	Limit int
	// Ascending 为 true 时按写入顺序返回，否则最新的在前。
	Ascending bool
}

// RecallSummary 概述 recall 层：消息数量与时间范围。
type RecallSummary struct {
	Count int64
	First time.Time
	Last  time.Time
}

// Append 持久化消息；按消息 ID 幂等。返回时已提交。
func (m *TierStore) Append(ctx context.Context, agentID string, msgs ...message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for i := range msgs {
		if msgs[i].AgentID == "" {
			msgs[i].AgentID = agentID
		}
	}
	rows, err := message.ToRecords(msgs)
	if err != nil {
		return err
	}
	return m.store.InsertMessages(ctx, rows)
}

func (m *TierStore) List(ctx context.Context, agentID string, q RecallQuery) ([]message.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	rows, err := m.store.QueryMessages(ctx, storage.MessageQuery{
		AgentID: agentID,
		After:   q.After,
		Before:  q.Before,
		Limit:   limit,
		Desc:    !q.Ascending,
	})
	if err != nil {
		return nil, err
	}
	return message.FromRecords(rows)
}

// Load 按给定顺序读取消息。
func (m *TierStore) Load(ctx context.Context, ids []string) ([]message.Message, error) {
	rows, err := m.store.GetMessagesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return message.FromRecords(rows)
}

func (m *TierStore) Count(ctx context.Context, agentID string) (int64, error) {
	return m.store.CountMessages(ctx, agentID)
}

func (m *TierStore) Summary(ctx context.Context, agentID string) (RecallSummary, error) {
	r, err := m.store.MessageRange(ctx, agentID)
	if err != nil {
		return RecallSummary{}, err
	}
	return RecallSummary{Count: r.Count, First: r.First, Last: r.Last}, nil
}
