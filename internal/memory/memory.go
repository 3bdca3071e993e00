// Package memory 实现 Agent 的三层记忆：core（常驻提示词的小块）、recall（完整消息历史）
// 与 archival（可按相似度检索的长期记录）。所有写入在返回前已提交到 SQLite。
package memory

import (
	"context"
	"errors"

	"github.com/ClearXs/Violet/internal/storage"
)

type TierStore struct {
	store    *storage.Storage
	embedder Embedder
	index    *archivalIndex
}

// NewTierStore 创建记忆存储；embedder 为 nil 时使用 HashEmbedder。
func NewTierStore(store *storage.Storage, embedder Embedder) (*TierStore, error) {
	if store == nil {
		return nil, errors.New("storage is nil")
	}
	if embedder == nil {
		embedder = NewHashEmbedder(0)
	}
	return &TierStore{store: store, embedder: embedder, index: newArchivalIndex()}, nil
}

func (m *TierStore) Embedder() Embedder { return m.embedder }

// Snapshot 是 Agent 记忆的整体概况。
type Snapshot struct {
	Core          []Block
	Recall        RecallSummary
	ArchivalCount int64
}

func (m *TierStore) Snapshot(ctx context.Context, agentID string) (Snapshot, error) {
	core, err := m.ListBlocks(ctx, agentID)
	if err != nil {
		return Snapshot{}, err
	}
	recall, err := m.Summary(ctx, agentID)
	if err != nil {
		return Snapshot{}, err
	}
	archival, err := m.ArchivalCount(ctx, agentID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Core: core, Recall: recall, ArchivalCount: archival}, nil
}
