package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/xlog"
	chromem "github.com/philippgille/chromem-go"

	"github.com/ClearXs/Violet/internal/storage"
)

// Note 是 archival memory 中的一条长期记录。
type Note struct {
	ID        string
	AgentID   string
	Category  string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
	// Similarity 仅在检索结果中有值。
	Similarity float32
}

// archivalIndex 是 archival 记录在内存中的相似度索引投影。
// 每个 Agent 一个 collection，首次访问时从数据库重建。
type archivalIndex struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

func newArchivalIndex() *archivalIndex {
	return &archivalIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

type noteLoader func(ctx context.Context, agentID string) ([]storage.ArchivalNote, error)

func (ix *archivalIndex) collection(ctx context.Context, agentID string, load noteLoader) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, ok := ix.collections[agentID]
	ix.mu.RUnlock()
	if ok {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.collections[agentID]; ok {
		return col, nil
	}

	col, err := ix.db.CreateCollection("archival_"+agentID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	rows, err := load(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		doc, err := documentFromRecord(r)
		if err != nil {
			xlog.Warn("skip archival note without embedding", "agent", agentID, "id", r.ID, "error", err)
			continue
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("index archival note %s: %w", r.ID, err)
		}
	}
	if len(rows) > 0 {
		xlog.Debug("archival index rebuilt", "agent", agentID, "notes", len(rows))
	}
	ix.collections[agentID] = col
	return col, nil
}

func documentFromRecord(r storage.ArchivalNote) (chromem.Document, error) {
	var emb []float32
	if r.EmbeddingJSON == "" {
		return chromem.Document{}, errors.New("empty embedding")
	}
	if err := json.Unmarshal([]byte(r.EmbeddingJSON), &emb); err != nil {
		return chromem.Document{}, fmt.Errorf("decode embedding: %w", err)
	}
	return chromem.Document{
		ID:        r.ID,
		Content:   r.Content,
		Embedding: emb,
		Metadata:  map[string]string{"category": r.Category},
	}, nil
}

// InsertArchival 写入一条 archival 记录：先落库，再更新相似度索引。
func (m *TierStore) InsertArchival(ctx context.Context, agentID string, note Note, embedding []float32) (Note, error) {
	if note.Content == "" {
		return Note{}, errors.New("archival note content is empty")
	}
	if len(embedding) == 0 {
		return Note{}, errors.New("archival note embedding is empty")
	}
	if note.ID == "" {
		note.ID = "note-" + uuid.NewString()
	}
	note.AgentID = agentID
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return Note{}, fmt.Errorf("encode embedding: %w", err)
	}
	metaJSON := ""
	if len(note.Metadata) > 0 {
		raw, err := json.Marshal(note.Metadata)
		if err != nil {
			return Note{}, fmt.Errorf("encode metadata: %w", err)
		}
		metaJSON = string(raw)
	}
	rec := &storage.ArchivalNote{
		ID:            note.ID,
		AgentID:       agentID,
		Category:      note.Category,
		Content:       note.Content,
		EmbeddingJSON: string(embJSON),
		MetadataJSON:  metaJSON,
		CreatedAt:     note.CreatedAt,
	}
	if err := m.store.InsertArchivalNote(ctx, rec); err != nil {
		return Note{}, err
	}

	col, err := m.index.collection(ctx, agentID, m.store.ListArchivalNotes)
	if err != nil {
		return Note{}, err
	}
	doc, err := documentFromRecord(*rec)
	if err != nil {
		return Note{}, err
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return Note{}, fmt.Errorf("index archival note: %w", err)
	}
	return note, nil
}

// InsertArchivalText 使用 TierStore 的 Embedder 计算向量后写入。
func (m *TierStore) InsertArchivalText(ctx context.Context, agentID string, note Note) (Note, error) {
	emb, err := m.embedder.Embed(ctx, note.Content)
	if err != nil {
		return Note{}, fmt.Errorf("embed archival note: %w", err)
	}
	return m.InsertArchival(ctx, agentID, note, emb)
}

// SearchArchival 按相似度从高到低返回最多 topK 条记录。
func (m *TierStore) SearchArchival(ctx context.Context, agentID string, query []float32, topK int) ([]Note, error) {
	if topK <= 0 {
		return nil, nil
	}
	col, err := m.index.collection(ctx, agentID, m.store.ListArchivalNotes)
	if err != nil {
		return nil, err
	}
	// chromem 要求 nResults 不超过文档数
	if n := col.Count(); topK > n {
		topK = n
	}
	if topK == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query archival index: %w", err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	rows, err := m.store.GetArchivalNotesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Note, 0, len(results))
	for _, r := range results {
		row, ok := rows[r.ID]
		if !ok {
			continue
		}
		n := noteFromRecord(row)
		n.Similarity = r.Similarity
		out = append(out, n)
	}
	return out, nil
}

// SearchArchivalText 以文本为查询条件检索。
func (m *TierStore) SearchArchivalText(ctx context.Context, agentID, query string, topK int) ([]Note, error) {
	emb, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return m.SearchArchival(ctx, agentID, emb, topK)
}

func (m *TierStore) ArchivalCount(ctx context.Context, agentID string) (int64, error) {
	return m.store.CountArchivalNotes(ctx, agentID)
}

func noteFromRecord(r storage.ArchivalNote) Note {
	n := Note{
		ID:        r.ID,
		AgentID:   r.AgentID,
		Category:  r.Category,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
	if r.MetadataJSON != "" {
		_ = json.Unmarshal([]byte(r.MetadataJSON), &n.Metadata)
	}
	return n
}
