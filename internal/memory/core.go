package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ClearXs/Violet/internal/storage"
)

// ErrBlockLimitExceeded 表示写入值超过了不可压缩 block 的字符上限。
var ErrBlockLimitExceeded = errors.New("block limit exceeded")

// Block 是 core memory 中的一个命名块。
type Block struct {
	Label        string
	Value        string
	Limit        int
	Summarizable bool
}

func blockFromRecord(r storage.Block) Block {
	return Block{Label: r.Label, Value: r.Value, Limit: r.CharLimit, Summarizable: r.Summarizable}
}

func (m *TierStore) CreateBlock(ctx context.Context, agentID string, b Block) error {
	if b.Limit <= 0 {
		return fmt.Errorf("block %q: limit must be positive", b.Label)
	}
	value, err := fit(b, b.Value)
	if err != nil {
		return err
	}
	return m.store.CreateBlock(ctx, &storage.Block{
		AgentID:      agentID,
		Label:        b.Label,
		Value:        value,
		CharLimit:    b.Limit,
		Summarizable: b.Summarizable,
	})
}

func (m *TierStore) GetBlock(ctx context.Context, agentID, label string) (Block, error) {
	r, err := m.store.GetBlock(ctx, agentID, label)
	if err != nil {
		return Block{}, err
	}
	return blockFromRecord(*r), nil
}

func (m *TierStore) ListBlocks(ctx context.Context, agentID string) ([]Block, error) {
	rows, err := m.store.ListBlocks(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]Block, 0, len(rows))
	for _, r := range rows {
		out = append(out, blockFromRecord(r))
	}
	return out, nil
}

// SetBlock 覆盖 block 的值。超限时：可压缩 block 保留末尾，否则返回 ErrBlockLimitExceeded。
func (m *TierStore) SetBlock(ctx context.Context, agentID, label, value string) error {
	b, err := m.GetBlock(ctx, agentID, label)
	if err != nil {
		return err
	}
	value, err = fit(b, value)
	if err != nil {
		return err
	}
	return m.store.UpdateBlockValue(ctx, agentID, label, value)
}

// AppendToBlock 在 block 末尾追加一行。
func (m *TierStore) AppendToBlock(ctx context.Context, agentID, label, text string) error {
	b, err := m.GetBlock(ctx, agentID, label)
	if err != nil {
		return err
	}
	value := text
	if b.Value != "" {
		value = b.Value + "\n" + text
	}
	value, err = fit(b, value)
	if err != nil {
		return err
	}
	return m.store.UpdateBlockValue(ctx, agentID, label, value)
}

// CompileCore 把全部 block 渲染为系统提示词的一部分。
func (m *TierStore) CompileCore(ctx context.Context, agentID string) (string, error) {
	blocks, err := m.ListBlocks(ctx, agentID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, blk := range blocks {
		fmt.Fprintf(&b, "<%s characters=\"%d/%d\">\n%s\n</%s>\n",
			blk.Label, utf8.RuneCountInString(blk.Value), blk.Limit, blk.Value, blk.Label)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func fit(b Block, value string) (string, error) {
	n := utf8.RuneCountInString(value)
	if n <= b.Limit {
		return value, nil
	}
	if !b.Summarizable {
		return "", fmt.Errorf("%w: %s has %d characters, limit %d", ErrBlockLimitExceeded, b.Label, n, b.Limit)
	}
	runes := []rune(value)
	return string(runes[len(runes)-b.Limit:]), nil
}
