package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mudler/xlog"

	"github.com/ClearXs/Violet/internal/memory"
	"github.com/ClearXs/Violet/internal/storage"
)

// AbsorbRequest 为一次记忆写入。AgentID 为记忆归属的 Agent。
type AbsorbRequest struct {
	AgentID string
	Content string
	// Label 仅对 core-memory 有效，默认 human。
	Label string
	// Targets 仅对 meta-memory 有效，为空时分发到全部分类记忆。
	Targets  []Variant
	Metadata map[string]string
}

type AbsorbResult struct {
	Variant Variant
	// NoteIDs 为新写入的 archival 记录。
	NoteIDs []string
	// Blocks 为被修改的 core 块。
	Blocks []string
}

// Summary 渲染为回填给模型的结果文本。
func (r AbsorbResult) Summary() string {
	var parts []string
	if len(r.NoteIDs) > 0 {
		parts = append(parts, fmt.Sprintf("stored %d note(s): %s", len(r.NoteIDs), strings.Join(r.NoteIDs, ", ")))
	}
	if len(r.Blocks) > 0 {
		parts = append(parts, "updated core block(s): "+strings.Join(r.Blocks, ", "))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: nothing stored", r.Variant)
	}
	return fmt.Sprintf("%s: %s", r.Variant, strings.Join(parts, "; "))
}

// MemoryAgent 负责把内容写入某一类记忆。
type MemoryAgent interface {
	Variant() Variant
	Absorb(ctx context.Context, req AbsorbRequest) (AbsorbResult, error)
}

// archivalAgent 把内容写成一条带分类的 archival 记录。
type archivalAgent struct {
	variant Variant
	store   *memory.TierStore
}

func (a *archivalAgent) Variant() Variant { return a.variant }

func (a *archivalAgent) Absorb(ctx context.Context, req AbsorbRequest) (AbsorbResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return AbsorbResult{}, fmt.Errorf("%w: empty memory content", ErrInvalidInput)
	}
	note, err := a.store.InsertArchivalText(ctx, req.AgentID, memory.Note{
		Category: a.variant.category(),
		Content:  content,
		Metadata: req.Metadata,
	})
	if err != nil {
		return AbsorbResult{}, fmt.Errorf("absorb %s: %w", a.variant, err)
	}
	return AbsorbResult{Variant: a.variant, NoteIDs: []string{note.ID}}, nil
}

// coreAgent 把内容追加到 core memory 的某个块，块不存在时创建。
type coreAgent struct {
	store *memory.TierStore
	limit int
}

func (a *coreAgent) Variant() Variant { return VariantCore }

func (a *coreAgent) Absorb(ctx context.Context, req AbsorbRequest) (AbsorbResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return AbsorbResult{}, fmt.Errorf("%w: empty memory content", ErrInvalidInput)
	}
	label := req.Label
	if label == "" {
		label = "human"
	}
	err := a.store.AppendToBlock(ctx, req.AgentID, label, content)
	if storage.IsNotFound(err) {
		err = a.store.CreateBlock(ctx, req.AgentID, memory.Block{
			Label:        label,
			Value:        content,
			Limit:        a.limit,
			Summarizable: true,
		})
	}
	if err != nil {
		return AbsorbResult{}, fmt.Errorf("absorb core-memory: %w", err)
	}
	return AbsorbResult{Variant: VariantCore, Blocks: []string{label}}, nil
}

// metaAgent 把同一内容分发给多个分类记忆。单个目标失败不会中断其余目标。
type metaAgent struct {
	agents map[Variant]MemoryAgent
}

func (a *metaAgent) Variant() Variant { return VariantMeta }

func (a *metaAgent) Absorb(ctx context.Context, req AbsorbRequest) (AbsorbResult, error) {
	targets := req.Targets
	if len(targets) == 0 {
		targets = archivalVariants
	}
	out := AbsorbResult{Variant: VariantMeta}
	var errs []error
	for _, v := range targets {
		if v == VariantMeta {
			continue
		}
		target, ok := a.agents[v]
		if !ok {
			errs = append(errs, fmt.Errorf("no memory agent for %s", v))
			continue
		}
		res, err := target.Absorb(ctx, AbsorbRequest{AgentID: req.AgentID, Content: req.Content, Label: req.Label, Metadata: req.Metadata})
		if err != nil {
			xlog.Warn("meta memory target failed", "target", v, "error", err)
			errs = append(errs, err)
			continue
		}
		out.NoteIDs = append(out.NoteIDs, res.NoteIDs...)
		out.Blocks = append(out.Blocks, res.Blocks...)
	}
	if len(out.NoteIDs) == 0 && len(out.Blocks) == 0 && len(errs) > 0 {
		return out, errors.Join(errs...)
	}
	return out, nil
}

var archivalVariants = []Variant{
	VariantEpisodic,
	VariantProcedural,
	VariantResource,
	VariantKnowledgeVault,
	VariantSemantic,
}

// DefaultMemoryAgents 为每个记忆类型创建一个实现：五类 archival、core 与 meta。
func DefaultMemoryAgents(store *memory.TierStore) map[Variant]MemoryAgent {
	agents := make(map[Variant]MemoryAgent, len(archivalVariants)+2)
	for _, v := range archivalVariants {
		agents[v] = &archivalAgent{variant: v, store: store}
	}
	agents[VariantCore] = &coreAgent{store: store, limit: defaultBlockLimit}
	agents[VariantMeta] = &metaAgent{agents: agents}
	return agents
}
