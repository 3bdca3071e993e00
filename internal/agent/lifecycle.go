package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ClearXs/Violet/internal/maintenance"
	"github.com/ClearXs/Violet/internal/memory"
	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/storage"
)

const defaultBlockLimit = 2000

// CreateAgentRequest 描述新建 Agent。零值字段使用默认值。
type CreateAgentRequest struct {
	Name         string
	Variant      Variant
	SystemPrompt string
	Persona      string
	Human        string
	// ModelName / ContextWindow 覆盖 Runtime 的默认模型。
	ModelName     string
	ContextWindow int
	// Schedule 为 cron 表达式，仅 background 类型使用。
	Schedule  string
	KeepLastN *int
	EvictAll  bool
}

// CreateAgent 创建 Agent、默认的 persona/human 块，并把基础系统消息放入上下文。
func (rt *Runtime) CreateAgent(ctx context.Context, req CreateAgentRequest) (*storage.Agent, error) {
	if req.Variant == "" {
		req.Variant = VariantConversational
	}
	if !req.Variant.Valid() {
		return nil, fmt.Errorf("%w: unknown agent variant %q", ErrInvalidInput, req.Variant)
	}
	if s := strings.TrimSpace(req.Schedule); s != "" {
		if err := maintenance.ParseSchedule(s); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	base := req.SystemPrompt
	if base == "" {
		base = DefaultBasePrompt(req.Variant)
	}

	id := "agent-" + uuid.NewString()
	name := req.Name
	if name == "" {
		name = string(req.Variant) + "-" + id[len(id)-8:]
	}
	model := rt.Model
	if req.ModelName != "" {
		model.Name = req.ModelName
	}
	if req.ContextWindow > 0 {
		model.ContextWindow = req.ContextWindow
	}

	row := &storage.Agent{
		ID:            id,
		Name:          name,
		Variant:       string(req.Variant),
		SystemPrompt:  base,
		ModelProvider: model.Provider,
		ModelName:     model.Name,
		ModelEndpoint: model.Endpoint,
		ContextWindow: model.ContextWindow,
		EvictAll:      req.EvictAll,
		KeepLastN:     req.KeepLastN,
		Schedule:      strings.TrimSpace(req.Schedule),
	}
	if err := rt.Store.CreateAgent(ctx, row); err != nil {
		return nil, err
	}

	for _, b := range []memory.Block{
		{Label: "persona", Value: req.Persona, Limit: defaultBlockLimit},
		{Label: "human", Value: req.Human, Limit: defaultBlockLimit},
	} {
		if err := rt.Memory.CreateBlock(ctx, id, b); err != nil {
			return nil, fmt.Errorf("create %s block: %w", b.Label, err)
		}
	}

	sys := message.New(id, message.RoleSystem, base)
	if err := rt.Memory.Append(ctx, id, sys); err != nil {
		return nil, err
	}
	if err := rt.Store.SetInContextMessageIDs(ctx, id, []string{sys.ID}); err != nil {
		return nil, err
	}
	row.MessageIDsJSON = fmt.Sprintf("[%q]", sys.ID)
	return row, nil
}

// GetAgent 读取 Agent；不存在时返回 ErrAgentNotFound。
func (rt *Runtime) GetAgent(ctx context.Context, agentID string) (*storage.Agent, error) {
	row, err := rt.Store.GetAgent(ctx, agentID)
	if storage.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return row, err
}

func (rt *Runtime) ListAgents(ctx context.Context, variant Variant) ([]storage.Agent, error) {
	return rt.Store.ListAgents(ctx, storage.AgentQuery{Variant: string(variant)})
}

// DeleteAgent 软删除 Agent。持有该 Agent 锁的 step 结束后才会执行。
func (rt *Runtime) DeleteAgent(ctx context.Context, agentID string) error {
	return rt.Locks.Do(agentID, func() error {
		err := rt.Store.SoftDeleteAgent(ctx, agentID)
		if storage.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return err
	})
}

// InContext 返回 Agent 当前上下文中的消息。
func (rt *Runtime) InContext(ctx context.Context, agentID string) ([]message.Message, error) {
	row, err := rt.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return rt.loadInContext(ctx, row)
}

// loadInContext 解析并读取上下文消息；无法解码视为存储损坏。
func (rt *Runtime) loadInContext(ctx context.Context, row *storage.Agent) ([]message.Message, error) {
	ids, err := row.InContextMessageIDs()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFatal, err)
	}
	msgs, err := rt.Memory.Load(ctx, ids)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("%w: in-context message missing: %w", ErrFatal, err)
		}
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load in-context messages: %w", ErrFatal, err)
	}
	return msgs, nil
}
