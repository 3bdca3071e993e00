package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ClearXs/Violet/internal/agent"
	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/stream"
)

const helpText = `可用命令：
  /memory             查看 core memory
  /pop [n]            从上下文末尾移除 n 条消息（默认 1）
  /clear              清空上下文，只保留系统消息
  /retry              重新生成最后一条用户消息的回复
  /continue_chaining  在不追加输入的情况下继续执行
  /memorywarning      发送容量提醒，让 Agent 保存记忆
  /help               显示本帮助`

// Session 把一个 Agent 包装为 ChatBackend。
type Session struct {
	engine    *agent.Engine
	responder *stream.Responder
	agentID   string
	opts      []agent.StepOption
}

func NewSession(engine *agent.Engine, responder *stream.Responder, agentID string, opts ...agent.StepOption) *Session {
	return &Session{engine: engine, responder: responder, agentID: agentID, opts: opts}
}

func (s *Session) Submit(ctx context.Context, line string) (Reply, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Reply{}, fmt.Errorf("%w: empty input", agent.ErrInvalidInput)
	}
	// 每次输入生成一个 TraceID，工具审计按它归档
	ctx = agent.WithTraceID(ctx, uuid.NewString())
	if !strings.HasPrefix(line, "/") {
		in := []message.Message{message.New(s.agentID, message.RoleUser, line)}
		return Reply{Stream: s.responder.Stream(ctx, s.agentID, in, s.opts...)}, nil
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/help":
		return Reply{Text: helpText}, nil
	case "/memory":
		text, err := s.engine.CoreMemory(ctx, s.agentID)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: text}, nil
	case "/pop":
		n := 1
		if arg != "" {
			v, err := strconv.Atoi(arg)
			if err != nil || v <= 0 {
				return Reply{}, fmt.Errorf("%w: /pop expects a positive number, got %q", agent.ErrInvalidInput, arg)
			}
			n = v
		}
		popped, err := s.engine.Pop(ctx, s.agentID, n)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: fmt.Sprintf("已从上下文移除 %d 条消息。", len(popped))}, nil
	case "/clear":
		if err := s.engine.Clear(ctx, s.agentID); err != nil {
			return Reply{}, err
		}
		return Reply{Text: "上下文已清空。"}, nil
	case "/retry":
		return s.run(ctx, s.engine.Retry), nil
	case "/continue_chaining":
		return s.run(ctx, s.engine.ContinueChaining), nil
	case "/memorywarning":
		return s.run(ctx, s.engine.MemoryWarning), nil
	default:
		return Reply{}, fmt.Errorf("%w: unknown command %s (try /help)", agent.ErrInvalidInput, name)
	}
}

type engineCommand func(ctx context.Context, agentID string, opts ...agent.StepOption) (*agent.UsageStatistics, error)

func (s *Session) run(ctx context.Context, cmd engineCommand) Reply {
	return Reply{Stream: s.responder.Run(ctx, s.agentID, func(ctx context.Context, sink agent.EventSink) (*agent.UsageStatistics, error) {
		opts := append(append([]agent.StepOption{}, s.opts...), agent.WithEventSink(sink))
		return cmd(ctx, s.agentID, opts...)
	})}
}
