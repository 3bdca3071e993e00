package agent

import (
	"context"
	"fmt"

	"github.com/ClearXs/Violet/internal/message"
)

const minInContextMessages = 2

// Pop 从上下文末尾移除 n 条消息（至少保留 2 条），返回被移除的消息。消息仍保留在 recall 中。
func (e *Engine) Pop(ctx context.Context, agentID string, n int) ([]message.Message, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: pop count must be positive", ErrInvalidInput)
	}
	var popped []message.Message
	err := e.rt.Locks.Do(agentID, func() error {
		msgs, err := e.rt.InContext(ctx, agentID)
		if err != nil {
			return err
		}
		if n > len(msgs)-minInContextMessages {
			n = len(msgs) - minInContextMessages
		}
		if n <= 0 {
			return fmt.Errorf("%w: context must keep at least %d messages", ErrInvalidInput, minInContextMessages)
		}
		keep := msgs[:len(msgs)-n]
		if err := e.rt.Store.SetInContextMessageIDs(ctx, agentID, message.IDs(keep)); err != nil {
			return err
		}
		popped = msgs[len(msgs)-n:]
		return nil
	})
	return popped, e.report(agentID, err)
}

// Clear 把上下文重置为开头的系统消息。
func (e *Engine) Clear(ctx context.Context, agentID string) error {
	err := e.rt.Locks.Do(agentID, func() error {
		msgs, err := e.rt.InContext(ctx, agentID)
		if err != nil {
			return err
		}
		i := 0
		for i < len(msgs) && msgs[i].Role == message.RoleSystem {
			i++
		}
		e.setWarned(agentID, false)
		return e.rt.Store.SetInContextMessageIDs(ctx, agentID, message.IDs(msgs[:i]))
	})
	return e.report(agentID, err)
}

// Retry 丢弃最后一条用户消息之后的全部上下文，并用该消息重新执行 step。
func (e *Engine) Retry(ctx context.Context, agentID string, opts ...StepOption) (*UsageStatistics, error) {
	o := e.options(opts)
	var stats *UsageStatistics
	err := e.rt.Locks.Do(agentID, func() error {
		msgs, err := e.rt.InContext(ctx, agentID)
		if err != nil {
			return err
		}
		last := -1
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == message.RoleUser {
				last = i
				break
			}
		}
		if last < 0 {
			return fmt.Errorf("%w: no user message to retry", ErrInvalidInput)
		}
		if err := e.rt.Store.SetInContextMessageIDs(ctx, agentID, message.IDs(msgs[:last])); err != nil {
			return err
		}
		var runErr error
		stats, runErr = e.chain(ctx, agentID, []message.Message{msgs[last]}, o)
		return runErr
	})
	return stats, e.report(agentID, err)
}

// ContinueChaining 在不追加输入的情况下继续执行，强制开启链式续步。
func (e *Engine) ContinueChaining(ctx context.Context, agentID string, opts ...StepOption) (*UsageStatistics, error) {
	o := e.options(opts)
	o.chaining = true
	var stats *UsageStatistics
	err := e.rt.Locks.Do(agentID, func() error {
		var runErr error
		stats, runErr = e.chain(ctx, agentID, nil, o)
		return runErr
	})
	return stats, e.report(agentID, err)
}

// MemoryWarning 主动发送容量提醒并执行一次 step，让 Agent 有机会保存记忆。
func (e *Engine) MemoryWarning(ctx context.Context, agentID string, opts ...StepOption) (*UsageStatistics, error) {
	o := e.options(opts)
	var stats *UsageStatistics
	err := e.rt.Locks.Do(agentID, func() error {
		var runErr error
		warning := message.New(agentID, message.RoleSystem, memoryWarningText)
		stats, runErr = e.chain(ctx, agentID, []message.Message{warning}, o)
		return runErr
	})
	return stats, e.report(agentID, err)
}

// CoreMemory 返回渲染后的 core memory。
func (e *Engine) CoreMemory(ctx context.Context, agentID string) (string, error) {
	if _, err := e.rt.GetAgent(ctx, agentID); err != nil {
		return "", err
	}
	return e.rt.Memory.CompileCore(ctx, agentID)
}

// Trigger 以一条系统消息唤醒 Agent，供定时任务使用；不做命令校验。
func (e *Engine) Trigger(ctx context.Context, agentID, text string) error {
	o := e.options(nil)
	err := e.rt.Locks.Do(agentID, func() error {
		_, runErr := e.chain(ctx, agentID, []message.Message{message.New(agentID, message.RoleSystem, text)}, o)
		return runErr
	})
	return e.report(agentID, err)
}
