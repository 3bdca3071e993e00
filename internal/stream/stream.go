// Package stream 把 Agent step 的中间事件转换为有序、可取消的事件流。
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/ClearXs/Violet/internal/agent"
	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/sandbox"
)

const DefaultBuffer = 16

type Kind string

const (
	KindStep       Kind = "step"
	KindDelta      Kind = "delta"
	KindToolResult Kind = "tool_result"
	KindMemory     Kind = "memory"
	KindSummary    Kind = "summary"
	KindWarning    Kind = "warning"

	// 终止事件，每个流恰好一个且总在最后。
	KindDone      Kind = "done"
	KindError     Kind = "error"
	KindCancelled Kind = "cancelled"
)

type Event struct {
	Kind    Kind
	AgentID string
	Step    int
	// Text 为事件的可读内容：回复文本、工具返回值或摘要。
	Text     string
	Message  *message.Message
	ToolName string
	Result   *sandbox.Result
	// Evicted 仅用于 summary。
	Evicted int
	// Usage 仅用于 done，Err 用于 error / cancelled。
	Usage *agent.UsageStatistics
	Err   error
}

func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError || e.Kind == KindCancelled
}

func fromAgent(ev agent.Event) Event {
	out := Event{
		Kind:     Kind(ev.Kind),
		AgentID:  ev.AgentID,
		Step:     ev.Step,
		Message:  ev.Message,
		ToolName: ev.ToolName,
		Result:   ev.Result,
		Evicted:  ev.Evicted,
	}
	switch {
	case ev.Result != nil:
		out.Text = ev.Result.ReturnValue
	case ev.Message != nil:
		out.Text = ev.Message.Text()
	}
	return out
}

// StepFunc 执行一次 step，并把中间事件交给 sink。
type StepFunc func(ctx context.Context, sink agent.EventSink) (*agent.UsageStatistics, error)

// Responder 以流的形式执行 step。
type Responder struct {
	engine *agent.Engine
	buffer int
}

func NewResponder(engine *agent.Engine, buffer int) *Responder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Responder{engine: engine, buffer: buffer}
}

// Stream 以流的形式执行 Engine.Step。
func (r *Responder) Stream(ctx context.Context, agentID string, input []message.Message, opts ...agent.StepOption) *Stream {
	return r.Run(ctx, agentID, func(ctx context.Context, sink agent.EventSink) (*agent.UsageStatistics, error) {
		all := append(append([]agent.StepOption{}, opts...), agent.WithEventSink(sink))
		return r.engine.Step(ctx, agentID, input, all...)
	})
}

// Run 在独立 goroutine 中执行 fn，事件经有界 channel 按序转发。
func (r *Responder) Run(ctx context.Context, agentID string, fn StepFunc) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan Event, r.buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	internal := make(chan Event, r.buffer)

	sink := func(ctx context.Context, ev agent.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case internal <- fromAgent(ev):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(internal)
		stats, err := fn(ctx, sink)
		internal <- terminal(ctx, agentID, stats, err)
	}()
	go s.forward(ctx, internal)
	return s
}

func terminal(ctx context.Context, agentID string, stats *agent.UsageStatistics, err error) Event {
	switch {
	case err == nil:
		return Event{Kind: KindDone, AgentID: agentID, Usage: stats, Text: lastReply(stats)}
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return Event{Kind: KindCancelled, AgentID: agentID, Usage: stats, Err: err}
	default:
		return Event{Kind: KindError, AgentID: agentID, Usage: stats, Err: err, Text: err.Error()}
	}
}

func lastReply(stats *agent.UsageStatistics) string {
	if stats == nil {
		return ""
	}
	return stats.LastReply()
}

// Stream 为一次 step 的事件流。终止事件总是最后一个，并且始终可以通过 Wait 取得。
type Stream struct {
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	final     Event
	closeOnce sync.Once
}

// Events 返回事件 channel，在终止事件之后关闭。
func (s *Stream) Events() <-chan Event { return s.events }

// Close 请求取消，生产者会在下一个阻塞点停止。可重复调用。
func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
}

// Wait 阻塞到 step 结束并返回终止事件。
func (s *Stream) Wait() Event {
	<-s.done
	return s.final
}

func (s *Stream) forward(ctx context.Context, internal <-chan Event) {
	defer close(s.events)
	for ev := range internal {
		if ev.Terminal() {
			s.final = ev
			close(s.done)
			s.deliver(ctx, ev)
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			// 取消后丢弃中间事件
		}
	}
	// 释放 context 资源
	s.cancel()
}

// deliver 投递终止事件。取消后清空未读事件，保证终止事件一定能写入。
func (s *Stream) deliver(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
		return
	case <-ctx.Done():
	}
	for {
		select {
		case <-s.events:
		default:
			s.events <- ev
			return
		}
	}
}
