// Package agent 实现 Agent 的 step 状态机：预算检查与压缩、模型调用、工具与记忆分发以及链式续步。
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/mudler/xlog"

	"github.com/ClearXs/Violet/internal/contextwindow"
	"github.com/ClearXs/Violet/internal/llm"
	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/sandbox"
	"github.com/ClearXs/Violet/internal/storage"
)

// EventKind 标识 Event 的类型。
type EventKind string

const (
	EventStep       EventKind = "step"
	EventDelta      EventKind = "delta"
	EventToolResult EventKind = "tool_result"
	EventMemory     EventKind = "memory"
	EventSummary    EventKind = "summary"
	EventWarning    EventKind = "warning"
)

// Event 为 step 过程中产生的中间结果。
type Event struct {
	Kind    EventKind
	AgentID string
	Step    int
	// Message 为本事件对应的消息（delta / tool_result / memory / warning / summary）。
	Message  *message.Message
	ToolName string
	Result   *sandbox.Result
	// Evicted / Tokens 仅用于 summary。
	Evicted int
	Tokens  int
}

// EventSink 接收事件。返回错误会中止当前 step。
type EventSink func(ctx context.Context, ev Event) error

// StepUsage 为单轮模型调用的 token 用量。
type StepUsage struct {
	Step             int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// UsageStatistics 汇总一次 Step 的 token 用量与生成的消息。
type UsageStatistics struct {
	Steps            []StepUsage
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// StepCount 为实际发生的模型调用轮数。
	StepCount int
	// Messages 为本次生成的消息（assistant / tool / 提醒），不含输入。
	Messages []message.Message
}

func (u *UsageStatistics) add(step int, usage llm.Usage) {
	u.Steps = append(u.Steps, StepUsage{
		Step:             step,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	})
	u.PromptTokens += usage.PromptTokens
	u.CompletionTokens += usage.CompletionTokens
	u.TotalTokens += usage.TotalTokens
	u.StepCount++
}

// LastReply 返回最后一条带文本的 assistant 消息。
func (u *UsageStatistics) LastReply() string {
	for i := len(u.Messages) - 1; i >= 0; i-- {
		m := u.Messages[i]
		if m.Role == message.RoleAssistant && strings.TrimSpace(m.Text()) != "" {
			return m.Text()
		}
	}
	return ""
}

type stepOptions struct {
	chaining      bool
	maxSteps      int
	forceResponse bool
	extra         []message.Message
	sink          EventSink
}

type StepOption func(*stepOptions)

// WithChaining 覆盖是否在工具调用后继续下一轮。
func WithChaining(on bool) StepOption {
	return func(o *stepOptions) { o.chaining = on }
}

// WithMaxChainingSteps 限制模型调用轮数，<=0 表示不限制。
func WithMaxChainingSteps(n int) StepOption {
	return func(o *stepOptions) { o.maxSteps = n }
}

// WithForceResponse 要求 step 以文本回复结束：工具调用后继续，最后一轮禁止调用工具。
func WithForceResponse() StepOption {
	return func(o *stepOptions) { o.forceResponse = true }
}

// WithExtraMessages 在输入之后追加消息。
func WithExtraMessages(msgs ...message.Message) StepOption {
	return func(o *stepOptions) { o.extra = append(o.extra, msgs...) }
}

func WithEventSink(sink EventSink) StepOption {
	return func(o *stepOptions) { o.sink = sink }
}

// Engine 驱动 Agent 的 step。同一 Agent 的 step 串行执行，不同 Agent 互不阻塞。
type Engine struct {
	rt   *Runtime
	tmpl prompt.ChatTemplate

	mu sync.Mutex
	// warned 记录已发送过容量提醒、尚未回落到阈值以下的 Agent。
	warned map[string]bool
}

func NewEngine(rt *Runtime) *Engine {
	return &Engine{
		rt:     rt,
		tmpl:   NewChatTemplate(),
		warned: make(map[string]bool),
	}
}

func (e *Engine) Runtime() *Runtime { return e.rt }

func (e *Engine) options(opts []StepOption) stepOptions {
	o := stepOptions{
		chaining: e.rt.Settings.Chaining,
		maxSteps: e.rt.Settings.MaxChainingSteps,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Step 处理一组输入消息，持有 Agent 锁直到整条链结束。
func (e *Engine) Step(ctx context.Context, agentID string, input []message.Message, opts ...StepOption) (*UsageStatistics, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	o := e.options(opts)
	var stats *UsageStatistics
	err := e.rt.Locks.Do(agentID, func() error {
		var runErr error
		stats, runErr = e.chain(ctx, agentID, input, o)
		return runErr
	})
	return stats, e.report(agentID, err)
}

func (e *Engine) report(agentID string, err error) error {
	if errors.Is(err, ErrFatal) {
		xlog.Error("agent step failed", "agent", agentID, "error", err)
	}
	return err
}

func validateInput(input []message.Message) error {
	if len(input) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidInput)
	}
	for _, m := range input {
		if m.Role != message.RoleUser {
			continue
		}
		text := strings.TrimSpace(m.Render())
		if text == "" {
			return fmt.Errorf("%w: empty message", ErrInvalidInput)
		}
		if strings.HasPrefix(text, "/") {
			return fmt.Errorf("%w: commands are not messages: %s", ErrInvalidInput, strings.Fields(text)[0])
		}
	}
	return nil
}

// run 为单次 step 的可变状态，只在持有 Agent 锁时使用。
type run struct {
	agent *storage.Agent
	model llm.ModelConfig
	inCtx []message.Message
	opts  stepOptions
	stats *UsageStatistics
}

func (e *Engine) chain(ctx context.Context, agentID string, input []message.Message, o stepOptions) (*UsageStatistics, error) {
	ctx = stepContext(ctx, agentID)
	row, err := e.rt.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	inCtx, err := e.rt.loadInContext(ctx, row)
	if err != nil {
		return nil, err
	}
	r := &run{
		agent: row,
		model: e.rt.modelFor(row),
		inCtx: inCtx,
		opts:  o,
		stats: &UsageStatistics{},
	}

	incoming := make([]message.Message, 0, len(input)+len(o.extra))
	incoming = append(incoming, input...)
	incoming = append(incoming, o.extra...)
	if err := e.commit(ctx, r, false, stamp(agentID, incoming)...); err != nil {
		return r.stats, err
	}

	overflowRetried := false
	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return r.stats, err
		}
		if err := e.emit(ctx, r, Event{Kind: EventStep, Step: step}); err != nil {
			return r.stats, err
		}

		tools := e.rt.tools()
		system, err := compileSystemPrompt(ctx, e.tmpl, e.rt.Memory, agentID, row.SystemPrompt)
		if err != nil {
			return r.stats, err
		}
		if err := e.ensureBudget(ctx, r, step, system, tools); err != nil {
			return r.stats, err
		}

		lastStep := o.maxSteps > 0 && step >= o.maxSteps
		choice := llm.ToolChoiceAuto
		if o.forceResponse && lastStep {
			choice = llm.ToolChoiceNone
		}
		resp, err := e.rt.LLM.Complete(ctx, llm.Request{
			Messages:   toSchema(withSystem(agentID, system, r.inCtx)),
			Tools:      tools,
			ToolChoice: choice,
			Model:      r.model,
		})
		if errors.Is(err, llm.ErrContextTooLarge) && !overflowRetried {
			// 估算偏低时由服务端兜底：压缩一次后重试，失败的一轮计入链式步数
			overflowRetried = true
			xlog.Warn("provider rejected context, summarizing", "agent", agentID, "step", step)
			if serr := e.summarize(ctx, r, step); serr != nil {
				return r.stats, serr
			}
			if !lastStep {
				continue
			}
		}
		if err != nil {
			return r.stats, fmt.Errorf("step %d: %w", step, err)
		}
		overflowRetried = false
		r.stats.add(step, resp.Usage)

		reply := message.FromSchema(agentID, resp.Message)
		reply.Role = message.RoleAssistant
		if err := e.commit(ctx, r, true, reply); err != nil {
			return r.stats, err
		}
		emitErr := e.emit(ctx, r, Event{Kind: EventDelta, Step: step, Message: &reply})
		results, toolErr := e.runTools(ctx, r, step, reply.ToolCalls, emitErr)
		// 每个 tool call 都必须有对应结果，取消后也要写入
		if err := e.commit(context.WithoutCancel(ctx), r, true, results...); err != nil {
			return r.stats, err
		}
		if toolErr != nil {
			return r.stats, toolErr
		}

		heartbeatOff := len(reply.ToolCalls) > 0
		for _, call := range reply.ToolCalls {
			if on, set := requestHeartbeat(call.Function.Arguments); !set || on {
				heartbeatOff = false
			}
		}

		switch {
		case len(reply.ToolCalls) == 0:
			return r.stats, nil
		case lastStep:
			return r.stats, nil
		case o.forceResponse:
			if strings.TrimSpace(reply.Text()) != "" {
				return r.stats, nil
			}
		case !o.chaining:
			return r.stats, nil
		case heartbeatOff:
			return r.stats, nil
		}
	}
}

// ensureBudget 在调用模型前检查上下文压力，必要时发送提醒或压缩。
func (e *Engine) ensureBudget(ctx context.Context, r *run, step int, system string, tools []*schema.ToolInfo) error {
	agentID := r.agent.ID
	settings := e.rt.Settings
	cw := r.model.ContextWindow

	check := e.rt.Monitor.Check(agentID, r.model.Name, withSystem(agentID, system, r.inCtx), tools, cw, settings.WarningThreshold)
	if !check.Overflow {
		e.setWarned(agentID, false)
		return nil
	}
	if !settings.SendMemoryWarning {
		return e.summarize(ctx, r, step)
	}

	if !e.setWarned(agentID, true) {
		warning := message.New(agentID, message.RoleSystem, memoryWarningText)
		if err := e.commit(ctx, r, true, warning); err != nil {
			return err
		}
		if err := e.emit(ctx, r, Event{Kind: EventWarning, Step: step, Message: &warning, Tokens: check.Tokens}); err != nil {
			return err
		}
	}
	strict := e.rt.Monitor.Check(agentID, r.model.Name, withSystem(agentID, system, r.inCtx), tools, cw, 1)
	if !strict.Overflow {
		return nil
	}
	return e.summarize(ctx, r, step)
}

// setWarned 设置提醒状态并返回之前的值。
func (e *Engine) setWarned(agentID string, v bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.warned[agentID]
	if v {
		e.warned[agentID] = true
	} else {
		delete(e.warned, agentID)
	}
	return prev
}

// summarize 压缩上下文。被淘汰的消息由摘要器先写入 recall，再更新上下文 ID 列表。
func (e *Engine) summarize(ctx context.Context, r *run, step int) error {
	req := contextwindow.SummarizeRequest{
		AgentID:        r.agent.ID,
		Model:          r.model.Name,
		Messages:       r.inCtx,
		ContextWindow:  r.model.ContextWindow,
		TargetPressure: e.rt.Settings.TargetPressure,
		KeepLastN:      r.agent.KeepLastN,
	}
	if r.agent.EvictAll {
		evictAll := true
		req.EvictAll = &evictAll
	}
	res, err := e.rt.Summarizer.Summarize(ctx, req)
	if err != nil {
		if errors.Is(err, contextwindow.ErrSummarizerNotConverging) {
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
		return fmt.Errorf("summarize: %w", err)
	}
	if err := e.rt.Store.SetInContextMessageIDs(ctx, r.agent.ID, message.IDs(res.Remaining)); err != nil {
		return err
	}
	r.inCtx = res.Remaining
	e.setWarned(r.agent.ID, false)
	xlog.Info("context summarized", "agent", r.agent.ID, "evicted", len(res.Evicted), "tokens", res.Tokens)

	summary := res.Summary
	return e.emit(ctx, r, Event{Kind: EventSummary, Step: step, Message: &summary, Evicted: len(res.Evicted), Tokens: res.Tokens})
}

// runTools 依次执行 reply 中的工具调用，为每个调用返回一条 tool 消息。
// 出现 abort 或执行中途被取消后，剩余调用直接记为中止结果。
func (e *Engine) runTools(ctx context.Context, r *run, step int, calls []schema.ToolCall, abort error) ([]message.Message, error) {
	out := make([]message.Message, 0, len(calls))
	err := abort
	for _, call := range calls {
		if err != nil {
			out = append(out, abortedResult(r.agent.ID, call, err))
			continue
		}
		var msg message.Message
		msg, err = e.invokeTool(ctx, r, step, call)
		out = append(out, msg)
	}
	return out, err
}

func abortedResult(agentID string, call schema.ToolCall, cause error) message.Message {
	res := sandbox.Result{
		Status:      sandbox.StatusError,
		ReturnValue: fmt.Sprintf("tool call aborted: %v", cause),
		Err:         cause,
	}
	return message.NewToolResult(agentID, call.ID, call.Function.Name, res.Content())
}

// invokeTool 执行一个工具调用并返回 tool 消息。工具失败不会中止 step；
// 返回错误时消息仍然有效，可以直接写入上下文。
func (e *Engine) invokeTool(ctx context.Context, r *run, step int, call schema.ToolCall) (message.Message, error) {
	name := call.Function.Name
	var (
		res  sandbox.Result
		kind EventKind
	)
	if name == MemoryWriteTool {
		res = e.dispatchMemory(ctx, r.agent.ID, call.Function.Arguments)
		kind = EventMemory
	} else {
		res = e.rt.Sandbox.Run(ctx, sandbox.Request{Tool: name, Args: call.Function.Arguments})
		kind = EventToolResult
	}
	if err := ctx.Err(); err != nil {
		return abortedResult(r.agent.ID, call, err), err
	}

	msg := message.NewToolResult(r.agent.ID, call.ID, name, res.Content())
	if err := e.emit(ctx, r, Event{Kind: kind, Step: step, Message: &msg, ToolName: name, Result: &res}); err != nil {
		return msg, err
	}
	return msg, nil
}

func (e *Engine) dispatchMemory(ctx context.Context, agentID, args string) sandbox.Result {
	start := time.Now()
	v, req, err := parseMemoryWrite(agentID, args)
	if err != nil {
		return sandbox.Result{Status: sandbox.StatusError, ReturnValue: err.Error(), Err: err, Duration: time.Since(start)}
	}
	target, ok := e.rt.Agents[v]
	if !ok {
		err := fmt.Errorf("no memory agent registered for %s", v)
		return sandbox.Result{Status: sandbox.StatusError, ReturnValue: err.Error(), Err: err, Duration: time.Since(start)}
	}
	out, err := target.Absorb(ctx, req)
	if err != nil {
		xlog.Warn("memory write failed", "agent", agentID, "variant", v, "error", err)
		return sandbox.Result{Status: sandbox.StatusError, ReturnValue: err.Error(), Err: err, Duration: time.Since(start)}
	}
	return sandbox.Result{Status: sandbox.StatusSuccess, ReturnValue: out.Summary(), Duration: time.Since(start)}
}

// commit 先把消息写入 recall，再更新上下文 ID 列表。generated 为 true 的消息计入统计。
func (e *Engine) commit(ctx context.Context, r *run, generated bool, msgs ...message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := e.rt.Memory.Append(ctx, r.agent.ID, msgs...); err != nil {
		return fmt.Errorf("persist messages: %w", err)
	}
	next := make([]message.Message, 0, len(r.inCtx)+len(msgs))
	next = append(next, r.inCtx...)
	next = append(next, msgs...)
	if err := e.rt.Store.SetInContextMessageIDs(ctx, r.agent.ID, message.IDs(next)); err != nil {
		return err
	}
	r.inCtx = next
	if generated {
		r.stats.Messages = append(r.stats.Messages, msgs...)
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, r *run, ev Event) error {
	if r.opts.sink == nil {
		return nil
	}
	ev.AgentID = r.agent.ID
	return r.opts.sink(ctx, ev)
}

// stamp 补齐输入消息的 ID、AgentID 与时间。
func stamp(agentID string, msgs []message.Message) []message.Message {
	out := make([]message.Message, len(msgs))
	now := time.Now().UTC()
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = message.NewID()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.AgentID = agentID
		out[i] = m
	}
	return out
}

// withSystem 用编译后的系统提示词替换上下文开头的系统消息。
func withSystem(agentID, system string, inCtx []message.Message) []message.Message {
	out := make([]message.Message, 0, len(inCtx)+1)
	if len(inCtx) > 0 && inCtx[0].Role == message.RoleSystem {
		head := inCtx[0]
		// 编译后的内容随核心记忆变化，不沿用持久化消息的 ID
		head.ID = ""
		head.Parts = []message.Part{message.TextPart{Text: system}}
		out = append(out, head)
		return append(out, inCtx[1:]...)
	}
	out = append(out, message.New(agentID, message.RoleSystem, system))
	return append(out, inCtx...)
}

func toSchema(msgs []message.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToSchema())
	}
	return out
}
