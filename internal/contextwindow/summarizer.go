package contextwindow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mudler/xlog"

	"github.com/ClearXs/Violet/internal/message"
)

// ErrSummarizerNotConverging 表示多轮压缩后仍无法把上下文降到目标压力以下。
var ErrSummarizerNotConverging = errors.New("summarizer did not converge")

// SummaryModel 把对话转写文本压缩为一段摘要。
type SummaryModel interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Recall 是摘要器写入被淘汰消息所需的 recall 能力。
type Recall interface {
	Append(ctx context.Context, agentID string, msgs ...message.Message) error
	Count(ctx context.Context, agentID string) (int64, error)
}

type SummarizerConfig struct {
	// MaxRetries 为压缩轮数上限。
	MaxRetries int
	// KeepLastN 为摘要时保留的最近消息数；EvictAll 为 true 时忽略。
	KeepLastN int
	EvictAll  bool
	// ShrinkFactor 为每轮收缩保留后缀时额外乘的系数。
	ShrinkFactor float64
	// TranscriptThreshold 为转写文本本身允许占用的窗口比例，超出时先递归压缩前缀。
	TranscriptThreshold float64
}

func (c SummarizerConfig) withDefaults() SummarizerConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.KeepLastN < 0 {
		c.KeepLastN = 0
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		c.ShrinkFactor = 0.8
	}
	if c.TranscriptThreshold <= 0 {
		c.TranscriptThreshold = 0.75
	}
	return c
}

// SummarizeRequest 描述一次压缩。
type SummarizeRequest struct {
	AgentID string
	Model   string
	// Messages 为当前上下文中的消息，按时间顺序。
	Messages      []message.Message
	ContextWindow int
	// TargetPressure 为压缩后消息占窗口的最大比例。
	TargetPressure float64
	// KeepLastN/EvictAll 非 nil 时覆盖配置。
	KeepLastN *int
	EvictAll  *bool
}

// SummarizeResult 为压缩结果。Remaining 为新的上下文消息（包含摘要消息）。
type SummarizeResult struct {
	Summary   message.Message
	Evicted   []message.Message
	Remaining []message.Message
	Tokens    int
}

type Summarizer struct {
	cfg    SummarizerConfig
	est    *Estimator
	model  SummaryModel
	recall Recall
}

func NewSummarizer(cfg SummarizerConfig, est *Estimator, model SummaryModel, recall Recall) (*Summarizer, error) {
	if est == nil || model == nil || recall == nil {
		return nil, errors.New("summarizer requires estimator, model and recall")
	}
	return &Summarizer{cfg: cfg.withDefaults(), est: est, model: model, recall: recall}, nil
}

func (s *Summarizer) Config() SummarizerConfig { return s.cfg }

// Summarize 用一条摘要消息替换最早的一段非 system 消息，使剩余 token 不超过
// TargetPressure * ContextWindow。被淘汰的消息在返回前已写入 recall。
func (s *Summarizer) Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResult, error) {
	budget := req.TargetPressure * float64(req.ContextWindow)
	if budget <= 0 {
		return SummarizeResult{}, fmt.Errorf("invalid summarize budget: pressure %.2f window %d", req.TargetPressure, req.ContextWindow)
	}

	head, rest := splitSystemHead(req.Messages)
	keep := s.cfg.KeepLastN
	if req.KeepLastN != nil {
		keep = *req.KeepLastN
	}
	evictAll := s.cfg.EvictAll
	if req.EvictAll != nil {
		evictAll = *req.EvictAll
	}
	if evictAll {
		keep = 0
	}

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return SummarizeResult{}, err
		}
		if keep > len(rest) {
			keep = len(rest)
		}
		cut := pairBoundary(rest, len(rest)-keep)
		keep = len(rest) - cut
		if cut == 0 {
			if keep == 0 {
				break
			}
			keep--
			continue
		}
		prefix, suffix := rest[:cut], rest[cut:]

		text, err := s.summarizeRecursive(ctx, req, prefix)
		if err != nil {
			return SummarizeResult{}, err
		}
		total, err := s.recall.Count(ctx, req.AgentID)
		if err != nil {
			return SummarizeResult{}, fmt.Errorf("count recall: %w", err)
		}
		summary := summaryMessage(req.AgentID, text, len(prefix), total)

		remaining := make([]message.Message, 0, len(head)+1+len(suffix))
		remaining = append(remaining, head...)
		remaining = append(remaining, summary)
		remaining = append(remaining, suffix...)
		tokens := s.est.EstimateTokens(req.Model, remaining)

		if float64(tokens) <= budget {
			// 先持久化，再从上下文中淘汰
			persist := make([]message.Message, 0, len(prefix)+1)
			persist = append(persist, prefix...)
			persist = append(persist, summary)
			if err := s.recall.Append(ctx, req.AgentID, persist...); err != nil {
				return SummarizeResult{}, fmt.Errorf("persist evicted messages: %w", err)
			}
			xlog.Info("context summarized", "agent", req.AgentID, "evicted", len(prefix), "tokens", tokens, "budget", budget, "attempt", attempt)
			return SummarizeResult{Summary: summary, Evicted: prefix, Remaining: remaining, Tokens: tokens}, nil
		}

		next := int(float64(keep) * s.cfg.ShrinkFactor * budget / float64(tokens))
		if next >= keep && keep > 0 {
			next = keep - 1
		}
		xlog.Debug("summary over budget, shrinking kept suffix", "agent", req.AgentID, "tokens", tokens, "budget", budget, "keep", keep, "next", next)
		keep = next
	}
	return SummarizeResult{}, fmt.Errorf("%w: agent %s after %d attempts", ErrSummarizerNotConverging, req.AgentID, s.cfg.MaxRetries)
}

// summarizeRecursive 在转写文本本身超出窗口阈值时，先压缩一段更短的前缀。
func (s *Summarizer) summarizeRecursive(ctx context.Context, req SummarizeRequest, msgs []message.Message) (string, error) {
	transcript := message.Transcript(msgs)
	limit := s.cfg.TranscriptThreshold * float64(req.ContextWindow)
	tokens := s.est.CountText(req.Model, transcript)

	for float64(tokens) > limit && len(msgs) > 2 {
		cut := int(float64(len(msgs)) * limit / float64(tokens) * s.cfg.ShrinkFactor)
		if cut < 2 {
			cut = 2
		}
		if cut >= len(msgs) {
			cut = len(msgs) - 1
		}
		inner, err := s.summarizeRecursive(ctx, req, msgs[:cut])
		if err != nil {
			return "", err
		}
		folded := make([]message.Message, 0, len(msgs)-cut+1)
		folded = append(folded, message.Message{Role: message.RoleAssistant, Parts: []message.Part{message.TextPart{Text: inner}}})
		msgs = append(folded, msgs[cut:]...)
		transcript = message.Transcript(msgs)
		tokens = s.est.CountText(req.Model, transcript)
	}
	if float64(tokens) > limit {
		transcript = tailBytes(transcript, int(limit*lookupFamily(req.Model).bytesPerToken))
	}

	out, err := s.model.Summarize(ctx, transcript)
	if err != nil {
		return "", fmt.Errorf("summarize messages: %w", err)
	}
	return out, nil
}

// pairBoundary 把切分点后移越过开头的 tool 消息，使 tool 结果与发起它的 assistant 消息一起淘汰。
func pairBoundary(msgs []message.Message, cut int) int {
	for cut > 0 && cut < len(msgs) && msgs[cut].Role == message.RoleTool {
		cut++
	}
	return cut
}

func splitSystemHead(msgs []message.Message) (head, rest []message.Message) {
	i := 0
	for i < len(msgs) && msgs[i].Role == message.RoleSystem {
		i++
	}
	return msgs[:i], msgs[i:]
}

func summaryMessage(agentID, summary string, evicted int, total int64) message.Message {
	text := fmt.Sprintf(
		"Note: %d prior messages (of %d total messages in recall memory) have been hidden from view due to conversation memory constraints.\nThe following is a summary of the previous %d messages:\n%s",
		evicted, total, evicted, summary)
	return message.New(agentID, message.RoleUser, text)
}

func tailBytes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s[len(s)-n:])
	// 丢弃可能被截断的首个字符
	if len(r) > 1 {
		r = r[1:]
	}
	return string(r)
}
