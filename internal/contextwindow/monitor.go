package contextwindow

import (
	"github.com/cloudwego/eino/schema"
	"github.com/mudler/xlog"

	"github.com/ClearXs/Violet/internal/message"
)

// CheckResult 为一次预算检查的结果。
type CheckResult struct {
	Overflow bool
	// Tokens 为消息与工具 schema 的 token 总数。
	Tokens int
	// Limit 为 threshold * contextWindow。
	Limit float64
	// TriggerRatio 为 Tokens / contextWindow。
	TriggerRatio float64
}

// Monitor 检查上下文是否超出 threshold * contextWindow。
type Monitor struct {
	est *Estimator
}

func NewMonitor(est *Estimator) *Monitor {
	return &Monitor{est: est}
}

func (m *Monitor) Estimator() *Estimator { return m.est }

// Check 判断 tokens(messages)+tokens(tools) 是否超过 threshold*contextWindow；
// threshold 为 1 时即严格的窗口检查。
func (m *Monitor) Check(agentID, model string, msgs []message.Message, tools []*schema.ToolInfo, contextWindow int, threshold float64) CheckResult {
	tokens := m.est.EstimateTokens(model, msgs) + m.est.CountTools(model, tools)
	res := CheckResult{
		Tokens: tokens,
		Limit:  threshold * float64(contextWindow),
	}
	if contextWindow > 0 {
		res.TriggerRatio = float64(tokens) / float64(contextWindow)
	}
	res.Overflow = float64(tokens) > res.Limit
	if res.Overflow {
		xlog.Warn("context window pressure", "agent", agentID, "tokens", tokens, "limit", res.Limit, "ratio", res.TriggerRatio)
	}
	return res
}
