package llm

import (
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// SanitizeToolCalls 返回一份副本，其中 assistant 消息里非法的工具调用参数被替换为 "{}"。
// 部分服务端会因历史消息中的非法 JSON 拒绝整个请求。输入不会被修改。
func SanitizeToolCalls(input []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, len(input))
	for i, m := range input {
		out[i] = m
		if m == nil || m.Role != schema.Assistant || !hasBrokenArgs(m.ToolCalls) {
			continue
		}
		fixed := *m
		fixed.ToolCalls = make([]schema.ToolCall, len(m.ToolCalls))
		for j, call := range m.ToolCalls {
			if !validArgs(call.Function.Arguments) {
				call.Function.Arguments = "{}"
			}
			fixed.ToolCalls[j] = call
		}
		out[i] = &fixed
	}
	return out
}

func hasBrokenArgs(calls []schema.ToolCall) bool {
	for _, c := range calls {
		if !validArgs(c.Function.Arguments) {
			return true
		}
	}
	return false
}

func validArgs(args string) bool {
	args = strings.TrimSpace(args)
	return args != "" && args != "null" && json.Valid([]byte(args))
}
