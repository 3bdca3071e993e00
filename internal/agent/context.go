package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/ClearXs/Violet/internal/sandbox"
)

// WithTraceID 将 TraceID 注入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return sandbox.WithTraceID(ctx, traceID)
}

// GetTraceID 从 context 获取 TraceID
func GetTraceID(ctx context.Context) string {
	return sandbox.TraceID(ctx)
}

// stepContext 为一次 step 注入 AgentID，并在调用方未提供时生成 TraceID。
func stepContext(ctx context.Context, agentID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, "trace-"+uuid.NewString())
	}
	return sandbox.WithAgentID(ctx, agentID)
}
