package sandbox

import (
	"context"
	"time"

	"github.com/mudler/xlog"

	"github.com/ClearXs/Violet/internal/storage"
)

const auditTruncateLimit = 2048

// audit 在执行前写入 running 记录，执行后更新状态。审计写入失败只记录日志，不影响工具结果。
func (s *Sandbox) audit(ctx context.Context, def Definition, req Request, exec func() Result) Result {
	if s.store == nil {
		return exec()
	}

	now := time.Now().UTC()
	record := &storage.ToolExecution{
		TraceID:    TraceID(ctx),
		AgentID:    AgentID(ctx),
		Tool:       def.Name,
		Runtime:    string(def.Runtime),
		ParamsJSON: truncate(req.Args, auditTruncateLimit),
		Status:     "running",
		StartedAt:  now,
	}
	if err := s.store.InsertToolExecution(ctx, record); err != nil {
		xlog.Warn("failed to insert tool execution", "tool", def.Name, "error", err)
	}

	res := exec()

	if record.ID == 0 {
		return res
	}
	finishedAt := time.Now().UTC()
	status := string(res.Status)
	durationMS := res.Duration.Milliseconds()
	update := storage.ToolExecutionUpdate{
		Status:     &status,
		DurationMS: &durationMS,
		FinishedAt: &finishedAt,
	}
	if res.OK() {
		r := truncate(res.ReturnValue, auditTruncateLimit)
		update.ResultJSON = &r
	} else {
		msg := res.ReturnValue
		if res.Err != nil {
			msg = res.Err.Error()
		}
		if res.Stderr != "" {
			msg += "\n" + res.Stderr
		}
		e := truncate(msg, auditTruncateLimit)
		update.ErrorMessage = &e
	}
	// ctx 可能已超时，更新使用独立的 context
	upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateToolExecution(upCtx, record.ID, update); err != nil {
		xlog.Warn("failed to update tool execution", "id", record.ID, "error", err)
	}
	return res
}
