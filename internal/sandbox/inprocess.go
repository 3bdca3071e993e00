package sandbox

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

type inProcessRunner struct{}

// run 在独立 goroutine 中执行工具。超时后立即返回，未响应 ctx 的工具 goroutine 会在结束后被丢弃。
func (inProcessRunner) run(ctx context.Context, def Definition, req Request) Result {
	start := time.Now()
	done := make(chan Result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Result{
					Status:      StatusError,
					ReturnValue: fmt.Sprintf("tool %q panicked: %v", def.Name, p),
					Stderr:      string(debug.Stack()),
					Err:         fmt.Errorf("%w: %v", ErrToolPanicked, p),
				}
			}
		}()
		out, err := def.Tool.InvokableRun(ctx, req.Args)
		if err != nil {
			done <- Result{
				Status:      StatusError,
				ReturnValue: err.Error(),
				Err:         fmt.Errorf("%w: %w", ErrToolFailed, err),
			}
			return
		}
		done <- Result{Status: StatusSuccess, ReturnValue: out}
	}()

	select {
	case res := <-done:
		res.Duration = time.Since(start)
		return res
	case <-ctx.Done():
		return Result{
			Status:   StatusError,
			Err:      ctx.Err(),
			Duration: time.Since(start),
		}
	}
}
