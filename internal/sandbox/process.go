package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

type processRunner struct{}

// run 以子进程执行工具：参数经 stdin 传入，stdout 作为返回值。超时由 CommandContext 发送 kill。
func (processRunner) run(ctx context.Context, def Definition, req Request) Result {
	start := time.Now()
	cmd := exec.CommandContext(ctx, def.Command[0], def.Command[1:]...)
	cmd.Env = mergeEnv(os.Environ(), def.Env, req.Env)
	cmd.Stdin = strings.NewReader(req.Args)
	// 子进程派生的后代可能持有管道，限制 kill 之后的等待时间
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		res.Status = StatusError
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ReturnValue = fmt.Sprintf("tool %q exited with status %d", def.Name, exitErr.ExitCode())
		} else {
			res.ReturnValue = fmt.Sprintf("tool %q failed to start", def.Name)
		}
		res.Err = fmt.Errorf("%w: %w", ErrToolFailed, err)
		return res
	}
	res.Status = StatusSuccess
	res.ReturnValue = strings.TrimSpace(res.Stdout)
	return res
}

// mergeEnv 合并环境变量，后出现的同名变量覆盖前者。
func mergeEnv(layers ...[]string) []string {
	index := make(map[string]int)
	var out []string
	for _, layer := range layers {
		for _, kv := range layer {
			key, _, _ := strings.Cut(kv, "=")
			if i, ok := index[key]; ok {
				out[i] = kv
				continue
			}
			index[key] = len(out)
			out = append(out, kv)
		}
	}
	return out
}
