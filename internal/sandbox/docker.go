package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ClearXs/Violet/internal/docker"
)

// ArgsEnv 为容器内读取工具参数的环境变量名。
const ArgsEnv = "VIOLET_TOOL_ARGS"

type dockerRunner struct {
	client *docker.Client
	limits DockerLimits
}

// run 在一次性容器中执行工具：无网络，受内存、CPU、进程数限制。
func (r dockerRunner) run(ctx context.Context, def Definition, req Request) Result {
	if r.client == nil {
		return errorResult(errors.New("docker runtime unavailable"), fmt.Sprintf("tool %q requires docker, which is not configured", def.Name))
	}
	image := def.Image
	if image == "" {
		image = r.limits.Image
	}
	if _, err := r.client.EnsureImage(ctx, image, ""); err != nil {
		return errorResult(fmt.Errorf("%w: %w", ErrToolFailed, err), fmt.Sprintf("tool %q image %s unavailable", def.Name, image))
	}

	env := mergeEnv(def.Env, req.Env, []string{ArgsEnv + "=" + req.Args})
	out, err := r.client.RunContainer(ctx, docker.RunOptions{
		Image:           image,
		Cmd:             def.Command,
		Env:             env,
		MemoryBytes:     r.limits.MemoryBytes,
		NanoCPUs:        r.limits.NanoCPUs,
		PidsLimit:       r.limits.PidsLimit,
		NetworkDisabled: true,
	})
	if out == nil {
		return errorResult(fmt.Errorf("%w: %w", ErrToolFailed, err), fmt.Sprintf("tool %q container failed", def.Name))
	}

	res := Result{
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Duration: out.Duration,
	}
	switch {
	case out.TimedOut || ctx.Err() != nil:
		res.Status = StatusError
		res.Err = ctx.Err()
	case err != nil:
		res.Status = StatusError
		res.ReturnValue = fmt.Sprintf("tool %q container failed", def.Name)
		res.Err = fmt.Errorf("%w: %w", ErrToolFailed, err)
	case out.ExitCode != 0:
		res.Status = StatusError
		res.ReturnValue = fmt.Sprintf("tool %q exited with status %d", def.Name, out.ExitCode)
		res.Err = fmt.Errorf("%w: exit status %d", ErrToolFailed, out.ExitCode)
	default:
		res.Status = StatusSuccess
		res.ReturnValue = strings.TrimSpace(out.Stdout)
	}
	return res
}
