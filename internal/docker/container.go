package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

const defaultMaxOutputBytes = 64 * 1024

// RunOptions 描述一次性容器执行。
type RunOptions struct {
	Image      string
	Cmd        []string
	Env        []string
	WorkingDir string
	// Name 为可选容器名。
	Name string
	// MemoryBytes / NanoCPUs / PidsLimit 为资源上限，<=0 表示不限制。
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	// NetworkDisabled 为 true 时容器没有网络。
	NetworkDisabled bool
	// Platform 形如 linux/amd64，可选。
	Platform string
	// MaxOutputBytes 限制 stdout/stderr 各自保留的字节数（保留末尾）。
	MaxOutputBytes int
}

type RunResult struct {
	ContainerID string
	ExitCode    int64
	Stdout      string
	Stderr      string
	// TimedOut 表示 ctx 结束时容器仍在运行并被强制终止。
	TimedOut bool
	Duration time.Duration
}

// RunContainer 创建并启动容器，等待其退出后收集输出并删除容器。
// ctx 结束时容器会被 kill，返回的错误为 ctx.Err()，同时 RunResult 中带有已产生的输出。
func (c *Client) RunContainer(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if c == nil || c.api == nil {
		return nil, errors.New("docker client not initialized")
	}
	if strings.TrimSpace(opts.Image) == "" {
		return nil, errors.New("image is required")
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   opts.MemoryBytes,
			NanoCPUs: opts.NanoCPUs,
		},
	}
	if opts.PidsLimit > 0 {
		pids := opts.PidsLimit
		hostCfg.Resources.PidsLimit = &pids
	}
	if opts.NetworkDisabled {
		hostCfg.NetworkMode = "none"
	}

	start := time.Now()
	resp, err := c.api.ContainerCreate(ctx,
		&container.Config{
			Image:           opts.Image,
			Cmd:             opts.Cmd,
			Env:             opts.Env,
			WorkingDir:      opts.WorkingDir,
			NetworkDisabled: opts.NetworkDisabled,
			Tty:             false,
		},
		hostCfg,
		&network.NetworkingConfig{},
		parsePlatform(opts.Platform),
		opts.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	id := resp.ID
	res := &RunResult{ContainerID: id}

	// 删除与收集输出使用独立的 context，ctx 超时后仍需清理
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.api.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true})
	}()

	if err := c.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container %s: %w", shortID(id), err)
	}

	statusCh, errCh := c.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var runErr error
	select {
	case st := <-statusCh:
		res.ExitCode = st.StatusCode
		if st.Error != nil && st.Error.Message != "" {
			runErr = fmt.Errorf("container %s wait: %s", shortID(id), st.Error.Message)
		}
	case err := <-errCh:
		if ctx.Err() != nil {
			res.TimedOut = true
			runErr = ctx.Err()
		} else {
			runErr = fmt.Errorf("failed to wait container %s: %w", shortID(id), err)
		}
	case <-ctx.Done():
		res.TimedOut = true
		runErr = ctx.Err()
	}
	if res.TimedOut {
		killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.api.ContainerKill(killCtx, id, "KILL")
		cancel()
		res.ExitCode = -1
	}
	res.Duration = time.Since(start)

	logCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stdout, stderr, err := c.collectOutput(logCtx, id, opts.MaxOutputBytes)
	if err == nil {
		res.Stdout, res.Stderr = stdout, stderr
	} else if runErr == nil {
		runErr = err
	}
	return res, runErr
}

func parsePlatform(p string) *v1.Platform {
	p = strings.TrimSpace(p)
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	out := &v1.Platform{OS: parts[0]}
	if len(parts) > 1 {
		out.Architecture = parts[1]
	}
	if len(parts) > 2 {
		out.Variant = parts[2]
	}
	return out
}
