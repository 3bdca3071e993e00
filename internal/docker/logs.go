package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// collectOutput 读取容器全部输出并拆分 stdout / stderr。容器必须以非 TTY 模式创建。
func (c *Client) collectOutput(ctx context.Context, containerID string, maxBytes int) (string, string, error) {
	reader, err := c.api.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to get logs for %s: %w", shortID(containerID), err)
	}
	defer reader.Close()

	var outBuf, errBuf strings.Builder
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, reader); err != nil {
		return "", "", fmt.Errorf("stdcopy failed (container might be using TTY): %w", err)
	}
	return keepTail(outBuf.String(), maxBytes), keepTail(errBuf.String(), maxBytes), nil
}
