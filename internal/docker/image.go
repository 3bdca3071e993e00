package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/containerd/containerd/errdefs"
	"github.com/docker/docker/api/types/image"
)

// EnsureImage 确保本地存在镜像，不存在时拉取。返回是否发生了拉取。
func (c *Client) EnsureImage(ctx context.Context, ref, platform string) (bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false, fmt.Errorf("image ref is required")
	}

	if _, err := c.api.ImageInspect(ctx, ref); err == nil {
		return false, nil
	} else if !errdefs.IsNotFound(err) {
		return false, fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	pullOpts := image.PullOptions{}
	if p := strings.TrimSpace(platform); p != "" {
		pullOpts.Platform = p
	}
	reader, err := c.api.ImagePull(ctx, ref, pullOpts)
	if err != nil {
		return false, fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// 拉取进度流必须读完，拉取才算完成
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return false, fmt.Errorf("failed to read image pull output: %w", err)
	}
	return true, nil
}
