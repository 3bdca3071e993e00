// Package docker 封装 Docker Engine 客户端，提供一次性、受资源限制的容器执行。
package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
)

// Client 是显式持有的 Docker Engine 客户端，由调用方负责 Close。
type Client struct {
	api *client.Client
}

// NewClient 创建客户端。使用 FromEnv 读取 DOCKER_HOST 等环境变量，并自动协商 API 版本。
func NewClient() (*Client, error) {
	api, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{api: api}, nil
}

// API 返回底层 Engine 客户端。
func (c *Client) API() *client.Client {
	return c.api
}

// Ping 检查 daemon 是否可用。
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if _, err := c.api.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}
