// Package ui 定义对话界面与后端之间的约定，并提供控制台实现。
package ui

import (
	"context"

	"github.com/ClearXs/Violet/internal/stream"
)

// ChatBackend 处理一行用户输入，可以是普通文本或斜杠命令。
type ChatBackend interface {
	Submit(ctx context.Context, line string) (Reply, error)
}

// Reply 为一次输入的结果。Stream 非空时由界面消费事件，否则 Text 为命令的直接输出。
type Reply struct {
	Stream *stream.Stream
	Text   string
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	AgentName string
	// ShowTools 为 true 时展示工具调用结果和内部事件。
	ShowTools bool
}
