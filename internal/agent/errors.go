package agent

import "errors"

var (
	// ErrInvalidInput 表示输入为空或为 "/" 开头的命令。
	ErrInvalidInput = errors.New("invalid input")
	// ErrAgentNotFound 表示 Agent 不存在或已删除。
	ErrAgentNotFound = errors.New("agent not found")
	// ErrFatal 包装无法在 step 内恢复的错误，例如摘要无法收敛或存储数据无法解码。
	ErrFatal = errors.New("fatal agent error")
)
