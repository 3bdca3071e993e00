package cli

import (
	"context"
	"fmt"

	"github.com/ClearXs/Violet/internal/agent"
	"github.com/ClearXs/Violet/internal/storage"
)

func buildRuntime(ctx context.Context) (*agent.Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	rt, err := agent.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化运行时失败: %w", err)
	}
	return rt, nil
}

// openStorage 只打开数据库，供不需要模型的命令使用。
func openStorage(ctx context.Context) (*storage.Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	sc := cfg.Storage
	sc.Logger = storage.GormLogger(cfg.LogLevel)
	store, err := storage.Open(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}
	return store, nil
}
