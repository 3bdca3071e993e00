package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ClearXs/Violet/internal/agent"
	"github.com/ClearXs/Violet/internal/maintenance"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "启动 Violet 后台服务",
	Long: `启动后台服务：定期清理工具执行审计记录，
并按 cron 表达式唤醒配置了 schedule 的 background Agent。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 上下文用于优雅退出
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// 2. 初始化运行时
		fmt.Println("正在初始化运行时...")
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		engine := agent.NewEngine(rt)

		// 3. 初始化维护管理器
		fmt.Println("正在初始化维护管理器...")
		mgr, err := maintenance.NewManager(cfg.Maintenance)
		if err != nil {
			return fmt.Errorf("创建维护管理器失败: %w", err)
		}

		ret, err := maintenance.NewRetentionCollector(rt.Store)
		if err != nil {
			return fmt.Errorf("创建 retention 任务失败: %w", err)
		}
		sched, err := maintenance.NewScheduler(rt.Store, engine)
		if err != nil {
			return fmt.Errorf("创建调度器失败: %w", err)
		}
		mgr.WithRetention(ret).WithScheduler(sched)

		// 4. 启动管理器
		fmt.Println("正在启动后台服务...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("启动管理器失败: %w", err)
		}

		// 5. 等待信号
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		fmt.Println("Violet 已启动。按 Ctrl+C 停止。")

		select {
		case sig := <-sigChan:
			fmt.Printf("收到信号: %s, 正在关闭...\n", sig)
		case <-ctx.Done():
			fmt.Println("上下文已取消, 正在关闭...")
		}

		// 6. 优雅停止
		mgr.Stop()
		if err := mgr.Wait(); err != nil {
			return fmt.Errorf("管理器停止时发生错误: %w", err)
		}

		fmt.Println("关闭完成。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
