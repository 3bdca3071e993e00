package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ClearXs/Violet/internal/agent"
	"github.com/ClearXs/Violet/internal/stream"
	"github.com/ClearXs/Violet/internal/tui"
	"github.com/ClearXs/Violet/internal/ui"
)

var (
	chatUI        string
	chatShowTools bool
	chatNoChain   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <agent-id>",
	Short: "与 Agent 进入交互式对话",
	Long: `进入交互式对话。普通输入会作为用户消息发送给 Agent；
以 / 开头的输入为命令，例如 /memory、/pop、/clear、/retry、/continue_chaining、/memorywarning。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		row, err := rt.GetAgent(ctx, args[0])
		if err != nil {
			return err
		}

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		var opts []agent.StepOption
		if chatNoChain {
			opts = append(opts, agent.WithChaining(false))
		}
		engine := agent.NewEngine(rt)
		session := ui.NewSession(engine, stream.NewResponder(engine, stream.DefaultBuffer), row.ID, opts...)
		return uiImpl.Run(ctx, session, ui.ChatOptions{
			AgentName: row.Name,
			ShowTools: chatShowTools,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().BoolVar(&chatShowTools, "show-tools", false, "展示工具调用结果与记忆写入")
	chatCmd.Flags().BoolVar(&chatNoChain, "no-chain", false, "工具调用后不自动继续下一轮")
}
