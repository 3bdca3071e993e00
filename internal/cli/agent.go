package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ClearXs/Violet/internal/agent"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "管理 Agent",
}

var (
	createName      string
	createVariant   string
	createPrompt    string
	createPersona   string
	createHuman     string
	createModel     string
	createWindow    int
	createSchedule  string
	createKeepLastN int
	createEvictAll  bool
	listVariant     string
)

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建 Agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		variant, err := agent.ParseVariant(createVariant)
		if err != nil {
			return err
		}
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		req := agent.CreateAgentRequest{
			Name:          createName,
			Variant:       variant,
			SystemPrompt:  createPrompt,
			Persona:       createPersona,
			Human:         createHuman,
			ModelName:     createModel,
			ContextWindow: createWindow,
			Schedule:      createSchedule,
			EvictAll:      createEvictAll,
		}
		if cmd.Flags().Changed("keep-last-n") {
			req.KeepLastN = &createKeepLastN
		}
		row, err := rt.CreateAgent(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("Created agent %s (%s, variant=%s, context_window=%d)\n", row.ID, row.Name, row.Variant, row.ContextWindow)
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出 Agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		var variant agent.Variant
		if listVariant != "" {
			v, err := agent.ParseVariant(listVariant)
			if err != nil {
				return err
			}
			variant = v
		}
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		rows, err := rt.ListAgents(ctx, variant)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tName\tVariant\tModel\tWindow\tSchedule")
		fmt.Fprintln(w, "--\t----\t-------\t-----\t------\t--------")
		for _, a := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", a.ID, a.Name, a.Variant, a.ModelName, a.ContextWindow, a.Schedule)
		}
		return w.Flush()
	},
}

var agentDeleteCmd = &cobra.Command{
	Use:   "delete <agent-id>",
	Short: "删除 Agent（软删除，记忆数据保留）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.DeleteAgent(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted agent %s\n", args[0])
		return nil
	},
}

var agentMemoryCmd = &cobra.Command{
	Use:   "memory <agent-id>",
	Short: "查看 Agent 的 core memory 与各层统计",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		id := args[0]
		if _, err := rt.GetAgent(ctx, id); err != nil {
			return err
		}
		snap, err := rt.Memory.Snapshot(ctx, id)
		if err != nil {
			return err
		}
		core, err := rt.Memory.CompileCore(ctx, id)
		if err != nil {
			return err
		}
		fmt.Println(core)
		fmt.Println()
		fmt.Printf("Core blocks:      %d\n", len(snap.Core))
		fmt.Printf("Recall messages:  %d\n", snap.Recall.Count)
		if snap.Recall.Count > 0 {
			fmt.Printf("Recall range:     %s ~ %s\n", snap.Recall.First.Local().Format(time.DateTime), snap.Recall.Last.Local().Format(time.DateTime))
		}
		fmt.Printf("Archival notes:   %d\n", snap.ArchivalCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentCreateCmd, agentListCmd, agentDeleteCmd, agentMemoryCmd)

	f := agentCreateCmd.Flags()
	f.StringVar(&createName, "name", "", "Agent 名称")
	f.StringVar(&createVariant, "variant", "conversational", "Agent 类型")
	f.StringVar(&createPrompt, "system", "", "基础系统提示词（默认按类型生成）")
	f.StringVar(&createPersona, "persona", "", "persona 块的初始内容")
	f.StringVar(&createHuman, "human", "", "human 块的初始内容")
	f.StringVar(&createModel, "model", "", "覆盖默认模型名称")
	f.IntVar(&createWindow, "context-window", 0, "覆盖默认上下文窗口（token）")
	f.StringVar(&createSchedule, "schedule", "", "cron 表达式，定时唤醒 background Agent")
	f.IntVar(&createKeepLastN, "keep-last-n", 0, "摘要时保留的最近消息数")
	f.BoolVar(&createEvictAll, "evict-all", false, "摘要时淘汰全部非系统消息")

	agentListCmd.Flags().StringVar(&listVariant, "variant", "", "按类型过滤")
}
