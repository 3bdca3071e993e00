package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ClearXs/Violet/internal/memory"
)

var (
	recallAfter   string
	recallBefore  string
	recallLimit   int
	recallReverse bool
)

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "浏览 Agent 的对话历史",
}

var recallListCmd = &cobra.Command{
	Use:   "list <agent-id>",
	Short: "按游标分页列出 recall 中的消息",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		tiers, err := memory.NewTierStore(store, memory.NewHashEmbedder(cfg.Archival.EmbeddingDimensions))
		if err != nil {
			return err
		}
		msgs, err := tiers.List(ctx, args[0], memory.RecallQuery{
			After:     recallAfter,
			Before:    recallBefore,
			Limit:     recallLimit,
			Ascending: !recallReverse,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTime\tRole\tContent")
		for _, m := range msgs {
			text := m.Render()
			if len(m.ToolCalls) > 0 {
				text += fmt.Sprintf(" [%d tool calls]", len(m.ToolCalls))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.CreatedAt.Local().Format(time.DateTime), m.Role, oneLine(text, 80))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if len(msgs) > 0 {
			cursor := "--after"
			if recallReverse {
				cursor = "--before"
			}
			fmt.Printf("\nNext page: %s %s\n", cursor, msgs[len(msgs)-1].ID)
		}
		return nil
	},
}

func oneLine(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return string(r)
}

func init() {
	rootCmd.AddCommand(recallCmd)
	recallCmd.AddCommand(recallListCmd)
	recallListCmd.Flags().StringVar(&recallAfter, "after", "", "只返回该消息之后的消息")
	recallListCmd.Flags().StringVar(&recallBefore, "before", "", "只返回该消息之前的消息")
	recallListCmd.Flags().IntVar(&recallLimit, "limit", 100, "最多返回的条数")
	recallListCmd.Flags().BoolVar(&recallReverse, "reverse", false, "最新的消息在前")
}
