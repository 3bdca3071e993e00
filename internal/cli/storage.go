package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ClearXs/Violet/internal/maintenance"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况与清理工具执行审计记录的命令。`,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	RunE:  runInfo,
}

var pruneToolsCmd = &cobra.Command{
	Use:   "prune-tools",
	Short: "清理工具执行审计记录",
	Long: `根据保留条数或天数清理旧的工具执行审计记录。
两者都未指定时，按配置文件中的 maintenance.retention 策略立即执行一次清理。`,
	RunE: runPruneTools,
}

var (
	keepToolCount int
	keepToolDays  int
)

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd)
	storageCmd.AddCommand(pruneToolsCmd)

	pruneToolsCmd.Flags().IntVar(&keepToolCount, "keep", 0, "保留最近的 N 条记录")
	pruneToolsCmd.Flags().IntVar(&keepToolDays, "days", 0, "保留最近 N 天的记录")
}

func runPruneTools(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if keepToolCount <= 0 && keepToolDays <= 0 {
		fmt.Println("Starting prune job with configured policy...")
		policy := cfg.Maintenance.Retention.ToolExecutions
		fmt.Printf("Policy: KeepAll=%v, KeepLatest=%d\n", policy.KeepAll, policy.KeepLatest)
		if err := maintenance.Prune(ctx, store, cfg.Maintenance.Retention); err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
	} else {
		var deleted int64
		if keepToolCount > 0 {
			fmt.Printf("Pruning tool executions, keeping latest %d records...\n", keepToolCount)
			n, err := store.DeleteToolExecutionsKeepLatest(ctx, keepToolCount)
			if err != nil {
				return fmt.Errorf("prune by count: %w", err)
			}
			deleted += n
		}
		if keepToolDays > 0 {
			before := time.Now().UTC().AddDate(0, 0, -keepToolDays)
			fmt.Printf("Pruning tool executions older than %d days (before %s)...\n", keepToolDays, before.Format(time.RFC3339))
			n, err := store.DeleteToolExecutionsBefore(ctx, before)
			if err != nil {
				return fmt.Errorf("prune by days: %w", err)
			}
			deleted += n
		}
		fmt.Printf("Prune completed. Deleted %d records.\n", deleted)
	}

	if count, err := store.CountToolExecutions(ctx); err == nil {
		fmt.Printf("Remaining Tool Executions: %d\n", count)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
	}

	var dbSizeStr string
	info, err := os.Stat(dbPath)
	switch {
	case cfg.Storage.InMemory:
		dbSizeStr = "In-Memory"
	case os.IsNotExist(err):
		dbSizeStr = "Not Found (Will be created on first run)"
	case err != nil:
		dbSizeStr = fmt.Sprintf("Error: %v", err)
	default:
		dbSizeStr = fmt.Sprintf("%.2f MB (%s)", float64(info.Size())/1024/1024, dbPath)
	}

	store, err := openStorage(ctx)
	if err != nil {
		fmt.Printf("Database File: %s\n", dbSizeStr)
		return err
	}
	defer store.Close()

	type row struct {
		name  string
		count func(context.Context) (int64, error)
	}
	rows := []row{
		{"Agents", store.CountAgents},
		{"Messages", func(ctx context.Context) (int64, error) { return store.CountMessages(ctx, "") }},
		{"Blocks", store.CountBlocks},
		{"ArchivalNotes", func(ctx context.Context) (int64, error) { return store.CountArchivalNotes(ctx, "") }},
		{"ToolExecutions", store.CountToolExecutions},
	}

	fmt.Printf("Database File: %s\n\n", dbSizeStr)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	for _, r := range rows {
		n, err := r.count(ctx)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", r.name, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", r.name, n)
	}
	return w.Flush()
}
