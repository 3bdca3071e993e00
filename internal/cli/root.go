package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ClearXs/Violet/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "violet",
	Short: "Violet 是一个带分层记忆的 LLM Agent",
	Long: `Violet 为每个 Agent 维护 core / recall / archival 三层记忆，
在上下文接近模型窗口时自动摘要，并在隔离环境中执行工具。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并适当设置标志。
// 这由 main.main() 调用。它只需要对 rootCmd 调用一次。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.violet/config.yaml 搜索）")
}

// initConfig 先加载 .env，再读取配置文件和环境变量。
func initConfig() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	// 环境变量优先于配置文件
	if os.Getenv("LOG_LEVEL") == "" && cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
}
