package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"SafeGuard-Agent/internal/config"
)

// configEnv 在未传入 --config 时指定配置文件路径。
const configEnv = "SAFEGUARD_CONFIG"

var configPath string

// rootCmd 代表基础命令，没有子命令时只打印帮助。
var rootCmd = &cobra.Command{
	Use:   "safeguardd",
	Short: "Telegram AI 钱包机器人，通过 Safe 多签发起转账",
	Long: `safeguardd 在 Telegram 中接收 /send 指令，先由大模型审核，
再构建 Safe 多签交易、签名并提交到 Safe 交易服务；阈值为 1 时直接上链执行。`,
	SilenceUsage: true,
}

// Execute 在可被信号取消的上下文中运行根命令。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"配置文件路径（JSON 或 YAML），默认读取 $"+configEnv+" 或 configs/safeguard.yaml")
}

// loadConfig 按 --config、环境变量、默认路径的顺序查找配置文件。
// 默认文件不存在时只使用内置默认值与环境变量。
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		path = filepath.Join("configs", "safeguard.yaml")
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return config.Load(path)
}
