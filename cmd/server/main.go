package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	// AppName 应用名称
	AppName = "nova-proxy"
)

// 构建信息，通过 -ldflags 注入
var (
	version   = "0.1.0"
	gitCommit = "unknown"
)

// 命令行参数
var (
	configPath string
	portFlag   int
	verbose    bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   AppName,
		Short: "Claude Messages API → OpenAI Chat Completions 协议转换代理",
		Long: `nova-proxy 接收 Anthropic Messages 格式的请求，转换为 OpenAI Chat Completions
格式转发到上游（默认 NVIDIA NIM），再把响应（含流式 SSE）转换回 Claude 格式。`,
		SilenceUsage: true,
		// 不带子命令时直接启动服务
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().IntVarP(&portFlag, "port", "p", 0, "监听端口，覆盖配置文件")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出 debug 日志")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动代理服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "打印版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s\n", AppName)
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Git Commit: %s\n", gitCommit)
			fmt.Printf("Go Version: %s\n", runtime.Version())
			fmt.Printf("Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	return rootCmd
}

func main() {
	// SIGINT / SIGTERM 触发优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
