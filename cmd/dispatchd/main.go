package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paiban/dispatch/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "dispatchd",
		Short:   "派单与排班引擎",
		Version: fmt.Sprintf("%s (commit %s, built %s)", cli.Version, cli.GitCommit, cli.BuildTime),
		Long: `dispatchd 将服务请求分配给员工班次，管理班次生命周期、季度计划与转派流程。
配置文件可通过 --config 指定，缺省时读取环境变量与默认值。`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "配置文件路径 (YAML)")

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.PlanCheckCmd())
	rootCmd.AddCommand(cli.RouteCmd())
	rootCmd.AddCommand(cli.TokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
