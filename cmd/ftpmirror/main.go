package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ftpmirror/pkg/core"
	"ftpmirror/pkg/meta"
	"ftpmirror/pkg/transfer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ftpmirror 错误: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFiles   []string
		overwrite  bool
		dayBefore  int
		logLevel   string
		noProgress bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:          "ftpmirror",
		Short:        "FTP 目录树镜像工具",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.Load(configPath, envFiles...)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("overwrite") {
				cfg.Overwrite = overwrite
			}
			if flags.Changed("day-before") {
				cfg.DayBefore = dayBefore
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("no-progress") {
				cfg.NoProgress = noProgress
			}
			cfg.DryRun = dryRun

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			counters, runErr := core.Run(ctx, cfg)
			printSummary(cmd.OutOrStdout(), counters)
			if runErr != nil {
				return runErr
			}
			if counters.FileFailed > 0 || counters.DirFailed > 0 {
				return errors.New("部分目录或文件下载失败，详见日志")
			}
			if counters.PublishError {
				return errors.New("下载完成但发布失败，详见日志")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yml", "配置文件路径，为空时只读取环境变量")
	cmd.Flags().StringArrayVar(&envFiles, "env-file", nil, "额外的 .env 文件，可多次指定")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "覆盖本地已存在的文件")
	cmd.Flags().IntVar(&dayBefore, "day-before", 0, "下载 N 天前的日期目录")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "日志级别：debug / info / warn / error")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "禁用进度条显示")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "只遍历并列出待下载文件")

	cmd.AddCommand(newHistoryCmd())
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看下载历史",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("历史库不可用: %w", err)
			}
			h, err := meta.OpenHistory(dbPath)
			if err != nil {
				return err
			}
			defer h.Close()
			records, err := h.List(limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "history.db", "历史库路径")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "显示最近 N 条，0 表示全部")
	return cmd
}

func printSummary(w io.Writer, c transfer.Counters) {
	fmt.Fprintf(w, "file success %d, file failed %d, file exist %d\n", c.FileSuccess, c.FileFailed, c.FileExists)
	fmt.Fprintf(w, "dir success %d, dir failed %d\n", c.DirSuccess, c.DirFailed)
	if c.ConnectError {
		fmt.Fprintln(w, "connect error")
	}
	if c.PublishError {
		fmt.Fprintln(w, "publish error")
	}
}

func printHistory(w io.Writer, records []meta.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOUTCOME\tSIZE\tREMOTE\tLOCAL\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.FinishedAt.Local().Format(time.DateTime), r.Outcome, r.Size, r.RemotePath, r.LocalPath, r.Error)
	}
	return tw.Flush()
}
