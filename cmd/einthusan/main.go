package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/asaddon/EinthusanTV/internal/catalogsync"
	"github.com/asaddon/EinthusanTV/internal/config"
	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/infra/logx"
)

// exitError 携带进程退出码（错误信息已经输出过）。
type exitError struct{ code int }

func (e *exitError) Error() string { return "exit " + strconv.Itoa(e.code) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			stop()
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "错误：%v\n", err)
		stop()
		os.Exit(1)
	}
}

type rootFlags struct {
	configFile string
	dir        string
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:           "einthusan",
		Short:         "Einthusan 目录适配器：对账 IMDb ID 并以 Stremio addon 形式提供目录/详情/取流",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rf.configFile, "config", "", "配置文件路径（默认在工作目录查找 einthusan.yaml/json）")
	root.PersistentFlags().StringVar(&rf.dir, "dir", ".", "查找配置文件与 .env 的目录")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(rf), newSyncCmd(rf))
	return root
}

func loadConfig(cmd *cobra.Command, rf *rootFlags) (config.EffectiveConfig, error) {
	eff, err := config.Load(config.LoadOptions{
		Dir:   rf.dir,
		File:  rf.configFile,
		Flags: cmd.Flags(),
	})
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "配置错误（%s）：%v\n", config.Code(err), err)
		return config.EffectiveConfig{}, &exitError{code: 2}
	}
	return eff, nil
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 addon HTTP 服务，并在后台周期同步目录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eff, err := loadConfig(cmd, rf)
			if err != nil {
				return err
			}
			log, closer, err := logx.New(cmd.ErrOrStderr(), logOptions(eff))
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			a, err := build(eff, log, nil)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), eff)
		},
	}
}

func newSyncCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "同步一次所有分区的最近目录，并把 SyncReport JSON 写到 stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eff, err := loadConfig(cmd, rf)
			if err != nil {
				return err
			}
			stderr := cmd.ErrOrStderr()
			log, closer, err := logx.New(stderr, logOptions(eff))
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			var obs catalogsync.Observer
			if w, interactive := pickProgressWriter(cmd.OutOrStdout(), stderr); interactive {
				obs = newProgressUI(w, eff)
			}
			a, err := build(eff, log, obs)
			if err != nil {
				return err
			}
			a.bootstrapSession(cmd.Context())

			rep := a.sync.SyncAll(cmd.Context())
			emitReport(cmd.OutOrStdout(), stderr, rep)
			if rep.HasFailures() {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}

func logOptions(eff config.EffectiveConfig) logx.Options {
	return logx.Options{
		Level:  eff.LogLevel,
		Format: eff.LogFormat,
		Colors: eff.LogColors,
		File:   eff.LogFile,
	}
}

// emitReport：stdout 非 TTY 时必须且仅输出一个 SyncReport JSON（摘要走 stderr）。
func emitReport(stdout, stderr io.Writer, rep domain.SyncReport) {
	summary := fmt.Sprintf("完成：ok=%d partial=%d failed=%d items=%d",
		rep.Summary.OK, rep.Summary.Partial, rep.Summary.Failed, rep.Summary.Items)

	if isTTY(stdout) {
		fmt.Fprintln(stdout, summary)
		for _, p := range rep.Partitions {
			if p.Status == domain.StatusOK {
				continue
			}
			fmt.Fprintf(stderr, "%s %s %s: %s\n", p.Partition, p.Status, p.ErrorCode, truncate(p.ErrorMsg, 160))
		}
		return
	}

	enc := json.NewEncoder(stdout)
	_ = enc.Encode(rep)
	fmt.Fprintln(stderr, summary)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(stderr) {
		return stderr, true
	}
	if isTTY(stdout) {
		return stdout, true
	}
	return nil, false
}
