package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"stakex.com/apps/treasury/config"
	"stakex.com/apps/treasury/internal/app"
	"stakex.com/pkg/logger"
	"stakex.com/pkg/safe"
)

const usage = `usage: treasury [-f config.yaml] <command> [args]

commands:
  serve                               启动 HTTP 服务 (含 /metrics)
  init <amount>                       初始化国库并注入首笔资金
  fund <amount> [source]              追加注资
  scan                                只读扫描，列出应发奖励
  distribute                          执行一个分发批次
  status                              国库状态
  pause | resume                      暂停 / 恢复分发
  projection <stake> <days>           估算需要补充的资金
  stake <id> <wallet> <amount> [member]  登记一个 active 质押
  member <wallet> <true|false>        维护会员目录
  fundings                            注资流水
`

func main() {
	// 1. 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	file := flag.StringP("file", "f", "", "config file (default ./config/treasury-service.yaml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	// 2. 配置 + 日志
	cfg, err := config.Load(*file)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	defer logger.Sync()

	// 3. 装配
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "serve" {
		return serve(ctx, a)
	}
	return runCommand(ctx, a, cmd, args)
}

func serve(ctx context.Context, a *app.App) error {
	a.StartObservers(ctx)
	srv := a.HTTPServer(ctx)

	errCh := make(chan error, 1)
	safe.GoCtx(ctx, "http-server", func(ctx context.Context) error {
		logger.Info(ctx, "🚀 treasury http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return err
		}
		return nil
	}, nil)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	// 等进行中的分发批次写完
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "treasury shutdown error", zap.Error(err))
		return err
	}
	logger.Info(shutdownCtx, "treasury exit")
	return nil
}
