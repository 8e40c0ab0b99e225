package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"stakex.com/pkg/logger"
)

// GoCtx 启动带 recover 的协程，fn 的错误和 panic 都记日志，不会带崩进程
// done 可为 nil；非 nil 时协程退出后关闭
func GoCtx(ctx context.Context, name string, fn func(ctx context.Context) error, done chan<- struct{}) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
			}
			if done != nil {
				close(done)
			}
		}()

		if err := fn(ctx); err != nil {
			logger.Error(ctx, "goroutine exited with error", zap.String("goroutine", name), zap.Error(err))
		}
	}()
}
