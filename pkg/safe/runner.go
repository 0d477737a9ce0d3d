package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"bnstream.com/pkg/logger"
)

// Go 安全启动协程：panic 会被记录而不是带崩进程
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx is Go with a context handed to fn and to the panic log line, so the
// trace id of the owner survives into the report.
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "goroutine panic recovered",
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
			}
		}()

		fn(ctx)
	}()
}
