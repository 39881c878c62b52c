package invoker

import (
	"context"

	"go.uber.org/zap"
)

type loggingInvoker struct {
	inner  Invoker
	logger *zap.Logger
}

// WithLogging wraps inv so that every failed outcome is logged at debug level.
func WithLogging(inv Invoker, logger *zap.Logger) Invoker {
	if logger == nil {
		return inv
	}
	return &loggingInvoker{inner: inv, logger: logger}
}

func (l *loggingInvoker) Invoke(ctx context.Context) Outcome {
	out := l.inner.Invoke(ctx)
	if !out.Success() {
		if ce := l.logger.Check(zap.DebugLevel, "request failed"); ce != nil {
			ce.Write(
				zap.String("status", string(out.Status)),
				zap.Int("status_code", out.StatusCode),
				zap.Duration("latency", out.Latency),
				zap.Error(out.Err),
			)
		}
	}
	return out
}

// Func adapts a plain function to the Invoker interface.
type Func func(ctx context.Context) Outcome

func (f Func) Invoke(ctx context.Context) Outcome { return f(ctx) }
