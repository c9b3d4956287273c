package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger, or fallback, or zap.L().
func FromContext(ctx context.Context, fallback ...*zap.Logger) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	for _, l := range fallback {
		if l != nil {
			return l
		}
	}
	return zap.L()
}
