package observe

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const spanPrefix = "UC."

// UseCase wraps one use case execution with a span, RED metrics and a
// use_case_done log line. Typical use:
//
//	ctx, end := uc.Start(ctx, "order.create", "CreateOrder")
//	defer func() { end(err) }()
type UseCase struct {
	Tracer  trace.Tracer
	Log     *zap.Logger
	Metrics *metrics.Recorder
}

func (u UseCase) Start(ctx context.Context, useCase, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	tracer := u.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/ariefcatur/go-order-fulfillment")
	}
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := tracer.Start(ctx, spanPrefix+name, trace.WithAttributes(attrs...))
	start := time.Now()
	log := logging.FromContext(ctx, u.Log).With(zap.String("use_case", useCase))

	return ctx, func(err error) {
		took := time.Since(start)
		outcome := metrics.Outcome(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		u.Metrics.UseCase(useCase, outcome, took)

		fields := []zap.Field{
			zap.String("outcome", outcome),
			zap.Float64("latency_seconds", took.Seconds()),
		}
		if sc := span.SpanContext(); sc.IsValid() {
			fields = append(fields,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		log.Info("use_case_done", fields...)
	}
}

// TraceID returns the current trace id, or "" outside a sampled span.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
