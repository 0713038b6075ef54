// Package channelpoolfx wires a channelpool.ChannelPool into an fx
// application, mirroring infra/client/di's lifecycle-hook shape: provide
// the pool, tear it down on OnStop.
package channelpoolfx

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/grpc-channelpool/channelpool"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Params is the fx-injected configuration for Module.
type Params struct {
	fx.In

	Builder channelpool.ChannelBuilder
	Config  channelpool.Config
	Logger  *slog.Logger

	MeterProvider  metric.MeterProvider `optional:"true"`
	TracerProvider trace.TracerProvider `optional:"true"`

	// LoggerProvider, when present, bridges the pool's slog records into
	// OTel log records via otelslog instead of (or in addition to) Logger.
	LoggerProvider log.LoggerProvider `optional:"true"`
}

// Module provides a *channelpool.ChannelPool built from the injected
// ChannelBuilder and Config, always with OTel instrumentation wired in: it
// uses the MeterProvider/TracerProvider from the fx graph when present and
// bare SDK providers otherwise.
var Module = fx.Module(
	"channelpool",
	fx.Provide(New),

	// [LIFECYCLE] Ensures every member channel is released on shutdown,
	// the same shape as infra/client/di's OnStop hook.
	fx.Invoke(func(lc fx.Lifecycle, pool *channelpool.ChannelPool) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				pool.ShutdownNow()
				pool.AwaitTermination(5 * time.Second)
				return nil
			},
		})
	}),
)

// New builds the pool from fx-injected params. Exported so callers who
// don't want the full fx module can still reuse the same wiring logic.
func New(p Params) (*channelpool.ChannelPool, error) {
	opts := []channelpool.Option{
		channelpool.WithLimits(p.Config.Limits),
		channelpool.WithMethodAffinity(p.Config.MethodAffinity),
	}

	logger := p.Logger
	if p.LoggerProvider != nil {
		handler := otelslog.NewHandler("channelpool", otelslog.WithLoggerProvider(p.LoggerProvider))
		if logger != nil {
			// Fan out to both: the application's own handler keeps seeing
			// pool events, and OTel also gets them.
			logger = slog.New(fanoutHandler{logger.Handler(), handler})
		} else {
			logger = slog.New(handler)
		}
	}
	if logger != nil {
		opts = append(opts, channelpool.WithLogger(logger))
	}
	meterProvider := p.MeterProvider
	if meterProvider == nil {
		// No host application MeterProvider was injected; fall back to a
		// bare SDK provider so the pool still emits real metric.Int64UpDownCounter
		// instruments instead of going unobserved. Without a registered
		// Reader it never exports anywhere, but it is a genuine SDK
		// provider, not a stub.
		meterProvider = sdkmetric.NewMeterProvider()
	}
	tracerProvider := p.TracerProvider
	if tracerProvider == nil {
		tracerProvider = sdktrace.NewTracerProvider()
	}

	instr, err := channelpool.NewInstrumentation(
		meterProvider.Meter("channelpool"),
		tracerProvider.Tracer("channelpool"),
	)
	if err != nil {
		return nil, err
	}
	opts = append(opts, channelpool.WithInstrumentation(instr))

	return channelpool.New(context.Background(), p.Builder, opts...)
}
