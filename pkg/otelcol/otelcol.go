package otelcol

import (
	"context"

	"engagement-core/pkg/config"
	"engagement-core/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(
		ProvideTracerProvider,
		ProvideMeterProvider,
	),
)

func newResource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

// ProvideTracerProvider installs a batching SDK provider when OTEL.ADDR is
// set and falls back to the global no-op provider otherwise.
func ProvideTracerProvider(lc fx.Lifecycle, cfg *config.Config) (trace.TracerProvider, error) {
	if cfg.Otel.Addr == "" {
		return otel.GetTracerProvider(), nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Otel.Protocol {
	case "http":
		exporter, err = exporters.ProvideHttp(cfg)
	default:
		exporter, err = exporters.ProvideGrpc(cfg)
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(newResource(cfg)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	zap.L().Info("otel tracing enabled", zap.String("addr", cfg.Otel.Addr), zap.String("protocol", cfg.Otel.Protocol))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

func ProvideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}
