package main

import (
	"log"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"engagement-core/pkg/config"
	"engagement-core/pkg/db"
	"engagement-core/pkg/gen"
	"engagement-core/pkg/hashistack/secretmanager"
	"engagement-core/pkg/logger"
	"engagement-core/pkg/otelcol"
	"engagement-core/pkg/redis"
	"engagement-core/pkg/task"
	"engagement-core/services/level"
	"engagement-core/services/points"
	"engagement-core/services/score"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,
		task.Server,

		level.Module,
		points.Module,
		points.TaskModule,
		score.Module,
		score.TaskModule,
		// installs the global tracer used by task handlers
		fx.Invoke(func(trace.TracerProvider) {}),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
