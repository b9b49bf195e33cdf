package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"engagement-core/pkg/accesscontrol"
	"engagement-core/pkg/config"
	"engagement-core/pkg/db"
	"engagement-core/pkg/featureflags"
	"engagement-core/pkg/gen"
	"engagement-core/pkg/hashistack/secretmanager"
	"engagement-core/pkg/hashistack/servicediscover"
	"engagement-core/pkg/health"
	"engagement-core/pkg/httpapi"
	"engagement-core/pkg/logger"
	"engagement-core/pkg/otelcol"
	"engagement-core/pkg/profiling"
	"engagement-core/pkg/redis"
	"engagement-core/pkg/server"
	"engagement-core/pkg/task"
	"engagement-core/services/account"
	"engagement-core/services/level"
	"engagement-core/services/moderation"
	"engagement-core/services/points"
	"engagement-core/services/scheduler"
	"engagement-core/services/score"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		health.Module,
		accesscontrol.Module,
		featureflags.Module,
		task.Client,

		account.Module,
		level.Module,
		points.Module,
		score.Module,
		moderation.Module,

		httpapi.Module,
		account.HTTPModule,
		points.HTTPModule,
		score.HTTPModule,
		moderation.HTTPModule,

		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		servicediscover.Module,
		scheduler.Module,
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
