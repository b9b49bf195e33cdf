package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"engagement-core/pkg/config"
	"engagement-core/pkg/db"
	"engagement-core/pkg/hashistack/secretmanager"
	"engagement-core/pkg/logger"
	"engagement-core/services/account"
	"engagement-core/services/level"
	"engagement-core/services/moderation"
	"engagement-core/services/points"
	"engagement-core/services/score"
)

var models = []any{
	&account.User{},
	&points.Transaction{},
	&points.PointRule{},
	&level.UserUnlock{},
	&level.OwnedItem{},
	&level.GrantedReward{},
	&score.ContentItem{},
	&score.ContentLike{},
	&moderation.Warning{},
}

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
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

func migrate(lc fx.Lifecycle, sd fx.Shutdowner, conn *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := conn.WithContext(ctx).AutoMigrate(models...); err != nil {
				zap.L().Error("[Migrate] schema migration failed", zap.Error(err))
				return err
			}
			zap.L().Info("[Migrate] schema up to date", zap.Int("tables", len(models)))

			if err := points.SeedDefaults(ctx, conn); err != nil {
				zap.L().Error("[Migrate] seeding point rules failed", zap.Error(err))
				return err
			}
			zap.L().Info("[Migrate] default point rules seeded")

			return sd.Shutdown()
		},
	})
}
