package level

import (
	"engagement-core/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("level.service",
	fx.Provide(
		ProvideEngine,
		NewGranter,
	),
)

func ProvideEngine(cfg *config.Config) (*Engine, error) {
	return NewEngine(DefaultTable(), cfg.Level.BaseUploadLimit)
}
