package moderation

import (
	"engagement-core/pkg/httpapi"

	"go.uber.org/fx"
)

var Module = fx.Module("moderation.service",
	fx.Provide(NewService),
)

var HTTPModule = fx.Module("moderation.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *httpapi.Router, h *Handler) {
		h.Register(r)
	}),
)
