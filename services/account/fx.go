package account

import (
	"engagement-core/pkg/httpapi"

	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(NewService),
)

var HTTPModule = fx.Module("account.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *httpapi.Router, h *Handler) {
		h.Register(r)
	}),
)
