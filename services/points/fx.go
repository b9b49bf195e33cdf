package points

import (
	"engagement-core/pkg/httpapi"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("points.service",
	fx.Provide(
		NewRuleBook,
		NewService,
	),
)

var HTTPModule = fx.Module("points.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *httpapi.Router, h *Handler) {
		h.Register(r)
	}),
)

var TaskModule = fx.Module("points.task",
	fx.Provide(NewTask),
	fx.Invoke(func(mux *asynq.ServeMux, t *Task) {
		t.Register(mux)
	}),
)
