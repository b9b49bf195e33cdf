package score

import (
	"engagement-core/pkg/httpapi"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("score.service",
	fx.Provide(NewService),
)

var HTTPModule = fx.Module("score.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *httpapi.Router, h *Handler) {
		h.Register(r)
	}),
)

var TaskModule = fx.Module("score.task",
	fx.Provide(NewTask),
	fx.Invoke(func(mux *asynq.ServeMux, t *Task) {
		t.Register(mux)
	}),
)
