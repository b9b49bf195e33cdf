package httpapi

import (
	"net/http"

	"engagement-core/pkg/config"
	"engagement-core/pkg/health"
	"engagement-core/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewRouter,
		Handler,
	),
)

// Router is the gin engine with the versioned API group services mount on.
type Router struct {
	Engine *gin.Engine
	API    *gin.RouterGroup
}

type RouterParams struct {
	fx.In
	Config *config.Config
	Health health.HealthService `optional:"true"`
}

func NewRouter(p RouterParams) *Router {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.Logger(), middleware.Error())

	if p.Health != nil {
		engine.GET("/healthz", p.Health.Liveness)
		engine.GET("/readyz", p.Health.Readiness)
	}
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Router{
		Engine: engine,
		API:    engine.Group("/v1"),
	}
}

// Handler wraps the engine with otel request tracing.
func Handler(cfg *config.Config, r *Router) http.Handler {
	return otelhttp.NewHandler(r.Engine, cfg.AppName)
}

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// Actor identifies the caller of an admin endpoint. Authentication happens
// upstream; these headers are set by the gateway.
type Actor struct {
	ID   string
	Role string
}

func ActorFrom(c *gin.Context) Actor {
	return Actor{
		ID:   c.GetHeader(HeaderActorID),
		Role: c.GetHeader(HeaderActorRole),
	}
}
