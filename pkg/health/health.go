package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
	Check(ctx context.Context) *Health
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{db: p.DB, redis: p.Redis}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{Status: StatusHealthy, Message: "OK"})
}

func (h *health) Readiness(c *gin.Context) {
	res := h.Check(c.Request.Context())
	code := http.StatusOK
	if res.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, res)
}

// Check pings every configured dependency.
func (h *health) Check(ctx context.Context) *Health {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res := &Health{Status: StatusHealthy, Message: "OK"}
	if h.db != nil {
		dep := Dependency{Name: "database:" + h.db.Name(), Status: StatusHealthy, Message: "OK"}
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
		}
		res.Deps = append(res.Deps, dep)
	}

	if h.redis != nil {
		dep := Dependency{Name: "redis", Status: StatusHealthy, Message: "OK"}
		if err := h.redis.Ping(ctx).Err(); err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
		}
		res.Deps = append(res.Deps, dep)
	}

	for _, d := range res.Deps {
		if d.Status != StatusHealthy {
			res.Status = StatusUnhealthy
			res.Message = "dependency check failed"
			break
		}
	}
	return res
}
