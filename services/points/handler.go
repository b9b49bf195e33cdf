package points

import (
	"net/http"

	"engagement-core/pkg/db/pagination"
	"engagement-core/pkg/errutil"
	"engagement-core/pkg/httpapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	svc *Service
}

type HandlerParams struct {
	fx.In
	Service *Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{svc: p.Service}
}

func (h *Handler) Register(r *httpapi.Router) {
	r.API.POST("/points/credits", h.Credit)
	r.API.POST("/points/reversals", h.Reverse)
	r.API.GET("/point-rules", h.ListRules)
	r.API.PUT("/point-rules/:type", h.UpsertRule)

	users := r.API.Group("/users/:id")
	users.GET("/points", h.Balance)
	users.GET("/points/transactions", h.ListTransactions)
	users.POST("/points/rebuild", h.Rebuild)
	users.POST("/rewards/fix", h.FixRewards)
}

func (h *Handler) Credit(c *gin.Context) {
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.svc.CreditPoints(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Reverse(c *gin.Context) {
	var req ReverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	tx, err := h.svc.ReversePoints(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.svc.Rules().List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

func (h *Handler) UpsertRule(c *gin.Context) {
	var rule PointRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	rule.Type = c.Param("type")

	if err := h.svc.Rules().Upsert(c.Request.Context(), &rule); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *Handler) Balance(c *gin.Context) {
	view, err := h.svc.Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	rows, info, err := h.svc.ListTransactions(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}

// Rebuild runs synchronously unless async=true is given.
func (h *Handler) Rebuild(c *gin.Context) {
	userID := c.Param("id")
	if c.Query("async") == "true" {
		info, err := h.svc.ScheduleRebuild(c.Request.Context(), userID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "queue": info.Queue})
		return
	}

	audit, err := h.svc.RebuildBalance(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, audit)
}

// FixRewards runs synchronously unless async=true is given.
func (h *Handler) FixRewards(c *gin.Context) {
	userID := c.Param("id")
	if c.Query("async") == "true" {
		info, err := h.svc.ScheduleFixMissingRewards(c.Request.Context(), userID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "queue": info.Queue})
		return
	}

	rewards, err := h.svc.FixMissingRewards(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rewards": rewards})
}
