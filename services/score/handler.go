package score

import (
	"net/http"
	"strconv"
	"time"

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
	r.API.POST("/contents", h.Create)
	r.API.GET("/contents/trending", h.Trending)

	c := r.API.Group("/contents/:id")
	c.GET("", h.Get)
	c.PATCH("", h.UpdateMetadata)
	c.DELETE("", h.Delete)
	c.POST("/clicks", h.Click)
	c.PUT("/likes/:user_id", h.Like)
	c.DELETE("/likes/:user_id", h.Unlike)
	c.POST("/power-ups", h.PowerUp)
	c.POST("/recompute", h.Recompute)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	item, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) Get(c *gin.Context) {
	item, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) UpdateMetadata(c *gin.Context) {
	var m Metadata
	if err := c.ShouldBindJSON(&m); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	item, err := h.svc.UpdateMetadata(c.Request.Context(), c.Param("id"), m)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) Click(c *gin.Context) {
	item, err := h.svc.RecordClick(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) Like(c *gin.Context) {
	item, liked, err := h.svc.RecordLike(c.Request.Context(), c.Param("id"), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked, "content": item})
}

func (h *Handler) Unlike(c *gin.Context) {
	item, err := h.svc.RemoveLike(c.Request.Context(), c.Param("id"), c.Param("user_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type powerUpRequest struct {
	DurationHours float64 `json:"duration_hours" binding:"required,gt=0"`
}

func (h *Handler) PowerUp(c *gin.Context) {
	var req powerUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	d := time.Duration(req.DurationHours * float64(time.Hour))
	item, err := h.svc.ActivatePowerUp(c.Request.Context(), c.Param("id"), d)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Recompute(c *gin.Context) {
	item, err := h.svc.Recompute(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) Trending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, err := h.svc.Trending(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}
