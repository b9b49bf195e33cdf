package moderation

import (
	"net/http"
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
	r.API.POST("/warnings", h.IssueWarning)
	r.API.POST("/warnings/:id/revoke", h.RevokeWarning)

	users := r.API.Group("/users/:id")
	users.GET("/warnings", h.ListWarnings)
	users.GET("/moderation", h.Status)
	users.POST("/moderation/lock-check", h.LockCheck)
	users.POST("/moderation/unlock", h.Unlock)
	users.POST("/moderation/suspensions", h.Suspend)
}

func actorFrom(c *gin.Context) Actor {
	a := httpapi.ActorFrom(c)
	return Actor{ID: a.ID, Role: a.Role}
}

func (h *Handler) IssueWarning(c *gin.Context) {
	var req IssueWarningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.svc.IssueWarning(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) RevokeWarning(c *gin.Context) {
	w, err := h.svc.RevokeWarning(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWarnings(c *gin.Context) {
	rows, err := h.svc.ListWarnings(c.Request.Context(), c.Param("id"), c.Query("active") == "true")
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *Handler) Status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) LockCheck(c *gin.Context) {
	st, err := h.svc.ApplyPermanentLockIfNeeded(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) Unlock(c *gin.Context) {
	if err := h.svc.ManualUnlock(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type suspendRequest struct {
	DurationHours float64 `json:"duration_hours" binding:"required,gt=0"`
}

func (h *Handler) Suspend(c *gin.Context) {
	var req suspendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	d := time.Duration(req.DurationHours * float64(time.Hour))
	st, err := h.svc.SuspendTemporarily(c.Request.Context(), actorFrom(c), c.Param("id"), d)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}
