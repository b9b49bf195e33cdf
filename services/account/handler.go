package account

import (
	"net/http"

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
	r.API.POST("/users", h.Create)
	r.API.GET("/users/:id", h.Get)
}

type createRequest struct {
	Username string `json:"username" binding:"required"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	user, err := h.svc.Create(c.Request.Context(), req.Username)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) Get(c *gin.Context) {
	user, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}
