package middleware

import (
	"errors"
	"net/http"

	"engagement-core/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last handler error. errutil errors keep their status;
// anything else is logged and hidden behind a 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		zap.L().Error("unhandled request error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(last.Err))
		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal error",
		}.JSON())
	}
}
