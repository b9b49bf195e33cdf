package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"engagement-core/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newEngine(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(), Error())
	r.GET("/x", handler)
	return r
}

func TestErrorRendersBaseError(t *testing.T) {
	r := newEngine(func(c *gin.Context) {
		_ = c.Error(errutil.NotFound("user not found", nil))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), `"code":"not_found"`)
}

func TestErrorHidesUnknownErrors(t *testing.T) {
	r := newEngine(func(c *gin.Context) {
		_ = c.Error(errors.New("pq: connection refused"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "connection refused")
}
