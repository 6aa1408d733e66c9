package middlewares

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/ginx"
	"khaacho/dispatch/pkg/logger"
)

// ErrorHandler 统一错误处理中间件
// Handler 通过 c.Error 上报错误并直接返回，这里按错误类型映射 HTTP 状态码
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		code := StatusOf(err)
		if code >= http.StatusInternalServerError {
			log.Errorf(c.Request.Context(), "[HTTP] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		}
		ginx.Error(c, code, err.Error())
	}
}

// StatusOf 错误对应的 HTTP 状态码
func StatusOf(err error) int {
	switch {
	case errors.Is(err, routing.ErrInvalidRequest), errors.Is(err, routing.ErrInvalidWeights):
		return http.StatusBadRequest
	case errors.Is(err, routing.ErrOrderNotFound), errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, routing.ErrOrderNotRoutable),
		errors.Is(err, routing.ErrOrderNotCancellable),
		errors.Is(err, routing.ErrStaleResponse):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
