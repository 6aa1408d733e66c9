package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"khaacho/dispatch/pkg/logger"
)

// HeaderRequestID 请求 ID 头
const HeaderRequestID = "X-Request-ID"

// Trace 为每个请求注入 trace_id 并记录访问日志
func Trace(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := c.GetHeader(HeaderRequestID)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		ctx := logger.WithTraceID(c.Request.Context(), traceID)
		if id := c.Param("id"); id != "" {
			ctx = logger.WithOrderID(ctx, id)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, traceID)

		c.Next()

		log.Infof(ctx, "[HTTP] %s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
