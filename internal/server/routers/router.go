package routers

import (
	"github.com/gin-gonic/gin"

	"khaacho/dispatch/internal/server/handlers/ops"
	"khaacho/dispatch/internal/server/handlers/order"
	"khaacho/dispatch/internal/server/middlewares"
	"khaacho/dispatch/pkg/logger"
)

// SetupRoutes 配置所有路由，使用 Route Group 分类
func SetupRoutes(
	orderHandler *order.OrderHandler,
	opsHandler *ops.OpsHandler,
	log logger.Logger,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.Trace(log))
	r.Use(middlewares.ErrorHandler(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "dispatch",
			"message": "Service is running",
		})
	})

	v1 := r.Group("/api/v1/routing")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", orderHandler.Submit)
			orders.GET("/:id", orderHandler.Get)
			orders.POST("/:id/response", orderHandler.Respond)
			orders.POST("/:id/cancel", orderHandler.Cancel)
		}

		sweeps := v1.Group("/sweeps")
		{
			sweeps.POST("/timeout", opsHandler.TimeoutSweep)
			sweeps.POST("/healing", opsHandler.HealingCycle)
		}

		v1.PUT("/config/weights", opsHandler.UpdateWeights)
		v1.POST("/vendors/:vendor_id/score/recalculate", opsHandler.RecalculateScore)
		v1.POST("/healing/:id/resolve", opsHandler.ResolveHealing)
	}

	return r
}
