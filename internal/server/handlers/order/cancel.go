package order

import (
	"github.com/gin-gonic/gin"

	"khaacho/dispatch/pkg/ginx"
)

// Cancel 取消订单
// POST /api/v1/routing/orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	var req CancelOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ginx.BadRequestWithValidation(c, err)
			return
		}
	}

	out, err := h.router.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, out)
}
