package order

import (
	"github.com/gin-gonic/gin"

	"khaacho/dispatch/pkg/ginx"
)

// Get godoc
// @Summary      查询订单路由状态
// @Description  订单状态、当前活跃派单尝试、已尝试的供应商、每次选择的决策审计
// @Tags         routing
// @Produce      json
// @Param        id path string true "订单ID"
// @Success      200 {object} ginx.Response{data=RoutingStatusResponse} "查询成功"
// @Failure      404 {object} ginx.Response "订单不存在"
// @Failure      500 {object} ginx.Response "服务器错误"
// @Router       /routing/orders/{id} [get]
func (h *OrderHandler) Get(c *gin.Context) {
	status, err := h.router.GetRoutingStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, FromRoutingStatus(status))
}
