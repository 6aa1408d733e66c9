package order

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"khaacho/dispatch/internal/domains/common/job"
	"khaacho/dispatch/internal/server/middlewares"
	"khaacho/dispatch/pkg/ginx"
)

// Submit 提交订单进入路由
// POST /api/v1/routing/orders?async=true
// 同步模式直接返回编排结果；异步模式投递 submit_order Job 后返回 202
func (h *OrderHandler) Submit(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	async, _ := strconv.ParseBool(c.Query("async"))
	if async {
		h.enqueue(c, &req)
		return
	}

	out, err := h.router.SubmitOrderForRouting(c.Request.Context(), req.ToRoutingRequest())
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, out)
}

func (h *OrderHandler) enqueue(c *gin.Context, req *SubmitOrderRequest) {
	if h.publisher == nil || h.queue == "" {
		ginx.BadRequest(c, "async submission is not enabled")
		return
	}

	items := make([]map[string]interface{}, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, map[string]interface{}{"product_id": item.ProductID, "quantity": item.Quantity})
	}
	j := job.NewJob(job.ActionSubmitOrder, req.OrderID, c.GetHeader(middlewares.HeaderRequestID), "apiserver", map[string]interface{}{
		"retailer_id":    req.RetailerID,
		"payment_method": req.PaymentMethod,
		"items":          items,
	})
	jobID, err := h.publisher.PublishJSON(h.queue, j)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Accepted(c, req.OrderID, jobID, fmt.Sprintf("/api/v1/routing/orders/%s", req.OrderID))
}
