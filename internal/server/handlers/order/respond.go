package order

import (
	"github.com/gin-gonic/gin"

	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/pkg/ginx"
)

// Respond 供应商接单/拒单
// POST /api/v1/routing/orders/:id/response
func (h *OrderHandler) Respond(c *gin.Context) {
	var req VendorResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	out, err := h.router.HandleVendorResponse(c.Request.Context(), &routing.VendorResponse{
		EventID:  req.EventID,
		OrderID:  c.Param("id"),
		VendorID: req.VendorID,
		Accepted: *req.Accepted,
		Reason:   req.Reason,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, out)
}
