package ops

import (
	"github.com/gin-gonic/gin"

	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/pkg/ginx"
)

// WeightsRequest 评分权重
type WeightsRequest struct {
	Reliability     *float64 `json:"reliability" binding:"required"`
	DeliverySuccess *float64 `json:"delivery_success" binding:"required"`
	ResponseSpeed   *float64 `json:"response_speed" binding:"required"`
	Price           *float64 `json:"price" binding:"required"`
}

// UpdateWeights 更新评分权重，非法权重返回 400 且保留原权重
// PUT /api/v1/routing/config/weights
func (h *OpsHandler) UpdateWeights(c *gin.Context) {
	var req WeightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}
	w := routing.Weights{
		Reliability:     *req.Reliability,
		DeliverySuccess: *req.DeliverySuccess,
		ResponseSpeed:   *req.ResponseSpeed,
		Price:           *req.Price,
	}
	if err := h.router.UpdateWeights(c.Request.Context(), w); err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, w)
}

// RecalculateScore 从事件流重建供应商评分
// POST /api/v1/routing/vendors/:vendor_id/score/recalculate
func (h *OpsHandler) RecalculateScore(c *gin.Context) {
	score, err := h.router.RecalculateVendorScore(c.Request.Context(), c.Param("vendor_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, score)
}
