package ops

import (
	"github.com/gin-gonic/gin"

	"khaacho/dispatch/pkg/ginx"
)

// ResolveRequest 人工处理备注
type ResolveRequest struct {
	Note string `json:"note" binding:"omitempty,max=255"`
}

// ResolveHealing 运营人工处理完成后关闭自愈动作
// POST /api/v1/routing/healing/:id/resolve
func (h *OpsHandler) ResolveHealing(c *gin.Context) {
	var req ResolveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ginx.BadRequestWithValidation(c, err)
			return
		}
	}

	action, err := h.healer.ResolveAction(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, gin.H{
		"id":              action.ID,
		"order_ref":       action.OrderRef,
		"issue_type":      action.IssueType,
		"recovery_status": action.RecoveryStatus,
		"resolved_at":     action.ResolvedAt,
	})
}
