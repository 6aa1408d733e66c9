package ops

import (
	"github.com/gin-gonic/gin"

	"khaacho/dispatch/pkg/ginx"
)

// TimeoutSweep 手动触发一轮超时巡检
// POST /api/v1/routing/sweeps/timeout
func (h *OpsHandler) TimeoutSweep(c *gin.Context) {
	report, err := h.router.RunRoutingTimeoutSweep(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, report)
}

// HealingCycle 手动触发一轮自愈巡检
// POST /api/v1/routing/sweeps/healing
func (h *OpsHandler) HealingCycle(c *gin.Context) {
	report, err := h.healer.RunSelfHealingCycle(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	ginx.Success(c, report)
}
