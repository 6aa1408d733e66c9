package ops

import (
	"context"

	"khaacho/dispatch/internal/business/healing"
	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/pkg/entity"
)

// Router 运维侧的编排能力
type Router interface {
	RunRoutingTimeoutSweep(ctx context.Context) (*routing.SweepReport, error)
	UpdateWeights(ctx context.Context, w routing.Weights) error
	RecalculateVendorScore(ctx context.Context, vendorID string) (*entity.VendorScore, error)
}

// Healer 自愈巡检能力
type Healer interface {
	RunSelfHealingCycle(ctx context.Context) (*healing.CycleReport, error)
	ResolveAction(ctx context.Context, actionID, note string) (*entity.HealingAction, error)
}

// OpsHandler 巡检、权重与人工处理
type OpsHandler struct {
	router Router
	healer Healer
}

// NewOpsHandler 创建运维处理器
func NewOpsHandler(router Router, healer Healer) *OpsHandler {
	return &OpsHandler{router: router, healer: healer}
}
