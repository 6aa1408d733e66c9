package routing

import (
	"context"
	"errors"
	"fmt"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// RoutingStatus 订单路由状态视图
type RoutingStatus struct {
	Order        *entity.Order
	Workflow     *entity.WorkflowState
	ActiveRetry  *entity.AssignmentRetry
	Retries      []*entity.AssignmentRetry
	TriedVendors []string
	Decisions    []*entity.OrderRoutingLog
	Recovery     *entity.OrderRecovery
}

// GetRoutingStatus 查询订单、派单尝试、已尝试供应商与决策审计
func (o *Orchestrator) GetRoutingStatus(ctx context.Context, orderID string) (*RoutingStatus, error) {
	order, err := o.store.Orders().Get(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	status := &RoutingStatus{Order: order}
	if status.Workflow, err = o.recovery.GetWorkflow(ctx, WorkflowType, orderID); err != nil {
		return nil, err
	}
	if status.Retries, err = o.store.Retries().ListByOrder(ctx, orderID); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, r := range status.Retries {
		if r.IsActive() {
			status.ActiveRetry = r
		}
		if !seen[r.VendorID] {
			seen[r.VendorID] = true
			status.TriedVendors = append(status.TriedVendors, r.VendorID)
		}
	}
	if status.Decisions, err = o.store.RoutingLogs().ListByOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if status.Recovery, err = o.store.Recoveries().FindOpen(ctx, orderID); err != nil {
		return nil, err
	}
	return status, nil
}

// UpdateWeights 更新评分权重，非法权重被拒绝且保留原权重
func (o *Orchestrator) UpdateWeights(ctx context.Context, w Weights) error {
	if err := o.scorer.UpdateWeights(w); err != nil {
		return err
	}
	o.logger.Infof(ctx, "[Orchestrator] scoring weights updated: %+v", w)
	return nil
}

// RecalculateVendorScore 从事件流重建供应商评分
func (o *Orchestrator) RecalculateVendorScore(ctx context.Context, vendorID string) (*entity.VendorScore, error) {
	if vendorID == "" {
		return nil, fmt.Errorf("%w: vendor_id is required", ErrInvalidRequest)
	}
	return o.scores.Recalculate(ctx, vendorID)
}
