package routing

import (
	"context"
	"errors"
	"fmt"

	"khaacho/dispatch/internal/business/recovery"
	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// CancelOrder 取消订单
// 中止进行中的派单尝试并停止后续自动重试；已接单的订单释放预留库存；信用支付写退款流水
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, reason string) (*Outcome, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrInvalidRequest)
	}
	if reason == "" {
		reason = "cancelled"
	}

	return o.guard(ctx, "CancelOrder", orderID, func(ctx context.Context) (*Outcome, error) {
		key := cancelKey(orderID)
		var (
			order        *entity.Order
			replay       *Outcome
			restoreStock bool
		)

		err := o.store.Transaction(ctx, func(tx repo.Repos) error {
			rs := o.recovery.WithTx(tx)
			claimed, cached, err := o.claimOperation(ctx, rs, key, "cancel_order", orderID)
			if err != nil {
				return err
			}
			if !claimed {
				replay = cached
				return nil
			}

			locked, err := tx.Orders().GetForUpdate(ctx, orderID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
				}
				return err
			}
			switch locked.Status {
			case entity.OrderStatusDelivered, entity.OrderStatusCompleted, entity.OrderStatusCancelled:
				return fmt.Errorf("%w: order %s is %s", ErrOrderNotCancellable, orderID, locked.Status)
			}

			// 1. 中止活跃尝试
			active, err := rs.ActiveRetry(ctx, orderID)
			if err != nil {
				return err
			}
			if active != nil {
				if err := rs.TransitionRetry(ctx, active, entity.RetryStatusAborted, truncateText(reason, 255)); err != nil {
					return err
				}
				if err := o.scores.Record(ctx, tx, &entity.VendorScoreEvent{
					EventKey:  ScoreEventKey(entity.ScoreEventCancelled, active.ID),
					VendorID:  active.VendorID,
					EventType: entity.ScoreEventCancelled,
					OrderID:   orderID,
				}); err != nil {
					return err
				}
			}

			// 2. 已接单：释放供应商负载
			switch locked.Status {
			case entity.OrderStatusAccepted, entity.OrderStatusProcessing, entity.OrderStatusDispatched:
				if err := o.scores.Record(ctx, tx, &entity.VendorScoreEvent{
					EventKey:  ScoreEventKey(entity.ScoreEventCancelled, "order:"+orderID),
					VendorID:  locked.AssignedVendorID,
					EventType: entity.ScoreEventCancelled,
					OrderID:   orderID,
					Value:     1,
				}); err != nil {
					return err
				}
				restoreStock = locked.Status != entity.OrderStatusDispatched
			}

			// 3. 工作流结束
			wf, err := rs.GetWorkflow(ctx, WorkflowType, orderID)
			if err != nil {
				return err
			}
			if wf != nil && wf.Status == entity.WorkflowStatusInProgress {
				if _, err := rs.AdvanceWorkflow(ctx, wf, recovery.Transition{
					To:     string(StateCancelled),
					Data:   stepData{Attempt: attemptOf(wf), Reason: reason},
					Status: entity.WorkflowStatusCompleted,
				}); err != nil {
					return err
				}
			}

			now := o.now()
			locked.SetStatus(entity.OrderStatusCancelled, now)
			locked.CancelledAt = &now
			if err := tx.Orders().Save(ctx, locked); err != nil {
				return err
			}
			order = locked
			return nil
		})
		if err != nil {
			return nil, err
		}
		if replay != nil {
			return replay, nil
		}

		// 4. 外部补偿
		if restoreStock {
			o.releaseStock(ctx, order.AssignedVendorID, order.Items)
		}
		if order.PaymentMethod == entity.PaymentMethodCredit {
			o.refund(ctx, order)
		}

		o.logger.Infof(ctx, "[Orchestrator] order %s cancelled: %s", orderID, reason)
		out := &Outcome{OrderID: orderID, Status: OutcomeCancelled, VendorID: order.AssignedVendorID, Reason: reason}
		o.completeOperation(ctx, key, out)
		return out, nil
	})
}

// refund 信用支付订单退款，失败时转人工
func (o *Orchestrator) refund(ctx context.Context, order *entity.Order) {
	err := o.ledger.RecordRefund(ctx, order.RetailerID, order.Total, order.ID)
	if err == nil {
		return
	}
	o.logger.Errorf(ctx, "[Orchestrator] refund for order %s failed: %v", order.ID, err)
	o.recordHealing(ctx, order.ID, IssueRefundFailed, actionManualIntervention, "HIGH", true, map[string]interface{}{
		"retailer_id": order.RetailerID,
		"amount":      order.Total.StringFixed(2),
		"error":       err.Error(),
	})
	o.notifyAdmin(ctx, &collab.AdminEvent{
		Type:     "REFUND_FAILED",
		OrderID:  order.ID,
		Severity: "HIGH",
		Message:  err.Error(),
		Details: map[string]interface{}{
			"retailer_id": order.RetailerID,
			"amount":      order.Total.StringFixed(2),
		},
	})
}

func attemptOf(wf *entity.WorkflowState) int {
	data, err := decodeStep(wf)
	if err != nil {
		return 0
	}
	return data.Attempt
}
