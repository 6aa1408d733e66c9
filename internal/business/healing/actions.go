package healing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// nextStatus RETRY_WORKFLOW 的订单状态推进表
var nextStatus = map[string]string{
	entity.OrderStatusPending:    entity.OrderStatusRouting,
	entity.OrderStatusAccepted:   entity.OrderStatusProcessing,
	entity.OrderStatusProcessing: entity.OrderStatusDispatched,
	entity.OrderStatusDispatched: entity.OrderStatusDelivered,
	entity.OrderStatusDelivered:  entity.OrderStatusCompleted,
}

// NextStatus RETRY_WORKFLOW 推进后的订单状态
func NextStatus(status string) (string, bool) {
	next, ok := nextStatus[status]
	return next, ok
}

// ExecuteHealing 执行一条修复动作
// 失败计数 +1，达到上限后转人工；人工动作只通知并标记
func (m *Monitor) ExecuteHealing(ctx context.Context, action *entity.HealingAction) error {
	if !action.IsOpen() || action.RequiresManualIntervention {
		return nil
	}

	if action.RecoveryAction == ActionManualIntervention {
		m.handToOperator(ctx, action, "")
		return m.save(ctx, action)
	}

	err := m.dispatch(ctx, action)
	now := m.recovery.Now()
	action.UpdatedAt = now
	if err == nil {
		action.RecoveryStatus = entity.HealingStatusSuccess
		action.ResolvedAt = &now
		action.LastError = ""
		m.logger.Infof(ctx, "[Healing] %s for order %s succeeded", action.RecoveryAction, action.OrderRef)
		return m.save(ctx, action)
	}

	action.RetryCount++
	action.LastError = truncate(err.Error(), 512)
	m.logger.Warnf(ctx, "[Healing] %s for order %s failed (%d/%d): %v",
		action.RecoveryAction, action.OrderRef, action.RetryCount, m.cfg.MaxRetries, err)
	if action.RetryCount >= m.cfg.MaxRetries {
		action.RecoveryStatus = entity.HealingStatusFailed
		m.handToOperator(ctx, action, err.Error())
	}
	if serr := m.save(ctx, action); serr != nil {
		return serr
	}
	return fmt.Errorf("%w: %s on %s: %v", ErrHealingExecutionFailure, action.RecoveryAction, action.OrderRef, err)
}

// handToOperator 转人工：标记并通知运营
func (m *Monitor) handToOperator(ctx context.Context, action *entity.HealingAction, cause string) {
	action.RecoveryAction = ActionManualIntervention
	action.RequiresManualIntervention = true
	action.UpdatedAt = m.recovery.Now()

	details := map[string]interface{}{
		"healing_action_id": action.ID,
		"issue_type":        action.IssueType,
		"original_action":   action.OriginalAction,
		"retry_count":       action.RetryCount,
	}
	message := fmt.Sprintf("%s requires manual intervention", action.IssueType)
	if cause != "" {
		message = fmt.Sprintf("%s: %s failed %d times: %s", action.IssueType, action.OriginalAction, action.RetryCount, cause)
	}
	if err := m.admin.Notify(ctx, &collab.AdminEvent{
		Type:       "HEALING_MANUAL_INTERVENTION",
		OrderID:    action.OrderRef,
		Severity:   action.Severity,
		Message:    message,
		Details:    details,
		OccurredAt: m.recovery.Now(),
	}); err != nil {
		m.logger.Errorf(ctx, "[Healing] admin notification for order %s failed: %v", action.OrderRef, err)
	}
}

func (m *Monitor) save(ctx context.Context, action *entity.HealingAction) error {
	if err := m.store.Healing().Save(ctx, action); err != nil {
		return fmt.Errorf("save healing action %s: %w", action.ID, err)
	}
	return nil
}

// dispatch 执行动作本身，恰好一种
func (m *Monitor) dispatch(ctx context.Context, action *entity.HealingAction) error {
	switch action.RecoveryAction {
	case ActionReassignVendor:
		_, err := m.router.ReassignVendor(ctx, action.OrderRef, "stuck in vendor assignment")
		return err
	case ActionRetryWorkflow:
		return m.retryWorkflow(ctx, action)
	case ActionCancelOrder:
		_, err := m.router.CancelOrder(ctx, action.OrderRef, "abandoned: never routed")
		return err
	default:
		return fmt.Errorf("unknown recovery action %s", action.RecoveryAction)
	}
}

type actionDetails struct {
	EventID      string `json:"event_id"`
	WorkflowID   string `json:"workflow_id"`
	WorkflowType string `json:"workflow_type"`
}

// retryWorkflow 卡住的事件重放；路由中的订单交给编排器恢复；其余按状态推进表推进
func (m *Monitor) retryWorkflow(ctx context.Context, action *entity.HealingAction) error {
	var details actionDetails
	if len(action.Details) > 0 {
		if err := json.Unmarshal(action.Details, &details); err != nil {
			return fmt.Errorf("decode healing details: %w", err)
		}
	}

	if action.IssueType == IssueStuckEvent {
		if details.EventID == "" {
			return errors.New("stuck event without event_id")
		}
		_, err := m.router.RedriveEvent(ctx, details.EventID)
		return err
	}

	order, err := m.store.Orders().Get(ctx, action.OrderRef)
	if err != nil {
		return fmt.Errorf("load order %s: %w", action.OrderRef, err)
	}

	switch order.Status {
	case entity.OrderStatusRouting, entity.OrderStatusVendorAssigned:
		_, err = m.router.ResumeRouting(ctx, order.ID)
	case entity.OrderStatusPending:
		_, err = m.router.StartRouting(ctx, order.ID)
	default:
		next, ok := nextStatus[order.Status]
		if !ok {
			return fmt.Errorf("no retry path for order %s in %s", order.ID, order.Status)
		}
		err = m.advanceOrder(ctx, order, next)
	}
	if err != nil {
		return err
	}

	// 非路由工作流：推进后刷新心跳
	if details.WorkflowID != "" && details.WorkflowType != routing.WorkflowType {
		if err := m.recovery.UpdateHeartbeat(ctx, details.WorkflowID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	return nil
}

// advanceOrder 按推进表推进订单状态
// 发货时扣减预留库存，送达时记录评分事件
func (m *Monitor) advanceOrder(ctx context.Context, order *entity.Order, next string) error {
	if next == entity.OrderStatusDispatched {
		for _, item := range order.Items {
			if err := m.reduceLine(ctx, order, item); err != nil {
				return fmt.Errorf("reduce stock for order %s: %w", order.ID, err)
			}
		}
	}

	from := order.Status
	err := m.store.Transaction(ctx, func(tx repo.Repos) error {
		locked, err := tx.Orders().GetForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status != from {
			return nil
		}
		now := m.recovery.Now()
		locked.SetStatus(next, now)
		if err := tx.Orders().Save(ctx, locked); err != nil {
			return err
		}
		if next == entity.OrderStatusDelivered && locked.AssignedVendorID != "" {
			return m.scores.Record(ctx, tx, &entity.VendorScoreEvent{
				EventKey:  routing.ScoreEventKey(entity.ScoreEventDelivered, order.ID),
				VendorID:  locked.AssignedVendorID,
				EventType: entity.ScoreEventDelivered,
				OrderID:   order.ID,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("advance order %s %s -> %s: %w", order.ID, from, next, err)
	}
	m.logger.Infof(ctx, "[Healing] order %s advanced %s -> %s", order.ID, from, next)
	return nil
}

// ReduceKey 订单行出库扣减的幂等键
func ReduceKey(orderID string, lineNo int) string {
	return fmt.Sprintf("inventory:reduce:%s:%d", orderID, lineNo)
}

type reduceResult struct {
	Reduced bool   `json:"reduced"`
	Error   string `json:"error,omitempty"`
}

// reduceLine 每个订单行只扣减一次
// 上次扣减失败的行重试；结果未知的行不再扣减，直接报错等待人工
func (m *Monitor) reduceLine(ctx context.Context, order *entity.Order, item entity.OrderItem) error {
	key := ReduceKey(order.ID, item.LineNo)
	claimed, err := m.recovery.CreateIdempotencyKey(ctx, key, "reduce_stock")
	if err != nil {
		return err
	}
	if !claimed {
		existing, err := m.recovery.CheckIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.CompletedAt == nil {
				return fmt.Errorf("line %d: previous reduction has no recorded result", item.LineNo)
			}
			var prev reduceResult
			if err := json.Unmarshal(existing.Result, &prev); err != nil {
				return fmt.Errorf("line %d: decode reduction result: %w", item.LineNo, err)
			}
			if prev.Reduced {
				return nil
			}
		}
	}

	rerr := m.inventory.Reduce(ctx, order.AssignedVendorID, item.ProductID, item.Quantity)
	result := reduceResult{Reduced: rerr == nil}
	if rerr != nil {
		result.Error = truncate(rerr.Error(), 255)
	}
	if err := m.recovery.CompleteIdempotencyKey(ctx, key, result); err != nil {
		m.logger.Errorf(ctx, "[Healing] record reduction %s failed: %v", key, err)
	}
	if rerr != nil {
		return fmt.Errorf("line %d: %w", item.LineNo, rerr)
	}
	return nil
}
