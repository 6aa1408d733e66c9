package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"khaacho/dispatch/internal/business/recovery"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// 库存预留失败时按拒单处理的原因
const reasonStockUnavailable = "stock unavailable"

// VendorResponse 供应商接单/拒单
type VendorResponse struct {
	EventID  string `json:"event_id,omitempty"` // 入站事件 ID，重放时复用
	OrderID  string `json:"order_id"`
	VendorID string `json:"vendor_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// HandleVendorResponse 处理供应商响应
// 只作用于该供应商在该订单上的活跃尝试，同一尝试的重复响应返回首次结果
func (o *Orchestrator) HandleVendorResponse(ctx context.Context, resp *VendorResponse) (*Outcome, error) {
	if resp == nil || resp.OrderID == "" || resp.VendorID == "" {
		return nil, fmt.Errorf("%w: order_id and vendor_id are required", ErrInvalidRequest)
	}

	return o.guard(ctx, "HandleVendorResponse", resp.OrderID, func(ctx context.Context) (*Outcome, error) {
		event, err := o.beginEvent(ctx, resp)
		if err != nil {
			return nil, err
		}
		out, err := o.applyResponse(ctx, resp)
		o.finishEvent(ctx, event, err)
		return out, err
	})
}

// RedriveEvent 重新处理卡在处理中的入站事件
func (o *Orchestrator) RedriveEvent(ctx context.Context, eventID string) (*Outcome, error) {
	event, err := o.store.Events().Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load routing event %s: %w", eventID, err)
	}
	if event.EventType != entity.EventTypeVendorResponse {
		return nil, fmt.Errorf("%w: unsupported event type %s", ErrInvalidRequest, event.EventType)
	}
	var resp VendorResponse
	if err := json.Unmarshal(event.Payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode event %s: %v", ErrInvalidRequest, eventID, err)
	}
	resp.EventID = event.ID
	return o.HandleVendorResponse(ctx, &resp)
}

// beginEvent 记录入站事件并标记处理中
func (o *Orchestrator) beginEvent(ctx context.Context, resp *VendorResponse) (*entity.RoutingEvent, error) {
	now := o.now()
	if resp.EventID == "" {
		resp.EventID = uuid.New().String()
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	event := &entity.RoutingEvent{
		ID:                  resp.EventID,
		EventType:           entity.EventTypeVendorResponse,
		OrderID:             resp.OrderID,
		Payload:             datatypes.JSON(payload),
		Status:              entity.EventStatusProcessing,
		Attempts:            1,
		ProcessingStartedAt: now,
		CreatedAt:           now,
	}
	err = o.store.Events().Create(ctx, event)
	if err == nil {
		return event, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return nil, fmt.Errorf("record routing event: %w", err)
	}

	existing, err := o.store.Events().Get(ctx, resp.EventID)
	if err != nil {
		return nil, err
	}
	existing.Status = entity.EventStatusProcessing
	existing.Attempts++
	existing.ProcessingStartedAt = now
	if err := o.store.Events().Save(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// finishEvent 处理成功或调用方错误时关闭事件；其他错误保持处理中，由自愈巡检重放
func (o *Orchestrator) finishEvent(ctx context.Context, event *entity.RoutingEvent, cause error) {
	if cause != nil {
		event.LastError = truncateText(cause.Error(), 512)
	}
	if cause == nil || IsCallerError(cause) {
		now := o.now()
		event.Status = entity.EventStatusProcessed
		event.ProcessedAt = &now
	}
	if err := o.store.Events().Save(ctx, event); err != nil {
		o.logger.Errorf(ctx, "[Orchestrator] save routing event %s failed: %v", event.ID, err)
	}
}

func (o *Orchestrator) applyResponse(ctx context.Context, resp *VendorResponse) (*Outcome, error) {
	retry, err := o.latestRetry(ctx, resp.OrderID, resp.VendorID)
	if err != nil {
		return nil, err
	}
	key := responseKey(retry.ID)

	if !retry.IsActive() {
		cached, err := o.recovery.CheckIdempotencyKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if cached != nil && cached.Completed() {
			var out Outcome
			if err := json.Unmarshal(cached.Result, &out); err != nil {
				return nil, err
			}
			out.Replayed = true
			return &out, nil
		}
		return nil, fmt.Errorf("%w: retry %s is %s", ErrStaleResponse, retry.ID, retry.Status)
	}

	wf, err := o.recovery.GetWorkflow(ctx, WorkflowType, resp.OrderID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("routing workflow of order %s missing", resp.OrderID)
	}
	if wf, err = o.catchUp(ctx, wf); err != nil {
		return nil, err
	}

	if resp.Accepted {
		out, err := o.accept(ctx, wf, retry, key)
		if !errors.Is(err, errReservationFailed) {
			return out, err
		}
		o.logger.Warnf(ctx, "[Orchestrator] vendor %s accepted order %s without stock: %v", resp.VendorID, resp.OrderID, err)
		resp.Reason = reasonStockUnavailable
	}
	return o.reject(ctx, wf, retry, key, resp.Reason)
}

// latestRetry 供应商在订单上最近一次尝试
func (o *Orchestrator) latestRetry(ctx context.Context, orderID, vendorID string) (*entity.AssignmentRetry, error) {
	retries, err := o.store.Retries().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var latest *entity.AssignmentRetry
	for _, r := range retries {
		if r.VendorID == vendorID && (latest == nil || r.AttemptNumber > latest.AttemptNumber) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: vendor %s was never assigned order %s", ErrStaleResponse, vendorID, orderID)
	}
	return latest, nil
}

// catchUp 响应先于等待步骤到达时，把工作流补推进到 AWAITING_RESPONSE
func (o *Orchestrator) catchUp(ctx context.Context, wf *entity.WorkflowState) (*entity.WorkflowState, error) {
	var err error
	for _, step := range []State{StateNotified, StateAwaitingResponse} {
		if State(wf.CurrentStep) == StateAwaitingResponse {
			return wf, nil
		}
		if !CanTransition(State(wf.CurrentStep), step) {
			continue
		}
		wf, err = o.recovery.AdvanceWorkflow(ctx, wf, recovery.Transition{To: string(step)})
		if err != nil {
			return nil, err
		}
	}
	if State(wf.CurrentStep) != StateAwaitingResponse {
		return nil, fmt.Errorf("%w: response while workflow at %s", ErrIllegalTransition, wf.CurrentStep)
	}
	return wf, nil
}

var errReservationFailed = errors.New("stock reservation failed")

func (o *Orchestrator) accept(ctx context.Context, wf *entity.WorkflowState, retry *entity.AssignmentRetry, key string) (*Outcome, error) {
	order, err := o.store.Orders().Get(ctx, retry.OrderID)
	if err != nil {
		return nil, err
	}

	// 1. 预留库存，任一行失败则回滚已预留的行
	reserved := make([]entity.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if err := o.inventory.Reserve(ctx, retry.VendorID, item.ProductID, item.Quantity); err != nil {
			o.releaseStock(ctx, retry.VendorID, reserved)
			return nil, fmt.Errorf("%w: %v", errReservationFailed, err)
		}
		reserved = append(reserved, item)
	}

	// 2. 尝试成功、评分事件、订单接单、工作流完成
	var replay *Outcome
	out := &Outcome{
		OrderID:  retry.OrderID,
		Status:   OutcomeAccepted,
		VendorID: retry.VendorID,
		Attempt:  retry.AttemptNumber,
		RetryID:  retry.ID,
	}
	err = o.store.Transaction(ctx, func(tx repo.Repos) error {
		rs := o.recovery.WithTx(tx)
		claimed, cached, err := o.claimOperation(ctx, rs, key, "vendor_response", retry.OrderID)
		if err != nil {
			return err
		}
		if !claimed {
			replay = cached
			return nil
		}

		current, err := tx.Retries().Get(ctx, retry.ID)
		if err != nil {
			return err
		}
		if err := rs.TransitionRetry(ctx, current, entity.RetryStatusSuccess, ""); err != nil {
			return err
		}
		now := o.now()
		if err := o.scores.Record(ctx, tx, &entity.VendorScoreEvent{
			EventKey:  ScoreEventKey(entity.ScoreEventAccepted, retry.ID),
			VendorID:  retry.VendorID,
			EventType: entity.ScoreEventAccepted,
			OrderID:   retry.OrderID,
			Value:     responseMinutes(retry, now),
		}); err != nil {
			return err
		}

		locked, err := tx.Orders().GetForUpdate(ctx, retry.OrderID)
		if err != nil {
			return err
		}
		locked.SetStatus(entity.OrderStatusAccepted, now)
		locked.AcceptedAt = &now
		if err := tx.Orders().Save(ctx, locked); err != nil {
			return err
		}

		data, _ := decodeStep(wf)
		_, err = rs.AdvanceWorkflow(ctx, wf, recovery.Transition{
			To:     string(StateAccepted),
			Data:   data,
			Status: entity.WorkflowStatusCompleted,
		})
		return err
	})
	if err != nil || replay != nil {
		o.releaseStock(ctx, retry.VendorID, reserved)
	}
	if err != nil {
		return nil, fmt.Errorf("accept order %s: %w", retry.OrderID, err)
	}
	if replay != nil {
		return replay, nil
	}

	o.logger.Infof(ctx, "[Orchestrator] vendor %s accepted order %s (attempt %d)", retry.VendorID, retry.OrderID, retry.AttemptNumber)
	o.completeOperation(ctx, key, out)
	return out, nil
}

func (o *Orchestrator) reject(ctx context.Context, wf *entity.WorkflowState, retry *entity.AssignmentRetry, key, reason string) (*Outcome, error) {
	if reason == "" {
		reason = "rejected by vendor"
	}

	var (
		next   *entity.WorkflowState
		replay *Outcome
	)
	err := o.store.Transaction(ctx, func(tx repo.Repos) error {
		rs := o.recovery.WithTx(tx)
		claimed, cached, err := o.claimOperation(ctx, rs, key, "vendor_response", retry.OrderID)
		if err != nil {
			return err
		}
		if !claimed {
			replay = cached
			return nil
		}

		current, err := tx.Retries().Get(ctx, retry.ID)
		if err != nil {
			return err
		}
		now := o.now()
		if current.AttemptNumber < o.cfg.MaxAttempts {
			current.NextRetryAt = &now
		}
		if err := rs.TransitionRetry(ctx, current, entity.RetryStatusFailed, truncateText(reason, 255)); err != nil {
			return err
		}
		if err := o.scores.Record(ctx, tx, &entity.VendorScoreEvent{
			EventKey:  ScoreEventKey(entity.ScoreEventRejected, retry.ID),
			VendorID:  retry.VendorID,
			EventType: entity.ScoreEventRejected,
			OrderID:   retry.OrderID,
			Value:     responseMinutes(retry, now),
		}); err != nil {
			return err
		}
		if err := o.releaseOrder(ctx, tx, retry.OrderID); err != nil {
			return err
		}

		next, err = rs.AdvanceWorkflow(ctx, wf, recovery.Transition{
			To:   string(StateRejected),
			Data: stepData{Attempt: retry.AttemptNumber, Reason: reason},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reject order %s: %w", retry.OrderID, err)
	}
	if replay != nil {
		return replay, nil
	}

	o.logger.Infof(ctx, "[Orchestrator] vendor %s rejected order %s: %s", retry.VendorID, retry.OrderID, reason)

	// 改派下一个供应商
	out, err := o.reroute(ctx, next)
	if err != nil {
		return nil, err
	}
	o.completeOperation(ctx, key, out)
	return out, nil
}

// reroute REJECTED/TIMED_OUT 之后：尝试次数用尽转恢复，否则回到 SELECTING
func (o *Orchestrator) reroute(ctx context.Context, wf *entity.WorkflowState) (*Outcome, error) {
	data, err := decodeStep(wf)
	if err != nil {
		return nil, err
	}
	if data.Attempt >= o.cfg.MaxAttempts {
		return o.escalate(ctx, wf, data, fmt.Errorf("%w: %d attempts", ErrMaxAttemptsExceeded, data.Attempt))
	}

	next, err := o.recovery.AdvanceWorkflow(ctx, wf, recovery.Transition{
		To:    string(StateSelecting),
		Data:  stepData{Attempt: data.Attempt + 1},
		Retry: true,
	})
	if errors.Is(err, recovery.ErrStaleWorkflow) {
		return o.concurrentOutcome(ctx, wf.EntityRef)
	}
	if err != nil {
		return nil, fmt.Errorf("reroute order %s: %w", wf.EntityRef, err)
	}
	return o.runSelection(ctx, next)
}

// releaseOrder 订单回到 ROUTING 并清空已分配供应商（需在事务内调用）
func (o *Orchestrator) releaseOrder(ctx context.Context, tx repo.Repos, orderID string) error {
	order, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	order.SetStatus(entity.OrderStatusRouting, o.now())
	order.AssignedVendorID = ""
	return tx.Orders().Save(ctx, order)
}

func (o *Orchestrator) releaseStock(ctx context.Context, vendorID string, items []entity.OrderItem) {
	for _, item := range items {
		if err := o.inventory.Restore(ctx, vendorID, item.ProductID, item.Quantity); err != nil {
			o.logger.Errorf(ctx, "[Orchestrator] restore stock %s/%s x%d failed: %v",
				vendorID, item.ProductID, item.Quantity, err)
		}
	}
}

// responseMinutes 派单到响应的分钟数
func responseMinutes(retry *entity.AssignmentRetry, at time.Time) float64 {
	minutes := at.Sub(retry.CreatedAt).Minutes()
	if minutes < 0 {
		return 0
	}
	return math.Round(minutes*100) / 100
}

// truncateText 截断到 n 字节以内，不切断多字节字符
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
