package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"khaacho/dispatch/internal/business/recovery"
	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// SubmitRequest 提交订单路由
// 订单已存在时只需要 OrderID，否则按请求内容创建订单
type SubmitRequest struct {
	OrderID       string
	RetailerID    string
	PaymentMethod string
	Items         []OrderLine
}

// OrderLine 订单行
type OrderLine struct {
	ProductID string
	Quantity  int
}

// SubmitOrderForRouting 提交订单进入路由
// 同一订单重复提交返回首次的结果
func (o *Orchestrator) SubmitOrderForRouting(ctx context.Context, req *SubmitRequest) (*Outcome, error) {
	if req == nil || req.OrderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrInvalidRequest)
	}

	return o.guard(ctx, "SubmitOrderForRouting", req.OrderID, func(ctx context.Context) (*Outcome, error) {
		key := submitKey(req.OrderID)
		var (
			wf     *entity.WorkflowState
			replay *Outcome
		)

		// 1. 占用幂等键、订单置为 ROUTING、创建工作流，同一事务
		err := o.store.Transaction(ctx, func(tx repo.Repos) error {
			rs := o.recovery.WithTx(tx)
			claimed, cached, err := o.claimOperation(ctx, rs, key, "submit_order", req.OrderID)
			if err != nil {
				return err
			}
			if !claimed {
				replay = cached
				return nil
			}

			order, err := o.loadOrCreateOrder(ctx, tx, req)
			if err != nil {
				return err
			}
			if order.Status != entity.OrderStatusPending {
				return fmt.Errorf("%w: order %s is %s", ErrOrderNotRoutable, order.ID, order.Status)
			}
			order.SetStatus(entity.OrderStatusRouting, o.now())
			if err := tx.Orders().Save(ctx, order); err != nil {
				return err
			}

			started, created, err := rs.StartWorkflow(ctx, WorkflowType, order.ID, string(StateSelecting), stepData{Attempt: 1})
			if err != nil {
				return err
			}
			if !created && started.Status != entity.WorkflowStatusInProgress {
				return fmt.Errorf("%w: routing workflow of %s already %s", ErrOrderNotRoutable, order.ID, started.Status)
			}
			wf = started
			return nil
		})
		if err != nil {
			return nil, err
		}
		if replay != nil {
			o.logger.Infof(ctx, "[Orchestrator] duplicate submission for order %s, status %s", req.OrderID, replay.Status)
			return replay, nil
		}

		// 2. 选择供应商并派单
		out, err := o.resume(ctx, wf)
		if err != nil {
			return out, err
		}
		o.completeOperation(ctx, key, out)
		return out, nil
	})
}

// StartRouting 为已存在的 PENDING 订单启动路由
func (o *Orchestrator) StartRouting(ctx context.Context, orderID string) (*Outcome, error) {
	return o.SubmitOrderForRouting(ctx, &SubmitRequest{OrderID: orderID})
}

func (o *Orchestrator) loadOrCreateOrder(ctx context.Context, tx repo.Repos, req *SubmitRequest) (*entity.Order, error) {
	order, err := tx.Orders().GetForUpdate(ctx, req.OrderID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order %s", ErrOrderNotFound, req.OrderID)
	}
	if req.RetailerID == "" {
		return nil, fmt.Errorf("%w: retailer_id is required", ErrInvalidRequest)
	}

	payment := req.PaymentMethod
	switch payment {
	case "":
		payment = entity.PaymentMethodCash
	case entity.PaymentMethodCash, entity.PaymentMethodCredit:
	default:
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, payment)
	}

	now := o.now()
	order = &entity.Order{
		ID:              req.OrderID,
		RetailerID:      req.RetailerID,
		Status:          entity.OrderStatusPending,
		PaymentMethod:   payment,
		Total:           decimal.Zero,
		StatusChangedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, line := range req.Items {
		if line.ProductID == "" || line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d needs product_id and positive quantity", ErrInvalidRequest, i+1)
		}
		order.Items = append(order.Items, entity.OrderItem{
			OrderID:   req.OrderID,
			LineNo:    i + 1,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: decimal.Zero,
		})
	}
	if err := tx.Orders().Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order %s: %w", req.OrderID, err)
	}
	return order, nil
}

// runSelection SELECTING 步骤：解析候选、评分、均衡选择、派单
func (o *Orchestrator) runSelection(ctx context.Context, wf *entity.WorkflowState) (*Outcome, error) {
	orderID := wf.EntityRef
	data, err := decodeStep(wf)
	if err != nil {
		return nil, err
	}
	if data.Attempt > o.cfg.MaxAttempts {
		return o.escalate(ctx, wf, data, fmt.Errorf("%w: %d attempts", ErrMaxAttemptsExceeded, data.Attempt-1))
	}

	order, err := o.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}

	// 1. 排除该订单尝试过的全部供应商
	tried, err := o.recovery.TriedVendors(ctx, orderID)
	if err != nil {
		return nil, err
	}
	cands, err := o.resolver.ResolveOrder(ctx, order.Items, tried)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return o.escalate(ctx, wf, data, fmt.Errorf("%w: order %s after %d vendors tried", ErrNoEligibleVendors, orderID, len(tried)))
	}

	// 2. 评分与均衡
	for _, c := range cands {
		o.scorer.Score(c)
	}
	decision, err := o.balancer.Select(ctx, order.Items[0].ProductID, cands)
	if errors.Is(err, ErrAllVendorsAtCapacity) {
		return o.deferSelection(ctx, wf, data)
	}
	if err != nil {
		return nil, err
	}

	// 3. 派单落库
	chosen := decision.Chosen
	audit, err := json.Marshal(decision.Evaluated)
	if err != nil {
		return nil, fmt.Errorf("marshal routing audit: %w", err)
	}

	var (
		next  *entity.WorkflowState
		retry *entity.AssignmentRetry
	)
	err = o.store.Transaction(ctx, func(tx repo.Repos) error {
		rs := o.recovery.WithTx(tx)
		now := o.now()

		created, err := rs.CreateRetry(ctx, orderID, chosen.VendorID, data.Attempt, o.cfg.MaxAttempts, now.Add(o.cfg.ResponseDeadline))
		if err != nil {
			return err
		}
		if err := o.scores.Record(ctx, tx, &entity.VendorScoreEvent{
			EventKey:  ScoreEventKey(entity.ScoreEventAssigned, created.ID),
			VendorID:  chosen.VendorID,
			EventType: entity.ScoreEventAssigned,
			OrderID:   orderID,
		}); err != nil {
			return err
		}

		locked, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		locked.SetStatus(entity.OrderStatusVendorAssigned, now)
		locked.AssignedVendorID = chosen.VendorID
		locked.Total = chosen.Price
		applyLinePrices(locked, chosen)
		if err := tx.Orders().Save(ctx, locked); err != nil {
			return err
		}

		if err := o.balancer.Commit(ctx, tx, decision); err != nil {
			return err
		}
		if err := tx.RoutingLogs().Create(ctx, &entity.OrderRoutingLog{
			OrderID:    orderID,
			Attempt:    data.Attempt,
			VendorID:   chosen.VendorID,
			Strategy:   string(decision.Strategy),
			Reason:     decision.Reason,
			Candidates: datatypes.JSON(audit),
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		advanced, err := rs.AdvanceWorkflow(ctx, wf, recovery.Transition{
			To: string(StateAssigned),
			Data: stepData{
				Attempt:  data.Attempt,
				RetryID:  created.ID,
				VendorID: chosen.VendorID,
			},
		})
		if err != nil {
			return err
		}
		next, retry = advanced, created
		return nil
	})
	if errors.Is(err, recovery.ErrStaleWorkflow) {
		return o.concurrentOutcome(ctx, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("assign order %s: %w", orderID, err)
	}

	o.logger.Infof(ctx, "[Orchestrator] order %s assigned to %s (attempt %d): %s",
		orderID, chosen.VendorID, data.Attempt, decision.Reason)

	// 4. 通知供应商并进入等待
	if _, err := o.awaitResponse(ctx, next); err != nil {
		return nil, err
	}
	return &Outcome{
		OrderID:  orderID,
		Status:   OutcomeAssigned,
		VendorID: chosen.VendorID,
		Attempt:  data.Attempt,
		RetryID:  retry.ID,
	}, nil
}

// deferSelection 全部满载：挂起工作流，退避后由超时巡检重新选择
func (o *Orchestrator) deferSelection(ctx context.Context, wf *entity.WorkflowState, data stepData) (*Outcome, error) {
	data.CapacityBackoffs++
	if data.CapacityBackoffs > o.cfg.MaxCapacityBackoffs {
		return o.escalate(ctx, wf, data, fmt.Errorf("%w: %d backoffs", ErrCapacityBackoffExhausted, o.cfg.MaxCapacityBackoffs))
	}

	until := o.now().Add(o.capacityBackoff(data.CapacityBackoffs))
	data.Reason = ErrAllVendorsAtCapacity.Error()
	err := o.store.Transaction(ctx, func(tx repo.Repos) error {
		rs := o.recovery.WithTx(tx)
		if _, err := rs.AdvanceWorkflow(ctx, wf, recovery.Transition{
			To:           string(StateSelecting),
			Data:         data,
			SuspendUntil: until,
			Retry:        true,
		}); err != nil {
			return err
		}
		return rs.ScheduleNextRetry(ctx, wf.EntityRef, until)
	})
	if errors.Is(err, recovery.ErrStaleWorkflow) {
		return o.concurrentOutcome(ctx, wf.EntityRef)
	}
	if err != nil {
		return nil, fmt.Errorf("defer order %s: %w", wf.EntityRef, err)
	}

	o.logger.Warnf(ctx, "[Orchestrator] all vendors at capacity for order %s, retry at %s (backoff %d)",
		wf.EntityRef, until.Format("15:04:05"), data.CapacityBackoffs)
	return &Outcome{
		OrderID:   wf.EntityRef,
		Status:    OutcomeDeferred,
		Attempt:   data.Attempt,
		NextRunAt: &until,
		Reason:    ErrAllVendorsAtCapacity.Error(),
	}, nil
}

// awaitResponse ASSIGNED/NOTIFIED 步骤：通知供应商（每次尝试至多一次），进入等待响应
func (o *Orchestrator) awaitResponse(ctx context.Context, wf *entity.WorkflowState) (*Outcome, error) {
	data, err := decodeStep(wf)
	if err != nil {
		return nil, err
	}
	retry, err := o.store.Retries().Get(ctx, data.RetryID)
	if err != nil {
		return nil, fmt.Errorf("load retry %s: %w", data.RetryID, err)
	}
	out := &Outcome{
		OrderID:  wf.EntityRef,
		Status:   OutcomeInProgress,
		VendorID: retry.VendorID,
		Attempt:  retry.AttemptNumber,
		RetryID:  retry.ID,
	}
	if !retry.IsActive() {
		return out, nil
	}

	if wf.CurrentStep == string(StateAssigned) {
		if err := o.notifyVendor(ctx, retry); err != nil {
			return nil, err
		}
		wf, err = o.recovery.AdvanceWorkflow(ctx, wf, recovery.Transition{To: string(StateNotified)})
		if errors.Is(err, recovery.ErrStaleWorkflow) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}

	err = o.store.Transaction(ctx, func(tx repo.Repos) error {
		rs := o.recovery.WithTx(tx)
		current, err := tx.Retries().Get(ctx, retry.ID)
		if err != nil {
			return err
		}
		if current.Status == entity.RetryStatusPending {
			if err := rs.TransitionRetry(ctx, current, entity.RetryStatusInProgress, ""); err != nil {
				return err
			}
		}
		_, err = rs.AdvanceWorkflow(ctx, wf, recovery.Transition{
			To:           string(StateAwaitingResponse),
			SuspendUntil: current.ResponseDeadline,
		})
		return err
	})
	if errors.Is(err, recovery.ErrStaleWorkflow) {
		// 供应商响应先于本步骤落库
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("await response for order %s: %w", wf.EntityRef, err)
	}
	return out, nil
}

// notifyVendor 按尝试幂等键通知供应商，已通知过则跳过
// 投递失败只记录日志，由响应超时驱动改派
func (o *Orchestrator) notifyVendor(ctx context.Context, retry *entity.AssignmentRetry) error {
	key := notifyKey(retry.OrderID, retry.AttemptNumber)
	claimed, err := o.recovery.CreateIdempotencyKey(ctx, key, "notify_vendor")
	if err != nil {
		return err
	}
	if !claimed {
		o.logger.Debugf(ctx, "[Orchestrator] vendor %s already notified for order %s attempt %d",
			retry.VendorID, retry.OrderID, retry.AttemptNumber)
		return nil
	}

	order, err := o.store.Orders().Get(ctx, retry.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", retry.OrderID, err)
	}
	summary := &collab.OrderSummary{
		OrderID:          order.ID,
		RetailerID:       order.RetailerID,
		Attempt:          retry.AttemptNumber,
		Total:            order.Total,
		ResponseDeadline: retry.ResponseDeadline,
	}
	for _, item := range order.Items {
		summary.Items = append(summary.Items, collab.SummaryItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	delivered := true
	if err := o.notifier.NotifyVendor(ctx, retry.VendorID, summary); err != nil {
		delivered = false
		o.logger.Errorf(ctx, "[Orchestrator] notify vendor %s for order %s failed: %v", retry.VendorID, order.ID, err)
	}
	if err := o.recovery.CompleteIdempotencyKey(ctx, key, map[string]interface{}{
		"vendor_id": retry.VendorID,
		"delivered": delivered,
	}); err != nil {
		o.logger.Errorf(ctx, "[Orchestrator] complete notify key %s failed: %v", key, err)
	}
	return nil
}

func applyLinePrices(order *entity.Order, chosen *Candidate) {
	prices := make(map[string]decimal.Decimal, len(chosen.Lines))
	for _, line := range chosen.Lines {
		prices[line.ProductID] = line.UnitPrice
	}
	for i := range order.Items {
		if p, ok := prices[order.Items[i].ProductID]; ok {
			order.Items[i].UnitPrice = p
		}
	}
}
