package routing

import (
	"context"
	"errors"
	"fmt"

	"khaacho/dispatch/internal/business/recovery"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// SweepReport 超时巡检统计
type SweepReport struct {
	TimedOut int `json:"timed_out"`
	Retried  int `json:"retried"`
	Resumed  int `json:"resumed"`
	Failed   int `json:"failed"`
}

// RunRoutingTimeoutSweep 超时巡检
// 1. 响应超时的尝试标记超时并改派
// 2. 满载退避到期的工作流重新选择
// 3. 心跳过期的路由工作流从最后落库的步骤恢复
func (o *Orchestrator) RunRoutingTimeoutSweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	expired, err := o.recovery.ExpiredRetries(ctx, o.cfg.SweepBatch)
	if err != nil {
		return nil, fmt.Errorf("list expired retries: %w", err)
	}
	for _, retry := range expired {
		retry := retry
		if _, err := o.guard(ctx, "HandleTimeout", retry.OrderID, func(ctx context.Context) (*Outcome, error) {
			return o.timeoutRetry(ctx, retry.ID, "response deadline passed")
		}); err != nil {
			report.Failed++
			continue
		}
		report.TimedOut++
	}

	due, err := o.recovery.DueWorkflows(ctx, WorkflowType, o.cfg.SweepBatch)
	if err != nil {
		return report, fmt.Errorf("list due workflows: %w", err)
	}
	for _, wf := range due {
		wf := wf
		if _, err := o.guard(ctx, "RetryDeferred", wf.EntityRef, func(ctx context.Context) (*Outcome, error) {
			return o.resume(ctx, wf)
		}); err != nil {
			report.Failed++
			continue
		}
		report.Retried++
	}

	staleMinutes := int(o.cfg.HeartbeatStaleness.Minutes())
	stale, err := o.recovery.GetStaleWorkflows(ctx, staleMinutes, o.cfg.SweepBatch)
	if err != nil {
		return report, fmt.Errorf("list stale workflows: %w", err)
	}
	for _, wf := range stale {
		if wf.WorkflowType != WorkflowType {
			continue
		}
		wf := wf
		if _, err := o.guard(ctx, "ResumeRouting", wf.EntityRef, func(ctx context.Context) (*Outcome, error) {
			return o.resumeStale(ctx, wf)
		}); err != nil {
			report.Failed++
			continue
		}
		report.Resumed++
	}

	if report.TimedOut+report.Retried+report.Resumed+report.Failed > 0 {
		o.logger.Infof(ctx, "[Orchestrator] timeout sweep: timed_out=%d retried=%d resumed=%d failed=%d",
			report.TimedOut, report.Retried, report.Resumed, report.Failed)
	}
	return report, nil
}

// ResumeRouting 从最后落库的步骤继续订单路由
func (o *Orchestrator) ResumeRouting(ctx context.Context, orderID string) (*Outcome, error) {
	return o.guard(ctx, "ResumeRouting", orderID, func(ctx context.Context) (*Outcome, error) {
		wf, err := o.recovery.GetWorkflow(ctx, WorkflowType, orderID)
		if err != nil {
			return nil, err
		}
		if wf == nil {
			return nil, fmt.Errorf("%w: order %s has no routing workflow", ErrOrderNotRoutable, orderID)
		}
		return o.resumeStale(ctx, wf)
	})
}

// resumeStale 心跳过期后恢复，先登记一次重试
func (o *Orchestrator) resumeStale(ctx context.Context, wf *entity.WorkflowState) (*Outcome, error) {
	marked, err := o.recovery.MarkResumed(ctx, wf)
	if errors.Is(err, recovery.ErrStaleWorkflow) {
		return o.concurrentOutcome(ctx, wf.EntityRef)
	}
	if err != nil {
		return nil, err
	}
	return o.resume(ctx, marked)
}

// concurrentOutcome 工作流已被并发推进（如取消）时，按最新落库状态返回
func (o *Orchestrator) concurrentOutcome(ctx context.Context, orderID string) (*Outcome, error) {
	wf, err := o.recovery.GetWorkflow(ctx, WorkflowType, orderID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("%w: order %s has no routing workflow", ErrOrderNotRoutable, orderID)
	}
	o.logger.Infof(ctx, "[Orchestrator] order %s advanced concurrently, now at %s", orderID, wf.CurrentStep)
	return o.statusOutcome(ctx, wf)
}

// ReassignVendor 放弃当前供应商并改派
func (o *Orchestrator) ReassignVendor(ctx context.Context, orderID, reason string) (*Outcome, error) {
	return o.guard(ctx, "ReassignVendor", orderID, func(ctx context.Context) (*Outcome, error) {
		active, err := o.recovery.ActiveRetry(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if active == nil {
			wf, err := o.recovery.GetWorkflow(ctx, WorkflowType, orderID)
			if err != nil {
				return nil, err
			}
			if wf == nil {
				return nil, fmt.Errorf("%w: order %s has no routing workflow", ErrOrderNotRoutable, orderID)
			}
			return o.resume(ctx, wf)
		}
		return o.abandonRetry(ctx, active.ID, entity.RetryStatusAborted, entity.ScoreEventReassigned, reason)
	})
}

// resume 按当前步骤恢复
func (o *Orchestrator) resume(ctx context.Context, wf *entity.WorkflowState) (*Outcome, error) {
	if wf.Status != entity.WorkflowStatusInProgress {
		return o.statusOutcome(ctx, wf)
	}

	switch State(wf.CurrentStep) {
	case StateSelecting:
		return o.runSelection(ctx, wf)
	case StateAssigned, StateNotified:
		return o.awaitResponse(ctx, wf)
	case StateAwaitingResponse:
		data, err := decodeStep(wf)
		if err != nil {
			return nil, err
		}
		retry, err := o.store.Retries().Get(ctx, data.RetryID)
		if err != nil {
			return nil, err
		}
		if retry.IsActive() && !retry.ResponseDeadline.After(o.now()) {
			return o.timeoutRetry(ctx, retry.ID, "response deadline passed")
		}
		if err := o.recovery.UpdateHeartbeat(ctx, wf.ID); err != nil {
			return nil, err
		}
		return &Outcome{OrderID: wf.EntityRef, Status: OutcomeInProgress, VendorID: retry.VendorID, Attempt: retry.AttemptNumber, RetryID: retry.ID}, nil
	case StateRejected, StateTimedOut:
		return o.reroute(ctx, wf)
	default:
		return nil, fmt.Errorf("%w: cannot resume from %s", ErrIllegalTransition, wf.CurrentStep)
	}
}

// timeoutRetry 尝试超时：标记超时、记录评分事件、订单回到 ROUTING，然后改派
func (o *Orchestrator) timeoutRetry(ctx context.Context, retryID, reason string) (*Outcome, error) {
	return o.abandonRetry(ctx, retryID, entity.RetryStatusTimeout, entity.ScoreEventTimedOut, reason)
}

func (o *Orchestrator) abandonRetry(ctx context.Context, retryID, retryStatus, scoreEvent, reason string) (*Outcome, error) {
	var (
		next    *entity.WorkflowState
		orderID string
		skipped bool
	)
	err := o.store.Transaction(ctx, func(tx repo.Repos) error {
		rs := o.recovery.WithTx(tx)
		retry, err := tx.Retries().Get(ctx, retryID)
		if err != nil {
			return err
		}
		orderID = retry.OrderID
		if !retry.IsActive() {
			skipped = true
			return nil
		}

		wf, err := rs.GetWorkflow(ctx, WorkflowType, retry.OrderID)
		if err != nil {
			return err
		}
		if wf == nil || wf.Status != entity.WorkflowStatusInProgress {
			return fmt.Errorf("routing workflow of order %s is not running", retry.OrderID)
		}

		if retry.AttemptNumber < o.cfg.MaxAttempts {
			now := o.now()
			retry.NextRetryAt = &now
		}
		if err := rs.TransitionRetry(ctx, retry, retryStatus, truncateText(reason, 255)); err != nil {
			return err
		}
		if err := o.scores.Record(ctx, tx, &entity.VendorScoreEvent{
			EventKey:  ScoreEventKey(scoreEvent, retry.ID),
			VendorID:  retry.VendorID,
			EventType: scoreEvent,
			OrderID:   retry.OrderID,
		}); err != nil {
			return err
		}
		if err := o.releaseOrder(ctx, tx, retry.OrderID); err != nil {
			return err
		}

		next, err = rs.AdvanceWorkflow(ctx, wf, recovery.Transition{
			To:   string(StateTimedOut),
			Data: stepData{Attempt: retry.AttemptNumber, VendorID: retry.VendorID, Reason: reason},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("abandon retry %s: %w", retryID, err)
	}
	if skipped {
		wf, err := o.recovery.GetWorkflow(ctx, WorkflowType, orderID)
		if err != nil || wf == nil {
			return &Outcome{OrderID: orderID, Status: OutcomeInProgress}, err
		}
		return o.statusOutcome(ctx, wf)
	}

	o.logger.Warnf(ctx, "[Orchestrator] order %s retry %s %s: %s", orderID, retryID, retryStatus, reason)
	return o.reroute(ctx, next)
}

// statusOutcome 由工作流当前状态生成结果（不做任何迁移）
func (o *Orchestrator) statusOutcome(ctx context.Context, wf *entity.WorkflowState) (*Outcome, error) {
	data, err := decodeStep(wf)
	if err != nil {
		return nil, err
	}
	out := &Outcome{OrderID: wf.EntityRef, Attempt: data.Attempt, VendorID: data.VendorID, RetryID: data.RetryID, Reason: data.Reason}
	switch State(wf.CurrentStep) {
	case StateAccepted:
		out.Status = OutcomeAccepted
	case StateCancelled:
		out.Status = OutcomeCancelled
	case StateRecoveryRequired:
		out.Status = OutcomeRecovery
		ticket, err := o.store.Recoveries().FindOpen(ctx, wf.EntityRef)
		if err != nil {
			return nil, err
		}
		if ticket != nil {
			out.RecoveryTicketID = ticket.ID
		}
	case StateSelecting:
		if wf.NextRunAt != nil && wf.NextRunAt.After(o.now()) {
			out.Status = OutcomeDeferred
			out.NextRunAt = wf.NextRunAt
			break
		}
		out.Status = OutcomeInProgress
	default:
		out.Status = OutcomeInProgress
	}
	return out, nil
}
