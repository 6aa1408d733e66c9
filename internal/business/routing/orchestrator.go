package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"khaacho/dispatch/internal/business/recovery"
	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
	"khaacho/dispatch/pkg/logger"
)

var tracer = otel.Tracer("khaacho-dispatch/routing")

// 编排结果状态
const (
	OutcomeAssigned   = "ASSIGNED"
	OutcomeDeferred   = "DEFERRED"
	OutcomeRecovery   = "RECOVERY"
	OutcomeAccepted   = "ACCEPTED"
	OutcomeCancelled  = "CANCELLED"
	OutcomeInProgress = "IN_PROGRESS"
	OutcomeFailed     = "FAILED"
)

// 自愈记录（编排边界兜底写入）
const (
	IssueRoutingFailure = "ROUTING_FAILURE"
	IssueRefundFailed   = "REFUND_FAILED"

	actionRetryWorkflow      = "RETRY_WORKFLOW"
	actionManualIntervention = "MANUAL_INTERVENTION"
)

// Config 编排配置
type Config struct {
	ResponseDeadline    time.Duration
	MaxAttempts         int
	HeartbeatStaleness  time.Duration
	CapacityBackoffBase time.Duration
	CapacityBackoffMax  time.Duration
	MaxCapacityBackoffs int
	SweepBatch          int
}

// DefaultConfig 默认编排配置
func DefaultConfig() Config {
	return Config{
		ResponseDeadline:    120 * time.Minute,
		MaxAttempts:         5,
		HeartbeatStaleness:  5 * time.Minute,
		CapacityBackoffBase: 2 * time.Minute,
		CapacityBackoffMax:  30 * time.Minute,
		MaxCapacityBackoffs: 6,
		SweepBatch:          100,
	}
}

// Deps 编排器依赖
type Deps struct {
	Store     repo.Store
	Recovery  *recovery.Store
	Resolver  *Resolver
	Scorer    *Scorer
	ScoreBook *ScoreBook
	Balancer  *Balancer
	Notifier  collab.NotificationSender
	Inventory collab.InventoryService
	Ledger    collab.CreditLedger
	Admin     collab.AdminNotificationSink
	Logger    logger.Logger
}

// Outcome 编排操作结果
type Outcome struct {
	OrderID          string     `json:"order_id"`
	Status           string     `json:"status"`
	VendorID         string     `json:"vendor_id,omitempty"`
	Attempt          int        `json:"attempt,omitempty"`
	RetryID          string     `json:"retry_id,omitempty"`
	RecoveryTicketID string     `json:"recovery_ticket_id,omitempty"`
	NextRunAt        *time.Time `json:"next_run_at,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	Replayed         bool       `json:"replayed,omitempty"`
}

// stepData 路由工作流步骤数据
type stepData struct {
	Attempt          int    `json:"attempt"`
	RetryID          string `json:"retry_id,omitempty"`
	VendorID         string `json:"vendor_id,omitempty"`
	CapacityBackoffs int    `json:"capacity_backoffs,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// Orchestrator 订单路由编排器
// 每次状态迁移先在单个事务内落库（工作流步骤 + 派单尝试），再做外部调用
type Orchestrator struct {
	cfg       Config
	store     repo.Store
	recovery  *recovery.Store
	resolver  *Resolver
	scorer    *Scorer
	scores    *ScoreBook
	balancer  *Balancer
	notifier  collab.NotificationSender
	inventory collab.InventoryService
	ledger    collab.CreditLedger
	admin     collab.AdminNotificationSink
	logger    logger.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil, deps.Recovery == nil, deps.Resolver == nil, deps.Scorer == nil,
		deps.ScoreBook == nil, deps.Balancer == nil:
		return nil, errors.New("routing orchestrator: core dependency missing")
	case deps.Notifier == nil, deps.Inventory == nil, deps.Ledger == nil, deps.Admin == nil:
		return nil, errors.New("routing orchestrator: collaborator missing")
	case deps.Logger == nil:
		return nil, errors.New("routing orchestrator: logger missing")
	}
	if cfg.MaxAttempts <= 0 || cfg.ResponseDeadline <= 0 {
		return nil, fmt.Errorf("routing orchestrator: invalid config %+v", cfg)
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}

	deps.Recovery.RegisterSteps(WorkflowType, func(from, to string) bool {
		return CanTransition(State(from), State(to))
	})

	return &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		recovery:  deps.Recovery,
		resolver:  deps.Resolver,
		scorer:    deps.Scorer,
		scores:    deps.ScoreBook,
		balancer:  deps.Balancer,
		notifier:  deps.Notifier,
		inventory: deps.Inventory,
		ledger:    deps.Ledger,
		admin:     deps.Admin,
		logger:    deps.Logger,
	}, nil
}

// Scorer 当前评分器
func (o *Orchestrator) Scorer() *Scorer {
	return o.scorer
}

// ScoreBook 评分事件簿
func (o *Orchestrator) ScoreBook() *ScoreBook {
	return o.scores
}

func (o *Orchestrator) now() time.Time {
	return o.recovery.Now()
}

// guard 编排边界：panic 与非调用方错误都写入自愈记录，转换为 FAILED 结果
func (o *Orchestrator) guard(ctx context.Context, op, orderID string, fn func(ctx context.Context) (*Outcome, error)) (out *Outcome, err error) {
	ctx = logger.WithOrderID(ctx, orderID)
	ctx, span := tracer.Start(ctx, "routing."+op, trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", op, r)
			o.logger.Errorf(ctx, "[Orchestrator] %s panic: %v\n%s", op, r, debug.Stack())
		}
		if err == nil {
			if out != nil {
				span.SetAttributes(attribute.String("routing.outcome", out.Status))
			}
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if IsCallerError(err) {
			return
		}
		o.logger.Errorf(ctx, "[Orchestrator] %s failed: %v", op, err)
		o.recordHealing(ctx, orderID, IssueRoutingFailure, actionRetryWorkflow, "HIGH", false, map[string]interface{}{
			"operation": op,
			"error":     err.Error(),
		})
		if out == nil {
			out = &Outcome{OrderID: orderID, Status: OutcomeFailed, Reason: err.Error()}
		}
	}()

	return fn(ctx)
}

// recordHealing 写入自愈动作，同订单同问题已有未关闭动作时跳过
func (o *Orchestrator) recordHealing(ctx context.Context, orderID, issue, action, severity string, manual bool, details map[string]interface{}) {
	if orderID == "" {
		return
	}
	existing, err := o.store.Healing().FindOpen(ctx, orderID, issue)
	if err != nil {
		o.logger.Errorf(ctx, "[Orchestrator] find open healing action failed: %v", err)
		return
	}
	if existing != nil {
		return
	}
	raw, _ := json.Marshal(details)
	now := o.now()
	rec := &entity.HealingAction{
		ID:                         uuid.New().String(),
		OrderRef:                   orderID,
		IssueType:                  issue,
		Severity:                   severity,
		RecoveryAction:             action,
		OriginalAction:             action,
		RecoveryStatus:             entity.HealingStatusPending,
		RequiresManualIntervention: manual,
		Details:                    datatypes.JSON(raw),
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	if err := o.store.Healing().Create(ctx, rec); err != nil {
		o.logger.Errorf(ctx, "[Orchestrator] record healing action failed: %v", err)
	}
}

// escalate 放弃自动路由：订单转 PENDING_RECOVERY，创建恢复工单，工作流 RECOVERY_REQUIRED
func (o *Orchestrator) escalate(ctx context.Context, wf *entity.WorkflowState, data stepData, cause error) (*Outcome, error) {
	orderID := wf.EntityRef
	var ticket *entity.OrderRecovery

	err := o.store.Transaction(ctx, func(tx repo.Repos) error {
		rs := o.recovery.WithTx(tx)
		now := o.now()

		existing, err := tx.Recoveries().FindOpen(ctx, orderID)
		if err != nil {
			return err
		}
		if existing != nil {
			ticket = existing
		} else {
			ticket = &entity.OrderRecovery{
				ID:           uuid.New().String(),
				OrderID:      orderID,
				FailurePoint: entity.FailurePointVendorAssignment,
				Reason:       cause.Error(),
				Status:       entity.RecoveryStatusOpen,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tx.Recoveries().Create(ctx, ticket); err != nil {
				return err
			}
		}

		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		order.SetStatus(entity.OrderStatusPendingRecovery, now)
		order.AssignedVendorID = ""
		if err := tx.Orders().Save(ctx, order); err != nil {
			return err
		}

		data.Reason = cause.Error()
		_, err = rs.AdvanceWorkflow(ctx, wf, recovery.Transition{
			To:     string(StateRecoveryRequired),
			Data:   data,
			Status: entity.WorkflowStatusFailed,
			Error:  cause.Error(),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("escalate order %s: %w", orderID, err)
	}

	o.logger.Warnf(ctx, "[Orchestrator] order %s escalated to recovery: %v", orderID, cause)
	o.notifyAdmin(ctx, &collab.AdminEvent{
		Type:     "ORDER_ROUTING_FAILED",
		OrderID:  orderID,
		Severity: "HIGH",
		Message:  cause.Error(),
		Details: map[string]interface{}{
			"attempt":            data.Attempt,
			"recovery_ticket_id": ticket.ID,
		},
	})

	return &Outcome{
		OrderID:          orderID,
		Status:           OutcomeRecovery,
		Attempt:          data.Attempt,
		RecoveryTicketID: ticket.ID,
		Reason:           cause.Error(),
	}, nil
}

func (o *Orchestrator) notifyAdmin(ctx context.Context, ev *collab.AdminEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = o.now()
	}
	if err := o.admin.Notify(ctx, ev); err != nil {
		o.logger.Errorf(ctx, "[Orchestrator] admin notification %s failed: %v", ev.Type, err)
	}
}

// claimOperation 在事务内占用幂等键；已存在时返回缓存结果
// 已占用但未完成的键视为处理中
func (o *Orchestrator) claimOperation(ctx context.Context, rs *recovery.Store, key, op, orderID string) (bool, *Outcome, error) {
	claimed, err := rs.CreateIdempotencyKey(ctx, key, op)
	if err != nil {
		return false, nil, err
	}
	if claimed {
		return true, nil, nil
	}
	existing, err := rs.CheckIdempotencyKey(ctx, key)
	if err != nil {
		return false, nil, err
	}
	if existing == nil || !existing.Completed() {
		return false, &Outcome{OrderID: orderID, Status: OutcomeInProgress, Replayed: true}, nil
	}
	var cached Outcome
	if err := json.Unmarshal(existing.Result, &cached); err != nil {
		return false, nil, fmt.Errorf("decode cached result of %s: %w", key, err)
	}
	cached.Replayed = true
	return false, &cached, nil
}

func (o *Orchestrator) completeOperation(ctx context.Context, key string, out *Outcome) {
	if out == nil {
		return
	}
	if err := o.recovery.CompleteIdempotencyKey(ctx, key, out); err != nil {
		o.logger.Errorf(ctx, "[Orchestrator] complete idempotency key %s failed: %v", key, err)
	}
}

func decodeStep(wf *entity.WorkflowState) (stepData, error) {
	var data stepData
	if err := recovery.DecodeStepData(wf, &data); err != nil {
		return data, err
	}
	if data.Attempt == 0 {
		data.Attempt = 1
	}
	return data, nil
}

// capacityBackoff 满载退避：base × 2^(n-1)，不超过上限
func (o *Orchestrator) capacityBackoff(n int) time.Duration {
	d := o.cfg.CapacityBackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= o.cfg.CapacityBackoffMax {
			return o.cfg.CapacityBackoffMax
		}
	}
	if d > o.cfg.CapacityBackoffMax {
		return o.cfg.CapacityBackoffMax
	}
	return d
}

// Idempotency keys
func submitKey(orderID string) string { return "route:submit:" + orderID }
func notifyKey(orderID string, attempt int) string { return fmt.Sprintf("route:notify:%s:%d", orderID, attempt) }
func responseKey(retryID string) string { return "route:response:" + retryID }
func cancelKey(orderID string) string { return "route:cancel:" + orderID }
