// Package healing 自愈巡检：识别卡住的订单与工作流，执行有限次数的修复
package healing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"khaacho/dispatch/internal/business/recovery"
	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
	"khaacho/dispatch/pkg/logger"
)

// 问题类型
const (
	IssueStuckVendorAssignment = "STUCK_VENDOR_ASSIGNMENT"
	IssueRepeatedVendorTimeout = "REPEATED_VENDOR_TIMEOUT"
	IssueStuckInFulfillment    = "STUCK_IN_FULFILLMENT"
	IssueStaleWorkflow         = "STALE_WORKFLOW_HEARTBEAT"
	IssueStuckEvent            = "STUCK_EVENT"
	IssueStuckPendingRecovery  = "STUCK_PENDING_RECOVERY"
	IssueStuckPendingOrder     = "STUCK_PENDING_ORDER"
	IssueAbandonedPendingOrder = "ABANDONED_PENDING_ORDER"
)

// 修复动作
const (
	ActionReassignVendor     = "REASSIGN_VENDOR"
	ActionRetryWorkflow      = "RETRY_WORKFLOW"
	ActionCancelOrder        = "CANCEL_ORDER"
	ActionManualIntervention = "MANUAL_INTERVENTION"
)

// 严重程度
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

// ErrHealingExecutionFailure 修复执行失败
var ErrHealingExecutionFailure = errors.New("healing execution failed")

type remedy struct {
	action   string
	severity string
}

// remedies 问题类型 -> 默认动作与严重程度
var remedies = map[string]remedy{
	IssueStuckVendorAssignment: {ActionReassignVendor, SeverityHigh},
	IssueRepeatedVendorTimeout: {ActionManualIntervention, SeverityHigh},
	IssueStuckInFulfillment:    {ActionRetryWorkflow, SeverityMedium},
	IssueStaleWorkflow:         {ActionRetryWorkflow, SeverityMedium},
	IssueStuckEvent:            {ActionRetryWorkflow, SeverityMedium},
	IssueStuckPendingRecovery:  {ActionManualIntervention, SeverityHigh},
	IssueStuckPendingOrder:     {ActionRetryWorkflow, SeverityMedium},
	IssueAbandonedPendingOrder: {ActionCancelOrder, SeverityLow},
}

// Remedy 问题类型的默认动作与严重程度
func Remedy(issueType string) (action, severity string, ok bool) {
	r, ok := remedies[issueType]
	return r.action, r.severity, ok
}

// Config 自愈配置
type Config struct {
	StuckAssignment       time.Duration
	RepeatedTimeouts      int
	StuckFulfillment      time.Duration
	StuckPendingRecovery  time.Duration
	StuckPendingOrder     time.Duration
	AbandonedPendingOrder time.Duration
	StaleHeartbeatMinutes int
	StuckEventMinutes     int
	MaxRetries            int
	BatchSize             int
}

// DefaultConfig 默认自愈配置
func DefaultConfig() Config {
	return Config{
		StuckAssignment:       180 * time.Minute,
		RepeatedTimeouts:      3,
		StuckFulfillment:      24 * time.Hour,
		StuckPendingRecovery:  60 * time.Minute,
		StuckPendingOrder:     30 * time.Minute,
		AbandonedPendingOrder: 48 * time.Hour,
		StaleHeartbeatMinutes: 5,
		StuckEventMinutes:     5,
		MaxRetries:            3,
		BatchSize:             100,
	}
}

// Router 路由编排能力
type Router interface {
	ReassignVendor(ctx context.Context, orderID, reason string) (*routing.Outcome, error)
	ResumeRouting(ctx context.Context, orderID string) (*routing.Outcome, error)
	StartRouting(ctx context.Context, orderID string) (*routing.Outcome, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*routing.Outcome, error)
	RedriveEvent(ctx context.Context, eventID string) (*routing.Outcome, error)
}

// Issue 检测到的问题
type Issue struct {
	OrderID  string
	Type     string
	Action   string
	Severity string
	Details  map[string]interface{}
}

// CycleReport 一轮自愈统计
type CycleReport struct {
	Detected  int `json:"detected"`
	Created   int `json:"created"`
	Executed  int `json:"executed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Escalated int `json:"escalated"`
}

// Monitor 自愈巡检
type Monitor struct {
	cfg       Config
	store     repo.Store
	recovery  *recovery.Store
	scores    *routing.ScoreBook
	router    Router
	inventory collab.InventoryService
	admin     collab.AdminNotificationSink
	logger    logger.Logger
}

// NewMonitor 创建自愈巡检
func NewMonitor(cfg Config, store repo.Store, rs *recovery.Store, scores *routing.ScoreBook, router Router,
	inventory collab.InventoryService, admin collab.AdminNotificationSink, log logger.Logger) *Monitor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Monitor{
		cfg:       cfg,
		store:     store,
		recovery:  rs,
		scores:    scores,
		router:    router,
		inventory: inventory,
		admin:     admin,
		logger:    log,
	}
}

// RunSelfHealingCycle 检测问题、登记修复动作并执行待执行的动作
func (m *Monitor) RunSelfHealingCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{}

	// 1. 检测
	issues, err := m.DetectStuckOrders(ctx)
	if err != nil {
		return nil, err
	}
	report.Detected = len(issues)

	// 2. 登记，同订单同问题已有未关闭动作时跳过
	for _, issue := range issues {
		created, err := m.register(ctx, issue)
		if err != nil {
			m.logger.Errorf(ctx, "[Healing] register %s for order %s failed: %v", issue.Type, issue.OrderID, err)
			continue
		}
		if created {
			report.Created++
		}
	}

	// 3. 执行
	actions, err := m.store.Healing().ListExecutable(ctx, m.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list executable healing actions: %w", err)
	}
	for _, action := range actions {
		report.Executed++
		err := m.ExecuteHealing(ctx, action)
		switch {
		case err == nil:
			if action.RecoveryStatus == entity.HealingStatusSuccess {
				report.Succeeded++
			} else if action.RequiresManualIntervention {
				report.Escalated++
			}
		case action.RecoveryAction == ActionManualIntervention:
			report.Escalated++
		default:
			report.Failed++
		}
	}

	if report.Detected+report.Executed > 0 {
		m.logger.Infof(ctx, "[Healing] cycle: detected=%d created=%d executed=%d succeeded=%d failed=%d escalated=%d",
			report.Detected, report.Created, report.Executed, report.Succeeded, report.Failed, report.Escalated)
	}
	return report, nil
}

// DetectStuckOrders 按固定顺序检测问题，每个订单每轮只报告一个问题
func (m *Monitor) DetectStuckOrders(ctx context.Context) ([]Issue, error) {
	now := m.recovery.Now()
	seen := make(map[string]bool)
	var issues []Issue
	add := func(orderID, issueType string, details map[string]interface{}) {
		if orderID == "" || seen[orderID] {
			return
		}
		seen[orderID] = true
		r := remedies[issueType]
		issues = append(issues, Issue{
			OrderID:  orderID,
			Type:     issueType,
			Action:   r.action,
			Severity: r.severity,
			Details:  details,
		})
	}

	// 1. 反复超时（仅未结束的订单）
	repeated, err := m.store.Retries().RepeatedTimeouts(ctx, m.cfg.RepeatedTimeouts, m.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("detect repeated timeouts: %w", err)
	}
	for orderID, count := range repeated {
		order, err := m.store.Orders().Get(ctx, orderID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if order.Status != entity.OrderStatusRouting && order.Status != entity.OrderStatusVendorAssigned {
			continue
		}
		add(orderID, IssueRepeatedVendorTimeout, map[string]interface{}{"timeouts": count})
	}

	// 2. 按订单状态停留时长
	byStatus := []struct {
		issue    string
		statuses []string
		after    time.Duration
	}{
		{IssueStuckVendorAssignment, []string{entity.OrderStatusVendorAssigned}, m.cfg.StuckAssignment},
		{IssueStuckInFulfillment, []string{entity.OrderStatusAccepted, entity.OrderStatusProcessing, entity.OrderStatusDispatched}, m.cfg.StuckFulfillment},
		{IssueStuckPendingRecovery, []string{entity.OrderStatusPendingRecovery}, m.cfg.StuckPendingRecovery},
		{IssueAbandonedPendingOrder, []string{entity.OrderStatusPending}, m.cfg.AbandonedPendingOrder},
		{IssueStuckPendingOrder, []string{entity.OrderStatusPending}, m.cfg.StuckPendingOrder},
	}
	for _, rule := range byStatus {
		orders, err := m.store.Orders().ListStale(ctx, rule.statuses, now.Add(-rule.after), m.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("detect %s: %w", rule.issue, err)
		}
		for _, o := range orders {
			add(o.ID, rule.issue, map[string]interface{}{
				"status":            o.Status,
				"status_changed_at": o.StatusChangedAt,
				"stuck_minutes":     int(now.Sub(o.StatusChangedAt).Minutes()),
			})
		}
	}

	// 3. 心跳过期的工作流
	stale, err := m.recovery.GetStaleWorkflows(ctx, m.cfg.StaleHeartbeatMinutes, m.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("detect stale workflows: %w", err)
	}
	for _, wf := range stale {
		add(wf.EntityRef, IssueStaleWorkflow, map[string]interface{}{
			"workflow_id":    wf.ID,
			"workflow_type":  wf.WorkflowType,
			"current_step":   wf.CurrentStep,
			"last_heartbeat": wf.LastHeartbeat,
		})
	}

	// 4. 卡住的入站事件
	events, err := m.recovery.GetStuckEvents(ctx, m.cfg.StuckEventMinutes, m.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("detect stuck events: %w", err)
	}
	for _, ev := range events {
		add(ev.OrderID, IssueStuckEvent, map[string]interface{}{
			"event_id":   ev.ID,
			"event_type": ev.EventType,
			"attempts":   ev.Attempts,
		})
	}

	return issues, nil
}

// register 登记修复动作，已有未关闭动作时返回 false
func (m *Monitor) register(ctx context.Context, issue Issue) (bool, error) {
	open, err := m.store.Healing().FindOpen(ctx, issue.OrderID, issue.Type)
	if err != nil {
		return false, err
	}
	if open != nil {
		return false, nil
	}
	raw, err := json.Marshal(issue.Details)
	if err != nil {
		return false, err
	}
	now := m.recovery.Now()
	action := &entity.HealingAction{
		ID:             uuid.New().String(),
		OrderRef:       issue.OrderID,
		IssueType:      issue.Type,
		Severity:       issue.Severity,
		RecoveryAction: issue.Action,
		OriginalAction: issue.Action,
		RecoveryStatus: entity.HealingStatusPending,
		Details:        datatypes.JSON(raw),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.Healing().Create(ctx, action); err != nil {
		return false, err
	}
	m.logger.Warnf(ctx, "[Healing] order %s: %s (%s) -> %s", issue.OrderID, issue.Type, issue.Severity, issue.Action)
	return true, nil
}

// ResolveAction 人工处理完成后关闭修复动作
func (m *Monitor) ResolveAction(ctx context.Context, actionID, note string) (*entity.HealingAction, error) {
	action, err := m.store.Healing().Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if !action.IsOpen() {
		return action, nil
	}
	now := m.recovery.Now()
	action.RecoveryStatus = entity.HealingStatusSuccess
	action.ResolvedAt = &now
	action.UpdatedAt = now
	if note != "" {
		action.LastError = truncate("resolved: "+note, 512)
	}
	if err := m.store.Healing().Save(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}

// truncate 按字节截断，回退到字符边界
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
