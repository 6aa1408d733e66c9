// Package recovery 故障恢复存储：幂等键、工作流状态、派单尝试台账
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// DefaultIdempotencyTTL 幂等键默认保留时间
const DefaultIdempotencyTTL = 24 * time.Hour

var (
	// ErrStaleWorkflow 工作流已被其他执行者推进（比较并交换失败）
	ErrStaleWorkflow = errors.New("workflow advanced concurrently")
	// ErrIllegalStep 工作流步骤迁移不合法
	ErrIllegalStep = errors.New("illegal workflow step transition")
	// ErrWorkflowFinished 工作流已结束
	ErrWorkflowFinished = errors.New("workflow already finished")
	// ErrIllegalRetryTransition 派单尝试状态迁移不合法
	ErrIllegalRetryTransition = errors.New("illegal assignment retry transition")
)

// StepGuard 判断步骤迁移是否合法
type StepGuard func(from, to string) bool

// Store 故障恢复存储
// 通过 WithTx 获得绑定到事务的副本，步骤注册表在副本之间共享
type Store struct {
	repos  repo.Repos
	now    func() time.Time
	ttl    time.Duration
	guards *guardRegistry
}

type guardRegistry struct {
	mu     sync.RWMutex
	guards map[string]StepGuard
}

// NewStore 创建故障恢复存储
func NewStore(repos repo.Repos, ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		repos:  repos,
		now:    now,
		ttl:    ttl,
		guards: &guardRegistry{guards: make(map[string]StepGuard)},
	}
}

// WithTx 返回绑定到事务仓储的副本
func (s *Store) WithTx(tx repo.Repos) *Store {
	cp := *s
	cp.repos = tx
	return &cp
}

// Now 当前时间（注入时钟）
func (s *Store) Now() time.Time {
	return s.now()
}

// RegisterSteps 注册工作流类型的步骤迁移校验
func (s *Store) RegisterSteps(workflowType string, guard StepGuard) {
	s.guards.mu.Lock()
	defer s.guards.mu.Unlock()
	s.guards.guards[workflowType] = guard
}

func (s *Store) guard(workflowType string) StepGuard {
	s.guards.mu.RLock()
	defer s.guards.mu.RUnlock()
	return s.guards.guards[workflowType]
}

// ===== 幂等键 =====

// CheckIdempotencyKey 查询幂等键，不存在或已过期返回 nil
func (s *Store) CheckIdempotencyKey(ctx context.Context, key string) (*entity.IdempotencyKey, error) {
	k, err := s.repos.Idempotency().Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get idempotency key %s: %w", key, err)
	}
	if k == nil || !k.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return k, nil
}

// CreateIdempotencyKey 插入幂等键，已存在且未过期时返回 false
func (s *Store) CreateIdempotencyKey(ctx context.Context, key, operation string) (bool, error) {
	now := s.now()
	created, err := s.repos.Idempotency().InsertIfAbsent(ctx, &entity.IdempotencyKey{
		Key:       key,
		Operation: operation,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}, now)
	if err != nil {
		return false, fmt.Errorf("create idempotency key %s: %w", key, err)
	}
	return created, nil
}

// CompleteIdempotencyKey 写入操作结果
func (s *Store) CompleteIdempotencyKey(ctx context.Context, key string, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal idempotency result: %w", err)
	}
	if err := s.repos.Idempotency().Complete(ctx, key, datatypes.JSON(raw), s.now()); err != nil {
		return fmt.Errorf("complete idempotency key %s: %w", key, err)
	}
	return nil
}

// PurgeExpiredKeys 删除已过期的幂等键
func (s *Store) PurgeExpiredKeys(ctx context.Context) (int64, error) {
	n, err := s.repos.Idempotency().DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return n, nil
}

// ===== 工作流 =====

// Transition 一次工作流推进
type Transition struct {
	To   string
	Data interface{} // 为 nil 时保留原步骤数据
	// SuspendUntil 非零时工作流挂起到该时间（不参与心跳过期检测）
	SuspendUntil time.Time
	// Status 为空时保持 in_progress
	Status string
	Error  string
	// Retry 为 true 时重试次数 +1（改派、满载退避）
	Retry bool
}

// StartWorkflow 创建工作流，同类型同实体已存在时返回已有实例和 false
func (s *Store) StartWorkflow(ctx context.Context, workflowType, entityRef, step string, data interface{}) (*entity.WorkflowState, bool, error) {
	existing, err := s.repos.Workflows().GetByEntity(ctx, workflowType, entityRef)
	if err != nil {
		return nil, false, fmt.Errorf("get workflow %s/%s: %w", workflowType, entityRef, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	raw, err := marshalData(data)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	wf := &entity.WorkflowState{
		ID:            uuid.New().String(),
		WorkflowType:  workflowType,
		EntityRef:     entityRef,
		CurrentStep:   step,
		StepSeq:       1,
		StepData:      raw,
		Status:        entity.WorkflowStatusInProgress,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repos.Workflows().Create(ctx, wf); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			existing, gerr := s.repos.Workflows().GetByEntity(ctx, workflowType, entityRef)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create workflow %s/%s: %w", workflowType, entityRef, err)
	}
	return wf, true, nil
}

// GetWorkflow 查询实体的工作流，不存在返回 nil
func (s *Store) GetWorkflow(ctx context.Context, workflowType, entityRef string) (*entity.WorkflowState, error) {
	wf, err := s.repos.Workflows().GetByEntity(ctx, workflowType, entityRef)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s/%s: %w", workflowType, entityRef, err)
	}
	return wf, nil
}

// AdvanceWorkflow 以 step_seq 做比较并交换推进工作流
// 步骤序号严格 +1，心跳严格递增
func (s *Store) AdvanceWorkflow(ctx context.Context, wf *entity.WorkflowState, t Transition) (*entity.WorkflowState, error) {
	if wf.Status != entity.WorkflowStatusInProgress {
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkflowFinished, wf.ID, wf.Status)
	}
	if guard := s.guard(wf.WorkflowType); guard != nil && !guard(wf.CurrentStep, t.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalStep, wf.CurrentStep, t.To)
	}

	next := *wf
	next.CurrentStep = t.To
	next.StepSeq = wf.StepSeq + 1
	if t.Data != nil {
		raw, err := marshalData(t.Data)
		if err != nil {
			return nil, err
		}
		next.StepData = raw
	}
	next.NextRunAt = nil
	if !t.SuspendUntil.IsZero() {
		until := t.SuspendUntil
		next.NextRunAt = &until
	}
	if t.Status != "" {
		next.Status = t.Status
	}
	if t.Retry {
		next.RetryCount++
	}
	next.LastError = t.Error
	s.beat(&next)

	ok, err := s.repos.Workflows().CompareAndSwap(ctx, &next, wf.StepSeq)
	if err != nil {
		return nil, fmt.Errorf("advance workflow %s: %w", wf.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s at seq %d", ErrStaleWorkflow, wf.ID, wf.StepSeq)
	}
	return &next, nil
}

// MarkResumed 崩溃恢复前登记一次重试：步骤不变，序号 +1，重试次数 +1
// 已结束的工作流原样返回
func (s *Store) MarkResumed(ctx context.Context, wf *entity.WorkflowState) (*entity.WorkflowState, error) {
	if wf.Status != entity.WorkflowStatusInProgress {
		return wf, nil
	}
	next := *wf
	next.StepSeq = wf.StepSeq + 1
	next.RetryCount++
	s.beat(&next)

	ok, err := s.repos.Workflows().CompareAndSwap(ctx, &next, wf.StepSeq)
	if err != nil {
		return nil, fmt.Errorf("resume workflow %s: %w", wf.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s at seq %d", ErrStaleWorkflow, wf.ID, wf.StepSeq)
	}
	return &next, nil
}

// CompleteWorkflow 结束工作流（保持当前步骤）
func (s *Store) CompleteWorkflow(ctx context.Context, wf *entity.WorkflowState) (*entity.WorkflowState, error) {
	return s.finish(ctx, wf, entity.WorkflowStatusCompleted, "")
}

// FailWorkflow 标记工作流失败
func (s *Store) FailWorkflow(ctx context.Context, wf *entity.WorkflowState, reason string) (*entity.WorkflowState, error) {
	return s.finish(ctx, wf, entity.WorkflowStatusFailed, reason)
}

func (s *Store) finish(ctx context.Context, wf *entity.WorkflowState, status, reason string) (*entity.WorkflowState, error) {
	if wf.Status != entity.WorkflowStatusInProgress {
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkflowFinished, wf.ID, wf.Status)
	}
	next := *wf
	next.StepSeq = wf.StepSeq + 1
	next.Status = status
	next.LastError = reason
	next.NextRunAt = nil
	s.beat(&next)

	ok, err := s.repos.Workflows().CompareAndSwap(ctx, &next, wf.StepSeq)
	if err != nil {
		return nil, fmt.Errorf("finish workflow %s: %w", wf.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s at seq %d", ErrStaleWorkflow, wf.ID, wf.StepSeq)
	}
	return &next, nil
}

// UpdateHeartbeat 刷新心跳
func (s *Store) UpdateHeartbeat(ctx context.Context, workflowID string) error {
	if err := s.repos.Workflows().Touch(ctx, workflowID, s.now()); err != nil {
		return fmt.Errorf("touch workflow %s: %w", workflowID, err)
	}
	return nil
}

// GetStaleWorkflows 心跳早于 now-timeout 的进行中工作流，最旧的在前
func (s *Store) GetStaleWorkflows(ctx context.Context, timeoutMinutes, limit int) ([]*entity.WorkflowState, error) {
	now := s.now()
	return s.repos.Workflows().Stale(ctx, now.Add(-time.Duration(timeoutMinutes)*time.Minute), now, limit)
}

// DueWorkflows 挂起时间已到的工作流
func (s *Store) DueWorkflows(ctx context.Context, workflowType string, limit int) ([]*entity.WorkflowState, error) {
	return s.repos.Workflows().Due(ctx, workflowType, s.now(), limit)
}

// GetStuckEvents 处理开始时间早于 now-timeout 仍在处理中的事件，最旧的在前
func (s *Store) GetStuckEvents(ctx context.Context, timeoutMinutes, limit int) ([]*entity.RoutingEvent, error) {
	return s.repos.Events().Stuck(ctx, s.now().Add(-time.Duration(timeoutMinutes)*time.Minute), limit)
}

// beat 心跳取 max(now, 上次心跳+1ms)，保证每次迁移心跳严格前进
func (s *Store) beat(wf *entity.WorkflowState) {
	now := s.now()
	if floor := wf.LastHeartbeat.Add(time.Millisecond); now.Before(floor) {
		now = floor
	}
	wf.LastHeartbeat = now
	wf.UpdatedAt = now
}

// DecodeStepData 解析工作流步骤数据
func DecodeStepData(wf *entity.WorkflowState, v interface{}) error {
	if len(wf.StepData) == 0 {
		return nil
	}
	if err := json.Unmarshal(wf.StepData, v); err != nil {
		return fmt.Errorf("decode step data of workflow %s: %w", wf.ID, err)
	}
	return nil
}

func marshalData(data interface{}) (datatypes.JSON, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal step data: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// ===== 派单尝试台账 =====

// CreateRetry 创建派单尝试，订单已有活跃尝试时返回 repo.ErrActiveRetryExists
func (s *Store) CreateRetry(ctx context.Context, orderID, vendorID string, attempt, maxAttempts int, deadline time.Time) (*entity.AssignmentRetry, error) {
	now := s.now()
	active := orderID
	retry := &entity.AssignmentRetry{
		ID:               uuid.New().String(),
		OrderID:          orderID,
		ActiveOrderID:    &active,
		VendorID:         vendorID,
		AttemptNumber:    attempt,
		MaxAttempts:      maxAttempts,
		Status:           entity.RetryStatusPending,
		ResponseDeadline: deadline,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repos.Retries().Create(ctx, retry); err != nil {
		return nil, fmt.Errorf("create retry for order %s: %w", orderID, err)
	}
	return retry, nil
}

// ActiveRetry 订单当前活跃尝试，不存在返回 nil
func (s *Store) ActiveRetry(ctx context.Context, orderID string) (*entity.AssignmentRetry, error) {
	return s.repos.Retries().Active(ctx, orderID)
}

// TriedVendors 订单已尝试过的供应商（按尝试顺序去重）
func (s *Store) TriedVendors(ctx context.Context, orderID string) ([]string, error) {
	retries, err := s.repos.Retries().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list retries of order %s: %w", orderID, err)
	}
	seen := make(map[string]bool, len(retries))
	vendors := make([]string, 0, len(retries))
	for _, r := range retries {
		if !seen[r.VendorID] {
			seen[r.VendorID] = true
			vendors = append(vendors, r.VendorID)
		}
	}
	return vendors, nil
}

// TransitionRetry 迁移派单尝试状态
// pending -> in_progress；活跃 -> success/failed/timeout/aborted
func (s *Store) TransitionRetry(ctx context.Context, retry *entity.AssignmentRetry, status, reason string) error {
	if !retry.IsActive() {
		return fmt.Errorf("%w: %s is %s", ErrIllegalRetryTransition, retry.ID, retry.Status)
	}
	now := s.now()
	switch status {
	case entity.RetryStatusInProgress:
		if retry.Status != entity.RetryStatusPending {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalRetryTransition, retry.Status, status)
		}
		retry.Status = status
		retry.UpdatedAt = now
	case entity.RetryStatusSuccess, entity.RetryStatusFailed:
		retry.RespondedAt = &now
		retry.Finish(status, reason, now)
	case entity.RetryStatusTimeout, entity.RetryStatusAborted:
		retry.Finish(status, reason, now)
	default:
		return fmt.Errorf("%w: unknown status %s", ErrIllegalRetryTransition, status)
	}
	if err := s.repos.Retries().Save(ctx, retry); err != nil {
		return fmt.Errorf("save retry %s: %w", retry.ID, err)
	}
	return nil
}

// ScheduleNextRetry 在订单最近一次已结束的尝试上记录下一次选择时间
func (s *Store) ScheduleNextRetry(ctx context.Context, orderID string, at time.Time) error {
	retries, err := s.repos.Retries().ListByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("list retries of %s: %w", orderID, err)
	}
	if len(retries) == 0 {
		return nil
	}
	last := retries[len(retries)-1]
	if last.IsActive() {
		return nil
	}
	last.NextRetryAt = &at
	last.UpdatedAt = s.now()
	if err := s.repos.Retries().Save(ctx, last); err != nil {
		return fmt.Errorf("save retry %s: %w", last.ID, err)
	}
	return nil
}

// ExpiredRetries 响应截止时间已过的活跃尝试
func (s *Store) ExpiredRetries(ctx context.Context, limit int) ([]*entity.AssignmentRetry, error) {
	return s.repos.Retries().Expired(ctx, s.now(), limit)
}
