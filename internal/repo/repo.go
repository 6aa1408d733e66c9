package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"

	"khaacho/dispatch/pkg/entity"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrActiveRetryExists 订单已存在活跃派单尝试
	ErrActiveRetryExists = errors.New("order already has an active assignment retry")
	// ErrDuplicate 唯一键冲突
	ErrDuplicate = errors.New("duplicate record")
)

// Store 仓储入口，提供事务
type Store interface {
	Repos
	// Transaction 在单个事务中执行 fn，fn 返回 error 时回滚
	Transaction(ctx context.Context, fn func(tx Repos) error) error
}

// Repos 全部仓储（事务内外通用）
type Repos interface {
	Vendors() VendorRepository
	Scores() VendorScoreRepository
	Orders() OrderRepository
	Retries() AssignmentRetryRepository
	Workflows() WorkflowRepository
	Idempotency() IdempotencyRepository
	Healing() HealingRepository
	Recoveries() OrderRecoveryRepository
	RoutingLogs() RoutingLogRepository
	Cursors() CursorRepository
	Events() RoutingEventRepository
}

// VendorOffer 供应商对某商品的报价
type VendorOffer struct {
	Vendor  entity.Vendor
	Product entity.VendorProduct
}

// VendorRepository 供应商目录
type VendorRepository interface {
	// FindEligible 查询可供货的报价：库存足够、供应商已审核且启用、商品可售、不在排除列表
	FindEligible(ctx context.Context, productID string, quantity int, excludeVendorIDs []string) ([]*VendorOffer, error)
	Get(ctx context.Context, vendorID string) (*entity.Vendor, error)
	GetProduct(ctx context.Context, vendorID, productID string) (*entity.VendorProduct, error)
	// ProductShares 统计窗口内每个供应商承接该商品的订单数
	ProductShares(ctx context.Context, productID string, since time.Time) (map[string]int, error)
	SaveVendor(ctx context.Context, vendor *entity.Vendor) error
	SaveProduct(ctx context.Context, product *entity.VendorProduct) error
	// AdjustInventory 条件更新可售库存与预留库存，任一结果为负则不更新；返回是否更新成功
	AdjustInventory(ctx context.Context, vendorID, productID string, stockDelta, reservedDelta int) (bool, error)
}

// VendorScoreRepository 供应商评分与事件流
type VendorScoreRepository interface {
	// Get 不存在时返回 nil, nil
	Get(ctx context.Context, vendorID string) (*entity.VendorScore, error)
	GetForUpdate(ctx context.Context, vendorID string) (*entity.VendorScore, error)
	GetMany(ctx context.Context, vendorIDs []string) (map[string]*entity.VendorScore, error)
	Save(ctx context.Context, score *entity.VendorScore) error
	// AppendEvent 按 EventKey 插入，已存在时返回 false
	AppendEvent(ctx context.Context, event *entity.VendorScoreEvent) (bool, error)
	ListEvents(ctx context.Context, vendorID string) ([]*entity.VendorScoreEvent, error)
}

// OrderRepository 订单
type OrderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	// Get 返回带订单行的订单，不存在返回 ErrNotFound
	Get(ctx context.Context, orderID string) (*entity.Order, error)
	// GetForUpdate 事务内加行锁读取
	GetForUpdate(ctx context.Context, orderID string) (*entity.Order, error)
	Save(ctx context.Context, order *entity.Order) error
	// ListStale 查询处于给定状态且状态切换时间早于 before 的订单，最旧的在前
	ListStale(ctx context.Context, statuses []string, before time.Time, limit int) ([]*entity.Order, error)
}

// AssignmentRetryRepository 派单尝试台账
type AssignmentRetryRepository interface {
	// Create 活跃尝试冲突时返回 ErrActiveRetryExists
	Create(ctx context.Context, retry *entity.AssignmentRetry) error
	Get(ctx context.Context, retryID string) (*entity.AssignmentRetry, error)
	// Active 不存在时返回 nil, nil
	Active(ctx context.Context, orderID string) (*entity.AssignmentRetry, error)
	ListByOrder(ctx context.Context, orderID string) ([]*entity.AssignmentRetry, error)
	Save(ctx context.Context, retry *entity.AssignmentRetry) error
	// Expired 活跃且响应截止时间早于 now 的尝试，截止最早的在前
	Expired(ctx context.Context, now time.Time, limit int) ([]*entity.AssignmentRetry, error)
	// RepeatedTimeouts 超时次数不少于 minCount 的订单及其超时次数
	RepeatedTimeouts(ctx context.Context, minCount int, limit int) (map[string]int, error)
}

// WorkflowRepository 工作流状态
type WorkflowRepository interface {
	// Create 同类型同实体已存在时返回 ErrDuplicate
	Create(ctx context.Context, wf *entity.WorkflowState) error
	Get(ctx context.Context, id string) (*entity.WorkflowState, error)
	// GetByEntity 不存在时返回 nil, nil
	GetByEntity(ctx context.Context, workflowType, entityRef string) (*entity.WorkflowState, error)
	// CompareAndSwap 仅当库中 step_seq 等于 expectSeq 时整体覆盖，返回是否成功
	CompareAndSwap(ctx context.Context, wf *entity.WorkflowState, expectSeq int64) (bool, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// Stale 进行中、心跳早于 before、且未挂起到 now 之后的工作流，心跳最旧的在前
	Stale(ctx context.Context, before, now time.Time, limit int) ([]*entity.WorkflowState, error)
	// Due 进行中且挂起时间已到的工作流
	Due(ctx context.Context, workflowType string, now time.Time, limit int) ([]*entity.WorkflowState, error)
}

// IdempotencyRepository 幂等键
type IdempotencyRepository interface {
	// Get 不存在时返回 nil, nil（不判断过期）
	Get(ctx context.Context, key string) (*entity.IdempotencyKey, error)
	// InsertIfAbsent 不存在或已过期时写入并返回 true
	InsertIfAbsent(ctx context.Context, key *entity.IdempotencyKey, now time.Time) (bool, error)
	Complete(ctx context.Context, key string, result datatypes.JSON, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// HealingRepository 自愈动作
type HealingRepository interface {
	Create(ctx context.Context, action *entity.HealingAction) error
	Get(ctx context.Context, id string) (*entity.HealingAction, error)
	Save(ctx context.Context, action *entity.HealingAction) error
	// FindOpen 查询同订单同问题类型未关闭的动作，不存在时返回 nil, nil
	FindOpen(ctx context.Context, orderRef, issueType string) (*entity.HealingAction, error)
	// ListExecutable 待执行且无需人工的动作，最早创建的在前
	ListExecutable(ctx context.Context, limit int) ([]*entity.HealingAction, error)
	ListByOrder(ctx context.Context, orderRef string) ([]*entity.HealingAction, error)
}

// OrderRecoveryRepository 恢复工单
type OrderRecoveryRepository interface {
	Create(ctx context.Context, recovery *entity.OrderRecovery) error
	// FindOpen 不存在时返回 nil, nil
	FindOpen(ctx context.Context, orderID string) (*entity.OrderRecovery, error)
}

// RoutingLogRepository 路由审计
type RoutingLogRepository interface {
	Create(ctx context.Context, log *entity.OrderRoutingLog) error
	ListByOrder(ctx context.Context, orderID string) ([]*entity.OrderRoutingLog, error)
}

// CursorRepository 轮询游标
type CursorRepository interface {
	// Get 不存在时返回空字符串
	Get(ctx context.Context, productID string) (string, error)
	Set(ctx context.Context, productID, vendorID string, at time.Time) error
}

// RoutingEventRepository 入站事件
type RoutingEventRepository interface {
	// Create 同 ID 已存在时返回 ErrDuplicate
	Create(ctx context.Context, event *entity.RoutingEvent) error
	Get(ctx context.Context, id string) (*entity.RoutingEvent, error)
	Save(ctx context.Context, event *entity.RoutingEvent) error
	// Stuck 处理中且开始处理时间早于 before 的事件，最旧的在前
	Stuck(ctx context.Context, before time.Time, limit int) ([]*entity.RoutingEvent, error)
}
