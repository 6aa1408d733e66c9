package entity

import (
	"time"

	"gorm.io/datatypes"
)

// AssignmentRetry 一次订单×供应商的派单尝试
// ActiveOrderID 仅在 pending/in_progress 时等于 OrderID，唯一索引保证每个订单最多一个活跃尝试
type AssignmentRetry struct {
	ID               string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	OrderID          string     `gorm:"column:order_id;type:varchar(64);not null;uniqueIndex:uk_order_attempt"`
	ActiveOrderID    *string    `gorm:"column:active_order_id;type:varchar(64);uniqueIndex:uk_active_order"`
	VendorID         string     `gorm:"column:vendor_id;type:varchar(64);not null"`
	AttemptNumber    int        `gorm:"column:attempt_number;not null;uniqueIndex:uk_order_attempt"`
	MaxAttempts      int        `gorm:"column:max_attempts;not null"`
	Status           string     `gorm:"column:status;type:varchar(16);not null;index:idx_status_deadline"`
	ResponseDeadline time.Time  `gorm:"column:response_deadline;not null;index:idx_status_deadline"`
	NextRetryAt      *time.Time `gorm:"column:next_retry_at"`
	RespondedAt      *time.Time `gorm:"column:responded_at"`
	FailureReason    string     `gorm:"column:failure_reason;type:varchar(255)"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (AssignmentRetry) TableName() string {
	return "assignment_retries"
}

// IsActive 是否为活跃尝试
func (r *AssignmentRetry) IsActive() bool {
	return r.Status == RetryStatusPending || r.Status == RetryStatusInProgress
}

// Finish 进入终态并释放活跃占位
func (r *AssignmentRetry) Finish(status, reason string, at time.Time) {
	r.Status = status
	r.FailureReason = reason
	r.ActiveOrderID = nil
	r.UpdatedAt = at
}

// 派单尝试状态
const (
	RetryStatusPending    = "pending"
	RetryStatusInProgress = "in_progress"
	RetryStatusSuccess    = "success"
	RetryStatusFailed     = "failed"
	RetryStatusTimeout    = "timeout"
	RetryStatusAborted    = "aborted"
)

// OrderRoutingLog 路由决策审计
type OrderRoutingLog struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID    string         `gorm:"column:order_id;type:varchar(64);not null;index:idx_routing_order"`
	Attempt    int            `gorm:"column:attempt;not null"`
	VendorID   string         `gorm:"column:vendor_id;type:varchar(64);not null"`
	Strategy   string         `gorm:"column:strategy;type:varchar(32);not null"`
	Reason     string         `gorm:"column:reason;type:varchar(512);not null"`
	Candidates datatypes.JSON `gorm:"column:candidates;type:json;not null"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
}

// TableName 指定表名
func (OrderRoutingLog) TableName() string {
	return "order_routing_log"
}

// RoundRobinCursor 轮询游标（每个商品记录上一次选中的供应商）
type RoundRobinCursor struct {
	ProductID    string    `gorm:"column:product_id;primaryKey;type:varchar(64)"`
	LastVendorID string    `gorm:"column:last_vendor_id;type:varchar(64);not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (RoundRobinCursor) TableName() string {
	return "round_robin_cursors"
}
