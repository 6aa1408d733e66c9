package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// HealingAction 自愈动作记录
type HealingAction struct {
	ID                         string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	OrderRef                   string         `gorm:"column:order_ref;type:varchar(64);not null;index:idx_order_issue"`
	IssueType                  string         `gorm:"column:issue_type;type:varchar(48);not null;index:idx_order_issue"`
	Severity                   string         `gorm:"column:severity;type:varchar(16);not null"`
	RecoveryAction             string         `gorm:"column:recovery_action;type:varchar(32);not null"`
	OriginalAction             string         `gorm:"column:original_action;type:varchar(32);not null"`
	RecoveryStatus             string         `gorm:"column:recovery_status;type:varchar(16);not null;index:idx_recovery_status"`
	RetryCount                 int            `gorm:"column:retry_count;not null;default:0"`
	RequiresManualIntervention bool           `gorm:"column:requires_manual_intervention;not null;default:false"`
	Details                    datatypes.JSON `gorm:"column:details;type:json"`
	LastError                  string         `gorm:"column:last_error;type:varchar(512)"`
	ResolvedAt                 *time.Time     `gorm:"column:resolved_at"`
	CreatedAt                  time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt                  time.Time      `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (HealingAction) TableName() string {
	return "healing_actions"
}

// IsOpen 是否仍未关闭：待执行，或已转人工但尚未处理
func (a *HealingAction) IsOpen() bool {
	if a.RecoveryStatus == HealingStatusPending {
		return true
	}
	return a.RequiresManualIntervention && a.ResolvedAt == nil
}

// 自愈状态
const (
	HealingStatusPending = "pending"
	HealingStatusSuccess = "success"
	HealingStatusFailed  = "failed"
)

// OrderRecovery 订单恢复工单（自动路由放弃后交由人工/恢复流程处理）
type OrderRecovery struct {
	ID           string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	OrderID      string    `gorm:"column:order_id;type:varchar(64);not null;index:idx_recovery_order"`
	FailurePoint string    `gorm:"column:failure_point;type:varchar(32);not null"`
	Reason       string    `gorm:"column:reason;type:varchar(512);not null"`
	Status       string    `gorm:"column:status;type:varchar(16);not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (OrderRecovery) TableName() string {
	return "order_recoveries"
}

// 恢复工单
const (
	FailurePointVendorAssignment = "vendor_assignment"

	RecoveryStatusOpen     = "OPEN"
	RecoveryStatusResolved = "RESOLVED"
)

// CreditLedgerEntry 零售商信用账本流水
type CreditLedgerEntry struct {
	ID         string          `gorm:"column:id;primaryKey;type:varchar(64)"`
	RetailerID string          `gorm:"column:retailer_id;type:varchar(64);not null;index:idx_ledger_retailer"`
	OrderID    string          `gorm:"column:order_id;type:varchar(64);not null;uniqueIndex:uk_order_type"`
	EntryType  string          `gorm:"column:entry_type;type:varchar(16);not null;uniqueIndex:uk_order_type"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(14,2);not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null"`
}

// TableName 指定表名
func (CreditLedgerEntry) TableName() string {
	return "credit_ledger_entries"
}

// 账本流水类型
const (
	LedgerEntryRefund = "REFUND"
)
