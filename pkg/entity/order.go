package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 零售商订单
type Order struct {
	ID               string          `gorm:"column:id;primaryKey;type:varchar(64)"`
	RetailerID       string          `gorm:"column:retailer_id;type:varchar(64);not null;index:idx_retailer"`
	Status           string          `gorm:"column:status;type:varchar(32);not null;default:'PENDING';index:idx_status_changed"`
	PaymentMethod    string          `gorm:"column:payment_method;type:varchar(16);not null;default:'CASH'"`
	Total            decimal.Decimal `gorm:"column:total;type:decimal(14,2);not null;default:0"`
	AssignedVendorID string          `gorm:"column:assigned_vendor_id;type:varchar(64);index:idx_assigned_vendor"`

	Items []OrderItem `gorm:"foreignKey:OrderID;references:ID"`

	StatusChangedAt time.Time  `gorm:"column:status_changed_at;not null;index:idx_status_changed"`
	AcceptedAt      *time.Time `gorm:"column:accepted_at"`
	CancelledAt     *time.Time `gorm:"column:cancelled_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;index:idx_created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

// SetStatus 切换状态并记录切换时间
func (o *Order) SetStatus(status string, at time.Time) {
	o.Status = status
	o.StatusChangedAt = at
	o.UpdatedAt = at
}

// OrderItem 订单行
type OrderItem struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID   string          `gorm:"column:order_id;type:varchar(64);not null;index:idx_order"`
	LineNo    int             `gorm:"column:line_no;not null"`
	ProductID string          `gorm:"column:product_id;type:varchar(64);not null;index:idx_item_product"`
	Quantity  int             `gorm:"column:quantity;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:decimal(12,2);not null;default:0"`
}

// TableName 指定表名
func (OrderItem) TableName() string {
	return "order_items"
}

// 订单状态常量
const (
	OrderStatusPending         = "PENDING"
	OrderStatusRouting         = "ROUTING"
	OrderStatusVendorAssigned  = "VENDOR_ASSIGNED"
	OrderStatusAccepted        = "ACCEPTED"
	OrderStatusProcessing      = "PROCESSING"
	OrderStatusDispatched      = "DISPATCHED"
	OrderStatusDelivered       = "DELIVERED"
	OrderStatusCompleted       = "COMPLETED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusPendingRecovery = "PENDING_RECOVERY"
)

// 支付方式
const (
	PaymentMethodCash   = "CASH"
	PaymentMethodCredit = "CREDIT"
)

// FulfilledStatuses 已被供应商接单的状态，用于计算市场份额
var FulfilledStatuses = []string{
	OrderStatusAccepted,
	OrderStatusProcessing,
	OrderStatusDispatched,
	OrderStatusDelivered,
	OrderStatusCompleted,
}
