package collab

//go:generate mockgen -source=collab.go -destination=mocks/mock_collab.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInsufficientStock 库存不足
var ErrInsufficientStock = errors.New("insufficient stock")

// OrderSummary 推送给供应商的订单摘要
type OrderSummary struct {
	OrderID          string          `json:"order_id"`
	RetailerID       string          `json:"retailer_id"`
	Attempt          int             `json:"attempt"`
	Items            []SummaryItem   `json:"items"`
	Total            decimal.Decimal `json:"total"`
	ResponseDeadline time.Time       `json:"response_deadline"`
}

// SummaryItem 订单摘要行
type SummaryItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// AdminEvent 运营告警事件
type AdminEvent struct {
	Type       string                 `json:"type"`
	OrderID    string                 `json:"order_id"`
	Severity   string                 `json:"severity"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NotificationSender 通知供应商（投递即返回，送达重试由实现自行负责）
type NotificationSender interface {
	NotifyVendor(ctx context.Context, vendorID string, summary *OrderSummary) error
}

// InventoryService 库存服务
type InventoryService interface {
	Reserve(ctx context.Context, vendorID, productID string, qty int) error
	Reduce(ctx context.Context, vendorID, productID string, qty int) error
	Restore(ctx context.Context, vendorID, productID string, qty int) error
}

// CreditLedger 零售商信用账本
type CreditLedger interface {
	RecordRefund(ctx context.Context, retailerID string, amount decimal.Decimal, orderID string) error
}

// AdminNotificationSink 运营告警出口
type AdminNotificationSink interface {
	Notify(ctx context.Context, event *AdminEvent) error
}
