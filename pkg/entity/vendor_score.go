package entity

import "time"

// VendorScore 供应商评分聚合（由 vendor_score_events 折叠得到）
type VendorScore struct {
	VendorID string `gorm:"column:vendor_id;primaryKey;type:varchar(64)"`

	// 派生指标
	ReliabilityScore       float64  `gorm:"column:reliability_score;not null;default:0"`
	DeliverySuccessRate    float64  `gorm:"column:delivery_success_rate;not null;default:0"`
	AvgResponseTimeMinutes *float64 `gorm:"column:avg_response_time_minutes"`
	PriceVsMarket          *float64 `gorm:"column:price_vs_market"` // 相对市场价偏离百分比，正数表示更贵
	OverallScore           float64  `gorm:"column:overall_score;not null;default:0"`

	// 负载计数
	ActiveOrders    int `gorm:"column:active_orders;not null;default:0"`
	PendingOrders   int `gorm:"column:pending_orders;not null;default:0"`
	TotalOrders     int `gorm:"column:total_orders;not null;default:0"`
	CompletedOrders int `gorm:"column:completed_orders;not null;default:0"`
	PenaltyPoints   int `gorm:"column:penalty_points;not null;default:0"`

	// 折叠计数
	FailedDeliveries   int     `gorm:"column:failed_deliveries;not null;default:0"`
	AcceptedCount      int     `gorm:"column:accepted_count;not null;default:0"`
	RejectedCount      int     `gorm:"column:rejected_count;not null;default:0"`
	TimeoutCount       int     `gorm:"column:timeout_count;not null;default:0"`
	CancelledCount     int     `gorm:"column:cancelled_count;not null;default:0"`
	ResponseCount      int     `gorm:"column:response_count;not null;default:0"`
	ResponseMinutesSum float64 `gorm:"column:response_minutes_sum;not null;default:0"`

	LastEventID uint64    `gorm:"column:last_event_id;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (VendorScore) TableName() string {
	return "vendor_scores"
}

// VendorScoreEvent 供应商评分事件（只追加）
type VendorScoreEvent struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	EventKey  string    `gorm:"column:event_key;type:varchar(191);not null;uniqueIndex:uk_event_key"`
	VendorID  string    `gorm:"column:vendor_id;type:varchar(64);not null;index:idx_vendor_event"`
	EventType string    `gorm:"column:event_type;type:varchar(32);not null"`
	OrderID   string    `gorm:"column:order_id;type:varchar(64)"`
	Value     float64   `gorm:"column:value;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName 指定表名
func (VendorScoreEvent) TableName() string {
	return "vendor_score_events"
}

// 评分事件类型
const (
	ScoreEventAssigned       = "ASSIGNED"
	ScoreEventAccepted       = "ACCEPTED" // Value: 响应分钟数
	ScoreEventRejected       = "REJECTED" // Value: 响应分钟数
	ScoreEventTimedOut       = "TIMED_OUT"
	ScoreEventReassigned     = "REASSIGNED"
	ScoreEventDelivered      = "DELIVERED"
	ScoreEventDeliveryFailed = "DELIVERY_FAILED"
	ScoreEventCancelled      = "CANCELLED"     // Value: 1 表示取消时订单已被接单
	ScoreEventPriceUpdated   = "PRICE_UPDATED" // Value: 相对市场价偏离百分比
)
