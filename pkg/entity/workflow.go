package entity

import (
	"time"

	"gorm.io/datatypes"
)

// WorkflowState 业务工作流实例状态
// StepSeq 每次推进严格 +1，推进使用 StepSeq 做比较并交换
type WorkflowState struct {
	ID            string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	WorkflowType  string         `gorm:"column:workflow_type;type:varchar(32);not null;uniqueIndex:uk_type_entity"`
	EntityRef     string         `gorm:"column:entity_ref;type:varchar(64);not null;uniqueIndex:uk_type_entity"`
	CurrentStep   string         `gorm:"column:current_step;type:varchar(32);not null"`
	StepSeq       int64          `gorm:"column:step_seq;not null;default:0"`
	StepData      datatypes.JSON `gorm:"column:step_data;type:json"`
	Status        string         `gorm:"column:status;type:varchar(16);not null;index:idx_status_heartbeat"`
	RetryCount    int            `gorm:"column:retry_count;not null;default:0"`
	LastHeartbeat time.Time      `gorm:"column:last_heartbeat;not null;index:idx_status_heartbeat"`
	NextRunAt     *time.Time     `gorm:"column:next_run_at;index:idx_next_run"` // 非空表示在该时间之前处于挂起等待
	LastError     string         `gorm:"column:last_error;type:varchar(512)"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (WorkflowState) TableName() string {
	return "workflow_states"
}

// 工作流状态
const (
	WorkflowStatusInProgress = "in_progress"
	WorkflowStatusCompleted  = "completed"
	WorkflowStatusFailed     = "failed"
)

// IdempotencyKey 幂等键
type IdempotencyKey struct {
	Key         string         `gorm:"column:idem_key;primaryKey;type:varchar(191)"`
	Operation   string         `gorm:"column:operation;type:varchar(64);not null"`
	Result      datatypes.JSON `gorm:"column:result;type:json"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	ExpiresAt   time.Time      `gorm:"column:expires_at;not null;index:idx_expires"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
}

// TableName 指定表名
func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}

// Completed 是否已写入结果
func (k *IdempotencyKey) Completed() bool {
	return k.CompletedAt != nil
}

// RoutingEvent 入站事件（供应商响应等），用于检测处理卡死的事件
type RoutingEvent struct {
	ID                  string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	EventType           string         `gorm:"column:event_type;type:varchar(32);not null"`
	OrderID             string         `gorm:"column:order_id;type:varchar(64);not null;index:idx_event_order"`
	Payload             datatypes.JSON `gorm:"column:payload;type:json;not null"`
	Status              string         `gorm:"column:status;type:varchar(16);not null;index:idx_event_status"`
	Attempts            int            `gorm:"column:attempts;not null;default:0"`
	LastError           string         `gorm:"column:last_error;type:varchar(512)"`
	ProcessingStartedAt time.Time      `gorm:"column:processing_started_at;not null;index:idx_event_status"`
	ProcessedAt         *time.Time     `gorm:"column:processed_at"`
	CreatedAt           time.Time      `gorm:"column:created_at;not null"`
}

// TableName 指定表名
func (RoutingEvent) TableName() string {
	return "routing_events"
}

// 入站事件状态
const (
	EventStatusProcessing = "processing"
	EventStatusProcessed  = "processed"
	EventStatusFailed     = "failed"
)

// 入站事件类型
const (
	EventTypeVendorResponse = "VENDOR_RESPONSE"
)
