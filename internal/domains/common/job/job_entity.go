package job

import "github.com/google/uuid"

// 路由 Job 的动作类型
const (
	ActionSubmitOrder    = "submit_order"
	ActionVendorResponse = "vendor_response"
	ActionCancelOrder    = "cancel_order"
)

// Job 标准 Job 结构
type Job struct {
	Payload *JobPayload `json:"payload"`
}

// JobPayload Job 负载
type JobPayload struct {
	Data *JobPayloadData `json:"data"`
}

// JobPayloadData Job 数据
type JobPayloadData struct {
	// 元信息
	RequestID  string `json:"request_id"`  // 请求 ID（TraceID）
	Source     string `json:"source"`      // 来源（apiserver / vendor_portal）
	ActionType string `json:"action_type"` // 动作类型（路由键）
	ID         string `json:"id"`          // 订单 ID

	// 业务数据
	Data interface{} `json:"data"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Meta 元数据
type Meta struct {
	RequestID  string
	Source     string
	ActionType string
	ID         string
}

// NewJob 构造标准 Job，RequestID 为空时生成
func NewJob(actionType, orderID, requestID, source string, data interface{}) *Job {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &Job{Payload: &JobPayload{Data: &JobPayloadData{
		RequestID:  requestID,
		Source:     source,
		ActionType: actionType,
		ID:         orderID,
		Data:       data,
	}}}
}
