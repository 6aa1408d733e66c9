package response

import (
	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/domains/common/job"
)

// 处理失败时的结果状态
const StatusError = "ERROR"

// RoutingResult 路由 Job 的处理结果
type RoutingResult struct {
	RequestID  string           `json:"request_id"`
	ActionType string           `json:"action_type"`
	OrderID    string           `json:"order_id"`
	Status     string           `json:"status"`
	Outcome    *routing.Outcome `json:"outcome,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// NewRoutingResult 创建结果
func NewRoutingResult() *RoutingResult {
	return &RoutingResult{}
}

// SetOutcome 记录编排结果
func (r *RoutingResult) SetOutcome(out *routing.Outcome) {
	r.Outcome = out
	if out != nil {
		r.Status = out.Status
	}
}

// Set 实现 ResultI
func (r *RoutingResult) Set(meta *job.Meta, err error) {
	if meta != nil {
		r.RequestID = meta.RequestID
		r.ActionType = meta.ActionType
		r.OrderID = meta.ID
	}
	if err != nil {
		r.Status = StatusError
		r.Message = err.Error()
	}
}

// GetStatus 实现 ResultI
func (r *RoutingResult) GetStatus() string {
	return r.Status
}
