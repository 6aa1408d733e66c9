package order

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"khaacho/dispatch/internal/business/routing"
)

// SubmitOrderRequest 提交订单路由
type SubmitOrderRequest struct {
	OrderID       string     `json:"order_id" binding:"required,max=64"`
	RetailerID    string     `json:"retailer_id" binding:"omitempty,max=64"`
	PaymentMethod string     `json:"payment_method" binding:"omitempty,oneof=CASH CREDIT"`
	Items         []LineItem `json:"items" binding:"omitempty,dive"`
}

// LineItem 订单行
type LineItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

// ToRoutingRequest 转换为编排请求
func (r *SubmitOrderRequest) ToRoutingRequest() *routing.SubmitRequest {
	req := &routing.SubmitRequest{
		OrderID:       r.OrderID,
		RetailerID:    r.RetailerID,
		PaymentMethod: r.PaymentMethod,
	}
	for _, item := range r.Items {
		req.Items = append(req.Items, routing.OrderLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return req
}

// VendorResponseRequest 供应商响应
type VendorResponseRequest struct {
	EventID  string `json:"event_id"`
	VendorID string `json:"vendor_id" binding:"required"`
	Accepted *bool  `json:"accepted" binding:"required"`
	Reason   string `json:"reason" binding:"omitempty,max=255"`
}

// CancelOrderRequest 取消订单
type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=255"`
}

// RoutingStatusResponse 路由状态
type RoutingStatusResponse struct {
	OrderID          string             `json:"order_id"`
	Status           string             `json:"status"`
	RetailerID       string             `json:"retailer_id"`
	AssignedVendorID string             `json:"assigned_vendor_id,omitempty"`
	Total            decimal.Decimal    `json:"total"`
	WorkflowStep     string             `json:"workflow_step,omitempty"`
	WorkflowStatus   string             `json:"workflow_status,omitempty"`
	NextRunAt        *time.Time         `json:"next_run_at,omitempty"`
	ActiveRetry      *RetryView         `json:"active_retry,omitempty"`
	Retries          []RetryView        `json:"retries"`
	TriedVendors     []string           `json:"tried_vendors"`
	Decisions        []DecisionView     `json:"decisions"`
	RecoveryTicket   *RecoveryTicketRef `json:"recovery_ticket,omitempty"`
}

// RetryView 派单尝试
type RetryView struct {
	ID               string     `json:"id"`
	VendorID         string     `json:"vendor_id"`
	AttemptNumber    int        `json:"attempt_number"`
	Status           string     `json:"status"`
	ResponseDeadline time.Time  `json:"response_deadline"`
	RespondedAt      *time.Time `json:"responded_at,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
}

// DecisionView 路由决策审计
type DecisionView struct {
	Attempt    int             `json:"attempt"`
	VendorID   string          `json:"vendor_id"`
	Strategy   string          `json:"strategy"`
	Reason     string          `json:"reason"`
	Candidates json.RawMessage `json:"candidates"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RecoveryTicketRef 恢复工单
type RecoveryTicketRef struct {
	ID           string `json:"id"`
	FailurePoint string `json:"failure_point"`
	Reason       string `json:"reason"`
}

// FromRoutingStatus 转换路由状态
func FromRoutingStatus(s *routing.RoutingStatus) *RoutingStatusResponse {
	resp := &RoutingStatusResponse{
		OrderID:          s.Order.ID,
		Status:           s.Order.Status,
		RetailerID:       s.Order.RetailerID,
		AssignedVendorID: s.Order.AssignedVendorID,
		Total:            s.Order.Total,
		Retries:          make([]RetryView, 0, len(s.Retries)),
		TriedVendors:     s.TriedVendors,
		Decisions:        make([]DecisionView, 0, len(s.Decisions)),
	}
	if resp.TriedVendors == nil {
		resp.TriedVendors = []string{}
	}
	if s.Workflow != nil {
		resp.WorkflowStep = s.Workflow.CurrentStep
		resp.WorkflowStatus = s.Workflow.Status
		resp.NextRunAt = s.Workflow.NextRunAt
	}
	for _, r := range s.Retries {
		view := RetryView{
			ID:               r.ID,
			VendorID:         r.VendorID,
			AttemptNumber:    r.AttemptNumber,
			Status:           r.Status,
			ResponseDeadline: r.ResponseDeadline,
			RespondedAt:      r.RespondedAt,
			FailureReason:    r.FailureReason,
		}
		resp.Retries = append(resp.Retries, view)
		if s.ActiveRetry != nil && r.ID == s.ActiveRetry.ID {
			active := view
			resp.ActiveRetry = &active
		}
	}
	for _, d := range s.Decisions {
		resp.Decisions = append(resp.Decisions, DecisionView{
			Attempt:    d.Attempt,
			VendorID:   d.VendorID,
			Strategy:   d.Strategy,
			Reason:     d.Reason,
			Candidates: rawJSON(d.Candidates),
			CreatedAt:  d.CreatedAt,
		})
	}
	if s.Recovery != nil {
		resp.RecoveryTicket = &RecoveryTicketRef{
			ID:           s.Recovery.ID,
			FailurePoint: s.Recovery.FailurePoint,
			Reason:       s.Recovery.Reason,
		}
	}
	return resp
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
