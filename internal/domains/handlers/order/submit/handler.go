package submit

import (
	"context"
	"fmt"

	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/domains/common"
	"khaacho/dispatch/internal/domains/common/job"
	"khaacho/dispatch/internal/domains/common/response"
	"khaacho/dispatch/internal/framework"
	"khaacho/dispatch/pkg/errorutil"
)

// Line 订单行
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Data submit_order 业务数据
type Data struct {
	RetailerID    string `json:"retailer_id"`
	PaymentMethod string `json:"payment_method"`
	Items         []Line `json:"items"`
}

// Handler 提交订单路由
type Handler struct {
	ctx     context.Context
	router  common.Router
	meta    *job.Meta
	payload interface{}
	data    Data
	req     *routing.SubmitRequest
}

// NewHandler 创建 submit_order Handler
func NewHandler(ctx context.Context, router common.Router, meta *job.Meta, payload interface{}) (common.HandlerServ, error) {
	return &Handler{
		ctx:     ctx,
		router:  router,
		meta:    meta,
		payload: payload,
	}, nil
}

// GetProcess 处理 Job
func (h *Handler) GetProcess() *response.Response {
	result := response.NewRoutingResult()
	err := framework.NewPreProcessor(
		h.decode,
		h.validate,
		func(ctx context.Context) error {
			out, err := h.router.SubmitOrderForRouting(ctx, h.req)
			result.SetOutcome(out)
			return common.Classify(err)
		},
	).Run(h.ctx)

	resp := &response.Response{}
	resp.WrapResponse(result, h.meta, err)
	return resp
}

func (h *Handler) decode(ctx context.Context) error {
	return common.DecodePayload(h.payload, &h.data)
}

// validate 订单 ID 必填；订单行如果给出则必须完整
func (h *Handler) validate(ctx context.Context) error {
	if h.meta.ID == "" {
		return errorutil.NonRetriable("order id is required")
	}
	req := &routing.SubmitRequest{
		OrderID:       h.meta.ID,
		RetailerID:    h.data.RetailerID,
		PaymentMethod: h.data.PaymentMethod,
	}
	for i, line := range h.data.Items {
		if line.ProductID == "" || line.Quantity <= 0 {
			return errorutil.NonRetriable(fmt.Sprintf("items[%d]: product_id and positive quantity are required", i))
		}
		req.Items = append(req.Items, routing.OrderLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	h.req = req
	return nil
}
