package respond

import (
	"context"

	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/domains/common"
	"khaacho/dispatch/internal/domains/common/job"
	"khaacho/dispatch/internal/domains/common/response"
	"khaacho/dispatch/internal/framework"
	"khaacho/dispatch/pkg/errorutil"
)

// Handler 供应商接单/拒单
type Handler struct {
	ctx     context.Context
	router  common.Router
	meta    *job.Meta
	payload interface{}
	resp    routing.VendorResponse
}

// NewHandler 创建 vendor_response Handler
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
		func(ctx context.Context) error {
			return common.DecodePayload(h.payload, &h.resp)
		},
		h.validate,
		func(ctx context.Context) error {
			out, err := h.router.HandleVendorResponse(ctx, &h.resp)
			result.SetOutcome(out)
			return common.Classify(err)
		},
	).Run(h.ctx)

	resp := &response.Response{}
	resp.WrapResponse(result, h.meta, err)
	return resp
}

func (h *Handler) validate(ctx context.Context) error {
	if h.resp.OrderID == "" {
		h.resp.OrderID = h.meta.ID
	}
	if h.resp.OrderID == "" || h.resp.VendorID == "" {
		return errorutil.NonRetriable("order_id and vendor_id are required")
	}
	return nil
}
