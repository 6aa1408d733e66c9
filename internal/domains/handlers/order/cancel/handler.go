package cancel

import (
	"context"

	"khaacho/dispatch/internal/domains/common"
	"khaacho/dispatch/internal/domains/common/job"
	"khaacho/dispatch/internal/domains/common/response"
	"khaacho/dispatch/internal/framework"
	"khaacho/dispatch/pkg/errorutil"
)

// Data cancel_order 业务数据
type Data struct {
	Reason string `json:"reason"`
}

// Handler 取消订单
type Handler struct {
	ctx     context.Context
	router  common.Router
	meta    *job.Meta
	payload interface{}
	data    Data
}

// NewHandler 创建 cancel_order Handler
func NewHandler(ctx context.Context, router common.Router, meta *job.Meta, payload interface{}) (common.HandlerServ, error) {
	if meta.ID == "" {
		return nil, errorutil.NonRetriable("order id is required")
	}
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
			if h.payload == nil {
				return nil
			}
			return common.DecodePayload(h.payload, &h.data)
		},
		func(ctx context.Context) error {
			out, err := h.router.CancelOrder(ctx, h.meta.ID, h.data.Reason)
			result.SetOutcome(out)
			return common.Classify(err)
		},
	).Run(h.ctx)

	resp := &response.Response{}
	resp.WrapResponse(result, h.meta, err)
	return resp
}
