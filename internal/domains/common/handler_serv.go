package common

import (
	"context"

	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/domains/common/job"
	"khaacho/dispatch/internal/domains/common/response"
)

// Router Job 处理依赖的编排能力
type Router interface {
	SubmitOrderForRouting(ctx context.Context, req *routing.SubmitRequest) (*routing.Outcome, error)
	HandleVendorResponse(ctx context.Context, resp *routing.VendorResponse) (*routing.Outcome, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*routing.Outcome, error)
}

// HandlerServProc Handler 构造函数类型
type HandlerServProc func(ctx context.Context, router Router, meta *job.Meta, payload interface{}) (HandlerServ, error)

// HandlerServ Handler 接口
type HandlerServ interface {
	GetProcess() *response.Response
}
