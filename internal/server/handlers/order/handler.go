package order

import (
	"context"

	"khaacho/dispatch/internal/business/routing"
)

// Router 订单路由能力
type Router interface {
	SubmitOrderForRouting(ctx context.Context, req *routing.SubmitRequest) (*routing.Outcome, error)
	HandleVendorResponse(ctx context.Context, resp *routing.VendorResponse) (*routing.Outcome, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*routing.Outcome, error)
	GetRoutingStatus(ctx context.Context, orderID string) (*routing.RoutingStatus, error)
}

// JobPublisher 异步提交时投递路由 Job
type JobPublisher interface {
	PublishJSON(queue string, v interface{}) (string, error)
}

// OrderHandler 订单路由 HTTP 处理器
type OrderHandler struct {
	router    Router
	publisher JobPublisher // 可为 nil，此时不支持异步提交
	queue     string
}

// NewOrderHandler 创建订单处理器实例
func NewOrderHandler(router Router, publisher JobPublisher, queue string) *OrderHandler {
	return &OrderHandler{
		router:    router,
		publisher: publisher,
		queue:     queue,
	}
}
