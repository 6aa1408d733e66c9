package domains

import (
	"khaacho/dispatch/internal/domains/common"
	"khaacho/dispatch/internal/domains/common/job"
	"khaacho/dispatch/internal/domains/handlers/order/cancel"
	"khaacho/dispatch/internal/domains/handlers/order/respond"
	"khaacho/dispatch/internal/domains/handlers/order/submit"
)

// HandlerMap 路由表（ActionType → Handler 映射）
var HandlerMap = map[string]common.HandlerServProc{
	job.ActionSubmitOrder:    submit.NewHandler,
	job.ActionVendorResponse: respond.NewHandler,
	job.ActionCancelOrder:    cancel.NewHandler,
}
