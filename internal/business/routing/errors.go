package routing

import "errors"

// 路由错误分类
var (
	// ErrNoEligibleVendors 没有供应商通过候选过滤，直接转恢复工单
	ErrNoEligibleVendors = errors.New("no eligible vendors")
	// ErrAllVendorsAtCapacity 候选全部满载，退避后重试
	ErrAllVendorsAtCapacity = errors.New("all vendors at capacity")
	// ErrVendorTimeout 供应商未在截止时间前响应
	ErrVendorTimeout = errors.New("vendor response timed out")
	// ErrMaxAttemptsExceeded 达到最大尝试次数
	ErrMaxAttemptsExceeded = errors.New("max assignment attempts exceeded")
	// ErrCapacityBackoffExhausted 满载退避次数耗尽
	ErrCapacityBackoffExhausted = errors.New("capacity backoff exhausted")
	// ErrInvalidWeights 评分权重非法
	ErrInvalidWeights = errors.New("invalid scoring weights")
	// ErrIllegalTransition 非法状态迁移
	ErrIllegalTransition = errors.New("illegal routing transition")
)

// 调用方错误（不写自愈记录，不重试）
var (
	ErrInvalidRequest      = errors.New("invalid routing request")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotRoutable    = errors.New("order is not in a routable state")
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")
	ErrStaleResponse       = errors.New("vendor response does not match an active assignment")
)

// IsCallerError 是否为调用方输入导致的错误
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderNotRoutable) ||
		errors.Is(err, ErrOrderNotCancellable) ||
		errors.Is(err, ErrStaleResponse)
}
