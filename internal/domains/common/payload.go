package common

import (
	"encoding/json"
	"fmt"

	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/pkg/errorutil"
)

// DecodePayload 将 Job 中的业务数据解析到 v
// 解析失败的消息重投也无法成功，按不可重试处理
func DecodePayload(payload interface{}, v interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errorutil.NonRetriableWithDetails("marshal payload failed", err.Error())
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errorutil.NonRetriableWithDetails("unmarshal business data failed", err.Error())
	}
	return nil
}

// Classify 编排错误分类
// 调用方错误不可重试，其余（存储、协作方故障）交给队列重投
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if routing.IsCallerError(err) {
		return errorutil.NonRetriableWithDetails(err.Error(), fmt.Sprintf("%+v", err))
	}
	return errorutil.RetriableWithDetails(err.Error(), fmt.Sprintf("%+v", err))
}
