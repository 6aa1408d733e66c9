package framework

import (
	"fmt"
	"time"
)

// 路由事件作业的默认值
const (
	DefaultConsumeTimeout = 3 * time.Second
	DefaultJobTTR         = 60 * time.Second
	DefaultErrorBackoff   = time.Second
	DefaultProcessTimeout = 30 * time.Second
)

// SubscriberConfig 路由事件队列的拉取配置
type SubscriberConfig struct {
	QueueName    string        // 队列名称
	Concurrency  int           // 并发拉取数
	Timeout      time.Duration // 单次 Consume 阻塞时长
	TTR          time.Duration // 作业拉取后未确认，超过 TTR 重新投递
	Rate         time.Duration // 两次拉取的间隔
	ErrorBackoff time.Duration // 拉取出错后的退避
}

// ProcessorConfig 路由事件处理配置
type ProcessorConfig struct {
	Concurrency int           // 并发处理数
	BufferSize  int           // inputChan 缓冲区大小
	Timeout     time.Duration // 单个作业处理超时，须小于 TTR
}

// NormalizeJobConfig 校验并补全拉取与处理配置
// 处理超时不小于 TTR 时，作业会在处理中被重新投递
func NormalizeJobConfig(sub *SubscriberConfig, proc *ProcessorConfig) error {
	if sub.Concurrency <= 0 || proc.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got subscriber=%d processor=%d", sub.Concurrency, proc.Concurrency)
	}
	if sub.Timeout <= 0 {
		sub.Timeout = DefaultConsumeTimeout
	}
	if sub.TTR <= 0 {
		sub.TTR = DefaultJobTTR
	}
	if sub.ErrorBackoff <= 0 {
		sub.ErrorBackoff = DefaultErrorBackoff
	}
	if proc.Timeout <= 0 {
		proc.Timeout = DefaultProcessTimeout
	}
	if proc.Timeout >= sub.TTR {
		return fmt.Errorf("processor timeout %v must be shorter than job ttr %v", proc.Timeout, sub.TTR)
	}
	return nil
}
