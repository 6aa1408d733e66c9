package framework

// Message 消息结构（框架内部流转）
type Message struct {
	ID    string // 消息 ID
	Queue string // 队列名称
	Data  []byte // 原始 Job 数据
}

// Outcome 一条消息的最终处置
type Outcome string

// 消息处置
const (
	OutcomeAcked    Outcome = "acked"    // 成功，已确认
	OutcomeReleased Outcome = "released" // 可重试，不确认，TTR 到期后重新投递
	OutcomeBuried   Outcome = "buried"   // 不可重试，确认后丢弃
)
