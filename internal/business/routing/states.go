package routing

// State 路由状态机状态
type State string

// 路由状态
const (
	StateSelecting        State = "SELECTING"
	StateAssigned         State = "ASSIGNED"
	StateNotified         State = "NOTIFIED"
	StateAwaitingResponse State = "AWAITING_RESPONSE"
	StateAccepted         State = "ACCEPTED"
	StateRejected         State = "REJECTED"
	StateTimedOut         State = "TIMED_OUT"
	StateRecoveryRequired State = "RECOVERY_REQUIRED"
	StateCancelled        State = "CANCELLED"
)

// WorkflowType 路由工作流类型
const WorkflowType = "order_routing"

// transitions 合法迁移表
// SELECTING 可以自迁移（满载退避重排期）
var transitions = map[State][]State{
	StateSelecting:        {StateSelecting, StateAssigned, StateRecoveryRequired, StateCancelled},
	StateAssigned:         {StateNotified, StateTimedOut, StateRejected, StateCancelled},
	StateNotified:         {StateAwaitingResponse, StateTimedOut, StateRejected, StateCancelled},
	StateAwaitingResponse: {StateAccepted, StateRejected, StateTimedOut, StateCancelled},
	StateRejected:         {StateSelecting, StateRecoveryRequired, StateCancelled},
	StateTimedOut:         {StateSelecting, StateRecoveryRequired, StateCancelled},
	StateAccepted:         {},
	StateRecoveryRequired: {},
	StateCancelled:        {},
}

// States 全部状态
func States() []State {
	return []State{
		StateSelecting, StateAssigned, StateNotified, StateAwaitingResponse,
		StateAccepted, StateRejected, StateTimedOut, StateRecoveryRequired, StateCancelled,
	}
}

// CanTransition 判断迁移是否合法
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal 是否为终态
func (s State) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Valid 是否为已知状态
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}
