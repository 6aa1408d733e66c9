package routing

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateSelecting, StateAssigned, true},
		{StateSelecting, StateSelecting, true},
		{StateSelecting, StateRecoveryRequired, true},
		{StateAssigned, StateNotified, true},
		{StateNotified, StateAwaitingResponse, true},
		{StateAwaitingResponse, StateAccepted, true},
		{StateAwaitingResponse, StateTimedOut, true},
		{StateRejected, StateSelecting, true},
		{StateTimedOut, StateRecoveryRequired, true},
		{StateAssigned, StateCancelled, true},

		{StateSelecting, StateAccepted, false},
		{StateAssigned, StateAccepted, false},
		{StateAwaitingResponse, StateSelecting, false},
		{StateAccepted, StateCancelled, false},
		{StateCancelled, StateSelecting, false},
		{StateRecoveryRequired, StateSelecting, false},
		{State("UNKNOWN"), StateSelecting, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := map[State]bool{
		StateAccepted:         true,
		StateRecoveryRequired: true,
		StateCancelled:        true,
	}
	for _, s := range States() {
		if !s.Valid() {
			t.Fatalf("expected %s to be valid", s)
		}
		if got := s.IsTerminal(); got != terminal[s] {
			t.Fatalf("%s: expected terminal %v, got %v", s, terminal[s], got)
		}
		// 终态没有出边，非终态至少可以取消
		if !terminal[s] && !CanTransition(s, StateCancelled) {
			t.Fatalf("expected %s to be cancellable", s)
		}
	}
	if State("UNKNOWN").Valid() || State("UNKNOWN").IsTerminal() {
		t.Fatalf("expected unknown state to be invalid and not terminal")
	}
}
