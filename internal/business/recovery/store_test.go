package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
	"khaacho/dispatch/pkg/infra/memory"
)

var testStart = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*Store, *memory.Store, *clock) {
	c := &clock{t: testStart}
	mem := memory.NewStore()
	return NewStore(mem, time.Hour, c.now), mem, c
}

func TestIdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	s, _, c := newTestStore()

	created, err := s.CreateIdempotencyKey(ctx, "route:submit:ORD-1", "submit_order")
	if err != nil || !created {
		t.Fatalf("expected key created, got %v %v", created, err)
	}
	created, err = s.CreateIdempotencyKey(ctx, "route:submit:ORD-1", "submit_order")
	if err != nil || created {
		t.Fatalf("expected duplicate key to be refused, got %v %v", created, err)
	}

	k, err := s.CheckIdempotencyKey(ctx, "route:submit:ORD-1")
	if err != nil || k == nil || k.Completed() {
		t.Fatalf("expected claimed but incomplete key, got %+v %v", k, err)
	}

	if err := s.CompleteIdempotencyKey(ctx, "route:submit:ORD-1", map[string]string{"status": "ASSIGNED"}); err != nil {
		t.Fatalf("CompleteIdempotencyKey: %v", err)
	}
	k, _ = s.CheckIdempotencyKey(ctx, "route:submit:ORD-1")
	if k == nil || !k.Completed() || string(k.Result) != `{"status":"ASSIGNED"}` {
		t.Fatalf("expected completed key with result, got %+v", k)
	}

	t.Run("expired key is reusable", func(t *testing.T) {
		c.advance(61 * time.Minute)
		if k, _ := s.CheckIdempotencyKey(ctx, "route:submit:ORD-1"); k != nil {
			t.Fatalf("expected expired key to read as absent, got %+v", k)
		}
		created, err := s.CreateIdempotencyKey(ctx, "route:submit:ORD-1", "submit_order")
		if err != nil || !created {
			t.Fatalf("expected expired key to be reclaimed, got %v %v", created, err)
		}
	})

	t.Run("purge removes only expired keys", func(t *testing.T) {
		if _, err := s.CreateIdempotencyKey(ctx, "route:cancel:ORD-2", "cancel_order"); err != nil {
			t.Fatalf("create: %v", err)
		}
		c.advance(30 * time.Minute)
		if _, err := s.CreateIdempotencyKey(ctx, "route:cancel:ORD-3", "cancel_order"); err != nil {
			t.Fatalf("create: %v", err)
		}
		c.advance(31 * time.Minute)
		n, err := s.PurgeExpiredKeys(ctx)
		if err != nil {
			t.Fatalf("PurgeExpiredKeys: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 purged keys, got %d", n)
		}
		if k, _ := s.CheckIdempotencyKey(ctx, "route:cancel:ORD-3"); k == nil {
			t.Fatalf("expected live key to survive the purge")
		}
	})
}

func TestStartWorkflowIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore()

	wf, created, err := s.StartWorkflow(ctx, "order_routing", "ORD-1", "SELECTING", map[string]int{"attempt": 1})
	if err != nil || !created {
		t.Fatalf("expected new workflow, got %v %v", created, err)
	}
	if wf.StepSeq != 1 || wf.Status != entity.WorkflowStatusInProgress {
		t.Fatalf("unexpected workflow %+v", wf)
	}

	again, created, err := s.StartWorkflow(ctx, "order_routing", "ORD-1", "SELECTING", nil)
	if err != nil || created || again.ID != wf.ID {
		t.Fatalf("expected existing workflow returned, got %v %v %v", again, created, err)
	}

	missing, err := s.GetWorkflow(ctx, "order_routing", "ORD-404")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown entity, got %v %v", missing, err)
	}
}

func TestAdvanceWorkflow(t *testing.T) {
	ctx := context.Background()
	s, _, c := newTestStore()
	s.RegisterSteps("pipeline", func(from, to string) bool {
		return (from == "A" && to == "B") || (from == "B" && to == "C")
	})

	wf, _, err := s.StartWorkflow(ctx, "pipeline", "E-1", "A", map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	b, err := s.AdvanceWorkflow(ctx, wf, Transition{To: "B"})
	if err != nil {
		t.Fatalf("advance A->B: %v", err)
	}
	if b.StepSeq != 2 || b.CurrentStep != "B" {
		t.Fatalf("expected step B seq 2, got %s %d", b.CurrentStep, b.StepSeq)
	}
	if string(b.StepData) != `{"n":1}` {
		t.Fatalf("expected step data kept when nil, got %s", b.StepData)
	}
	if !b.LastHeartbeat.After(wf.LastHeartbeat) {
		t.Fatalf("expected heartbeat to move forward without clock change")
	}

	t.Run("stale writer loses", func(t *testing.T) {
		_, err := s.AdvanceWorkflow(ctx, wf, Transition{To: "B"})
		if !errors.Is(err, ErrStaleWorkflow) {
			t.Fatalf("expected ErrStaleWorkflow, got %v", err)
		}
	})

	t.Run("illegal step rejected", func(t *testing.T) {
		_, err := s.AdvanceWorkflow(ctx, b, Transition{To: "A"})
		if !errors.Is(err, ErrIllegalStep) {
			t.Fatalf("expected ErrIllegalStep, got %v", err)
		}
	})

	c.advance(time.Minute)
	until := c.now().Add(10 * time.Minute)
	cStep, err := s.AdvanceWorkflow(ctx, b, Transition{To: "C", Data: map[string]int{"n": 2}, SuspendUntil: until})
	if err != nil {
		t.Fatalf("advance B->C: %v", err)
	}
	if cStep.NextRunAt == nil || !cStep.NextRunAt.Equal(until) {
		t.Fatalf("expected workflow suspended until %v, got %v", until, cStep.NextRunAt)
	}

	var data struct{ N int }
	if err := DecodeStepData(cStep, &data); err != nil || data.N != 2 {
		t.Fatalf("expected decoded n=2, got %+v %v", data, err)
	}

	done, err := s.CompleteWorkflow(ctx, cStep)
	if err != nil {
		t.Fatalf("CompleteWorkflow: %v", err)
	}
	if done.Status != entity.WorkflowStatusCompleted || done.NextRunAt != nil || done.CurrentStep != "C" {
		t.Fatalf("unexpected completed workflow %+v", done)
	}

	t.Run("finished workflow cannot advance", func(t *testing.T) {
		if _, err := s.AdvanceWorkflow(ctx, done, Transition{To: "C"}); !errors.Is(err, ErrWorkflowFinished) {
			t.Fatalf("expected ErrWorkflowFinished, got %v", err)
		}
		if _, err := s.FailWorkflow(ctx, done, "late"); !errors.Is(err, ErrWorkflowFinished) {
			t.Fatalf("expected ErrWorkflowFinished, got %v", err)
		}
	})
}

func TestStaleAndDueWorkflows(t *testing.T) {
	ctx := context.Background()
	s, _, c := newTestStore()

	idle, _, _ := s.StartWorkflow(ctx, "order_routing", "ORD-1", "SELECTING", nil)
	parked, _, _ := s.StartWorkflow(ctx, "order_routing", "ORD-2", "SELECTING", nil)
	if _, err := s.AdvanceWorkflow(ctx, parked, Transition{To: "SELECTING", SuspendUntil: testStart.Add(20 * time.Minute)}); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	c.advance(6 * time.Minute)
	stale, err := s.GetStaleWorkflows(ctx, 5, 10)
	if err != nil {
		t.Fatalf("GetStaleWorkflows: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != idle.ID {
		t.Fatalf("expected only the idle workflow to be stale, got %d", len(stale))
	}

	if err := s.UpdateHeartbeat(ctx, idle.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	if stale, _ := s.GetStaleWorkflows(ctx, 5, 10); len(stale) != 0 {
		t.Fatalf("expected heartbeat to clear staleness, got %d", len(stale))
	}

	if due, _ := s.DueWorkflows(ctx, "order_routing", 10); len(due) != 0 {
		t.Fatalf("expected nothing due before 20m, got %d", len(due))
	}
	c.advance(15 * time.Minute)
	due, err := s.DueWorkflows(ctx, "order_routing", 10)
	if err != nil || len(due) != 1 || due[0].EntityRef != "ORD-2" {
		t.Fatalf("expected ORD-2 due, got %v %v", due, err)
	}
}

func TestRetryLedger(t *testing.T) {
	ctx := context.Background()
	s, _, c := newTestStore()
	deadline := testStart.Add(2 * time.Hour)

	first, err := s.CreateRetry(ctx, "ORD-1", "V1", 1, 5, deadline)
	if err != nil {
		t.Fatalf("CreateRetry: %v", err)
	}
	if first.Status != entity.RetryStatusPending || first.ActiveOrderID == nil {
		t.Fatalf("expected pending active retry, got %+v", first)
	}

	if _, err := s.CreateRetry(ctx, "ORD-1", "V2", 2, 5, deadline); !errors.Is(err, repo.ErrActiveRetryExists) {
		t.Fatalf("expected ErrActiveRetryExists, got %v", err)
	}

	if err := s.TransitionRetry(ctx, first, entity.RetryStatusInProgress, ""); err != nil {
		t.Fatalf("pending -> in_progress: %v", err)
	}
	if err := s.TransitionRetry(ctx, first, entity.RetryStatusInProgress, ""); !errors.Is(err, ErrIllegalRetryTransition) {
		t.Fatalf("expected in_progress -> in_progress rejected, got %v", err)
	}

	c.advance(3 * time.Hour)
	expired, err := s.ExpiredRetries(ctx, 10)
	if err != nil || len(expired) != 1 || expired[0].ID != first.ID {
		t.Fatalf("expected the first retry expired, got %v %v", expired, err)
	}

	if err := s.TransitionRetry(ctx, first, entity.RetryStatusTimeout, "deadline"); err != nil {
		t.Fatalf("in_progress -> timeout: %v", err)
	}
	if first.ActiveOrderID != nil {
		t.Fatalf("expected active marker released")
	}
	if err := s.TransitionRetry(ctx, first, entity.RetryStatusSuccess, ""); !errors.Is(err, ErrIllegalRetryTransition) {
		t.Fatalf("expected finished retry to reject transitions, got %v", err)
	}

	second, err := s.CreateRetry(ctx, "ORD-1", "V2", 2, 5, c.now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateRetry after timeout: %v", err)
	}
	if err := s.TransitionRetry(ctx, second, entity.RetryStatusFailed, "rejected"); err != nil {
		t.Fatalf("pending -> failed: %v", err)
	}
	if second.RespondedAt == nil {
		t.Fatalf("expected responded_at on a vendor response")
	}
	third, _ := s.CreateRetry(ctx, "ORD-1", "V1", 3, 5, c.now().Add(time.Hour))

	active, err := s.ActiveRetry(ctx, "ORD-1")
	if err != nil || active == nil || active.ID != third.ID {
		t.Fatalf("expected third retry active, got %v %v", active, err)
	}
	tried, err := s.TriedVendors(ctx, "ORD-1")
	if err != nil || len(tried) != 2 || tried[0] != "V1" || tried[1] != "V2" {
		t.Fatalf("expected tried [V1 V2], got %v %v", tried, err)
	}
}

func TestWithTxSharesStepGuards(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore()
	s.RegisterSteps("pipeline", func(from, to string) bool { return to != "X" })

	err := mem.Transaction(ctx, func(tx repo.Repos) error {
		rs := s.WithTx(tx)
		wf, _, err := rs.StartWorkflow(ctx, "pipeline", "E-1", "A", nil)
		if err != nil {
			return err
		}
		_, err = rs.AdvanceWorkflow(ctx, wf, Transition{To: "X"})
		return err
	})
	if !errors.Is(err, ErrIllegalStep) {
		t.Fatalf("expected guard to apply inside transaction, got %v", err)
	}
	if wf, _ := s.GetWorkflow(ctx, "pipeline", "E-1"); wf != nil {
		t.Fatalf("expected failed transaction to roll back the workflow")
	}
}

func TestRetryCounting(t *testing.T) {
	ctx := context.Background()
	s, _, c := newTestStore()

	wf, _, err := s.StartWorkflow(ctx, "pipeline", "E-1", "A", nil)
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	t.Run("retry transition increments count", func(t *testing.T) {
		next, err := s.AdvanceWorkflow(ctx, wf, Transition{To: "B", Retry: true})
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if next.RetryCount != 1 {
			t.Fatalf("expected retry count 1, got %d", next.RetryCount)
		}
		plain, err := s.AdvanceWorkflow(ctx, next, Transition{To: "C"})
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if plain.RetryCount != 1 {
			t.Fatalf("expected plain transition to keep count 1, got %d", plain.RetryCount)
		}
		wf = plain
	})

	t.Run("resume increments count and beats", func(t *testing.T) {
		c.advance(10 * time.Minute)
		resumed, err := s.MarkResumed(ctx, wf)
		if err != nil {
			t.Fatalf("MarkResumed: %v", err)
		}
		if resumed.RetryCount != 2 || resumed.StepSeq != wf.StepSeq+1 || resumed.CurrentStep != wf.CurrentStep {
			t.Fatalf("expected same step with count 2, got %+v", resumed)
		}
		if !resumed.LastHeartbeat.Equal(c.now()) {
			t.Fatalf("expected heartbeat at %v, got %v", c.now(), resumed.LastHeartbeat)
		}
		if _, err := s.MarkResumed(ctx, wf); !errors.Is(err, ErrStaleWorkflow) {
			t.Fatalf("expected stale copy to lose the race, got %v", err)
		}
		wf = resumed
	})

	t.Run("finished workflow is not resumed", func(t *testing.T) {
		done, err := s.CompleteWorkflow(ctx, wf)
		if err != nil {
			t.Fatalf("CompleteWorkflow: %v", err)
		}
		same, err := s.MarkResumed(ctx, done)
		if err != nil || same.StepSeq != done.StepSeq || same.RetryCount != done.RetryCount {
			t.Fatalf("expected finished workflow untouched, got %+v %v", same, err)
		}
	})
}

func TestScheduleNextRetry(t *testing.T) {
	ctx := context.Background()
	s, _, c := newTestStore()
	at := testStart.Add(5 * time.Minute)

	if err := s.ScheduleNextRetry(ctx, "ORD-1", at); err != nil {
		t.Fatalf("expected no-op without retries, got %v", err)
	}

	first, _ := s.CreateRetry(ctx, "ORD-1", "V1", 1, 5, c.now().Add(time.Hour))
	if err := s.ScheduleNextRetry(ctx, "ORD-1", at); err != nil {
		t.Fatalf("ScheduleNextRetry: %v", err)
	}
	active, _ := s.ActiveRetry(ctx, "ORD-1")
	if active.NextRetryAt != nil {
		t.Fatalf("expected active attempt left alone, got %v", active.NextRetryAt)
	}

	if err := s.TransitionRetry(ctx, first, entity.RetryStatusFailed, "rejected"); err != nil {
		t.Fatalf("TransitionRetry: %v", err)
	}
	second, _ := s.CreateRetry(ctx, "ORD-1", "V2", 2, 5, c.now().Add(time.Hour))
	if err := s.TransitionRetry(ctx, second, entity.RetryStatusTimeout, "deadline"); err != nil {
		t.Fatalf("TransitionRetry: %v", err)
	}
	if err := s.ScheduleNextRetry(ctx, "ORD-1", at); err != nil {
		t.Fatalf("ScheduleNextRetry: %v", err)
	}
	tried, _ := s.TriedVendors(ctx, "ORD-1")
	if len(tried) != 2 {
		t.Fatalf("expected two attempts, got %v", tried)
	}
	retries, _ := s.repos.Retries().ListByOrder(ctx, "ORD-1")
	if retries[0].NextRetryAt != nil {
		t.Fatalf("expected earlier attempt untouched, got %v", retries[0].NextRetryAt)
	}
	if retries[1].NextRetryAt == nil || !retries[1].NextRetryAt.Equal(at) {
		t.Fatalf("expected latest attempt scheduled at %v, got %v", at, retries[1].NextRetryAt)
	}
}
