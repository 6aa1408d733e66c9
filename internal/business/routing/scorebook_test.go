package routing

import (
	"context"
	"testing"
	"time"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
	"khaacho/dispatch/pkg/infra/memory"
)

func TestScoreBookRecordAndRecalculate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	scorer, err := NewScorer(DefaultWeights())
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	book := NewScoreBook(store, scorer, func() time.Time { return testStart })

	events := []*entity.VendorScoreEvent{
		{EventKey: "ASSIGNED:r1", EventType: entity.ScoreEventAssigned},
		{EventKey: "ACCEPTED:r1", EventType: entity.ScoreEventAccepted, Value: 12},
		{EventKey: "ASSIGNED:r2", EventType: entity.ScoreEventAssigned},
		{EventKey: "REJECTED:r2", EventType: entity.ScoreEventRejected, Value: 30},
		{EventKey: "ASSIGNED:r3", EventType: entity.ScoreEventAssigned},
		{EventKey: "TIMED_OUT:r3", EventType: entity.ScoreEventTimedOut},
		{EventKey: "DELIVERED:o1", EventType: entity.ScoreEventDelivered},
		// 重复事件键不生效
		{EventKey: "ACCEPTED:r1", EventType: entity.ScoreEventAccepted, Value: 999},
	}
	for _, ev := range events {
		ev.VendorID = "V1"
		if err := store.Transaction(ctx, func(tx repo.Repos) error {
			return book.Record(ctx, tx, ev)
		}); err != nil {
			t.Fatalf("Record %s: %v", ev.EventKey, err)
		}
	}

	incremental, err := store.Scores().Get(ctx, "V1")
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if incremental.PendingOrders != 0 || incremental.ActiveOrders != 0 || incremental.CompletedOrders != 1 {
		t.Fatalf("unexpected load counters %+v", incremental)
	}
	if incremental.AcceptedCount != 1 || incremental.RejectedCount != 1 || incremental.TimeoutCount != 1 {
		t.Fatalf("unexpected response counters %+v", incremental)
	}
	if incremental.PenaltyPoints != 2 || incremental.ReliabilityScore != 31.33 {
		t.Fatalf("expected penalty 2 and reliability 31.33, got %d %v", incremental.PenaltyPoints, incremental.ReliabilityScore)
	}
	if incremental.AvgResponseTimeMinutes == nil || *incremental.AvgResponseTimeMinutes != 21 {
		t.Fatalf("expected average response 21, got %v", incremental.AvgResponseTimeMinutes)
	}
	if incremental.DeliverySuccessRate != 100 {
		t.Fatalf("expected delivery success 100, got %v", incremental.DeliverySuccessRate)
	}

	rebuilt, err := book.Recalculate(ctx, "V1")
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if rebuilt.PendingOrders != incremental.PendingOrders ||
		rebuilt.ActiveOrders != incremental.ActiveOrders ||
		rebuilt.AcceptedCount != incremental.AcceptedCount ||
		rebuilt.PenaltyPoints != incremental.PenaltyPoints ||
		rebuilt.ReliabilityScore != incremental.ReliabilityScore ||
		*rebuilt.AvgResponseTimeMinutes != *incremental.AvgResponseTimeMinutes ||
		rebuilt.OverallScore != incremental.OverallScore ||
		rebuilt.LastEventID != incremental.LastEventID {
		t.Fatalf("expected recalculated score %+v to equal incremental %+v", rebuilt, incremental)
	}
}

func TestScoreBookCountersNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	scorer, _ := NewScorer(DefaultWeights())
	book := NewScoreBook(store, scorer, nil)

	err := store.Transaction(ctx, func(tx repo.Repos) error {
		return book.Record(ctx, tx, &entity.VendorScoreEvent{
			EventKey: ScoreEventKey(entity.ScoreEventTimedOut, "r1"), VendorID: "V1", EventType: entity.ScoreEventTimedOut,
		})
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	score, _ := store.Scores().Get(ctx, "V1")
	if score.PendingOrders != 0 {
		t.Fatalf("expected pending clamped at 0, got %d", score.PendingOrders)
	}
	if ScoreEventKey(entity.ScoreEventTimedOut, "r1") != "TIMED_OUT:r1" {
		t.Fatalf("unexpected event key format")
	}
}
