package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"

	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/internal/collab/mocks"
	"khaacho/dispatch/pkg/config"
	"khaacho/dispatch/pkg/entity"
	"khaacho/dispatch/pkg/infra/memory"
	"khaacho/dispatch/pkg/logger"
)

var testStart = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

func TestNewWithStoreRoutesOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.Vendors().SaveVendor(ctx, &entity.Vendor{ID: "V1", Name: "vendor V1", Approved: true, Active: true, Rating: 4.5, Timezone: "UTC"}); err != nil {
		t.Fatalf("save vendor: %v", err)
	}
	if err := store.Vendors().SaveProduct(ctx, &entity.VendorProduct{VendorID: "V1", ProductID: "RICE-25KG", Price: decimal.NewFromInt(1200), Stock: 10, Available: true}); err != nil {
		t.Fatalf("save product: %v", err)
	}

	notifier := mocks.NewMockNotificationSender(ctrl)
	notifier.EXPECT().NotifyVendor(gomock.Any(), "V1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, summary *collab.OrderSummary) error {
			if summary.OrderID != "ORD-1" {
				t.Fatalf("unexpected summary %+v", summary)
			}
			return nil
		})
	ledger := mocks.NewMockCreditLedger(ctrl)

	a, err := NewWithStore(cfg, store, Collaborators{Notifier: notifier, Ledger: ledger}, func() time.Time { return testStart }, logger.NewNop())
	if err != nil {
		t.Fatalf("NewWithStore: %v", err)
	}
	if a.Orchestrator == nil || a.Monitor == nil || a.Recovery == nil || a.Store == nil {
		t.Fatalf("expected assembled components")
	}

	out, err := a.Orchestrator.SubmitOrderForRouting(ctx, &routing.SubmitRequest{
		OrderID: "ORD-1", RetailerID: "R1", PaymentMethod: entity.PaymentMethodCash,
		Items: []routing.OrderLine{{ProductID: "RICE-25KG", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("SubmitOrderForRouting: %v", err)
	}
	if out.VendorID != "V1" || out.Status != entity.OrderStatusVendorAssigned {
		t.Fatalf("unexpected outcome %+v", out)
	}

	tasks := Tasks(a)
	if len(tasks) != 3 {
		t.Fatalf("expected 3 scheduled tasks, got %d", len(tasks))
	}
	wantIntervals := map[string]time.Duration{
		TaskTimeoutSweep: time.Minute,
		TaskSelfHealing:  5 * time.Minute,
		TaskPurgeKeys:    time.Hour,
	}
	for _, task := range tasks {
		if task.Interval != wantIntervals[task.Name] {
			t.Fatalf("%s: expected interval %v, got %v", task.Name, wantIntervals[task.Name], task.Interval)
		}
		if err := task.Run(ctx); err != nil {
			t.Fatalf("%s: %v", task.Name, err)
		}
	}
}

func TestNewWithStoreRequiresCollaborators(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := NewWithStore(cfg, memory.NewStore(), Collaborators{}, nil, logger.NewNop()); err == nil {
		t.Fatalf("expected missing notifier and ledger to be rejected")
	}
}

func TestConfigMappers(t *testing.T) {
	t.Run("routing falls back to defaults", func(t *testing.T) {
		got := RoutingFromConfig(config.RoutingConfig{})
		def := routing.DefaultConfig()
		if got.ResponseDeadline != def.ResponseDeadline || got.MaxAttempts != def.MaxAttempts ||
			got.CapacityBackoffBase != def.CapacityBackoffBase || got.MaxCapacityBackoffs != def.MaxCapacityBackoffs {
			t.Fatalf("expected defaults, got %+v", got)
		}
		got = RoutingFromConfig(config.RoutingConfig{ResponseDeadlineMinutes: 90, MaxAttempts: 3})
		if got.ResponseDeadline != 90*time.Minute || got.MaxAttempts != 3 {
			t.Fatalf("expected configured values, got %+v", got)
		}
	})

	t.Run("balancer window in days", func(t *testing.T) {
		c := config.BalancerConfig{Strategy: "round_robin", MaxActiveOrders: 10, MaxPendingOrders: 5, MonopolyThreshold: 0.4, MonopolyWindowDays: 30}
		c.WorkingHours.Enabled = true
		c.WorkingHours.StartHour = 8
		c.WorkingHours.EndHour = 20
		got := BalancerFromConfig(c)
		if got.Strategy != routing.StrategyRoundRobin || got.MonopolyWindow != 30*24*time.Hour || got.WorkingHours.EndHour != 20 {
			t.Fatalf("unexpected balancer config %+v", got)
		}
	})

	t.Run("healing durations", func(t *testing.T) {
		got := HealingFromConfig(config.HealingConfig{StuckAssignmentMinutes: 180, StuckFulfillmentHours: 24, AbandonedPendingHours: 48, MaxRetries: 3})
		if got.StuckAssignment != 180*time.Minute || got.StuckFulfillment != 24*time.Hour ||
			got.AbandonedPendingOrder != 48*time.Hour || got.MaxRetries != 3 {
			t.Fatalf("unexpected healing config %+v", got)
		}
	})

	t.Run("log sink never fails", func(t *testing.T) {
		err := NewLogSink(logger.NewNop()).Notify(context.Background(), &collab.AdminEvent{Type: "ORDER_ROUTING_FAILED", OrderID: "ORD-1"})
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
	})
}
