package routing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"

	"khaacho/dispatch/internal/business/recovery"
	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/internal/collab/mocks"
	"khaacho/dispatch/pkg/entity"
	"khaacho/dispatch/pkg/infra/memory"
	"khaacho/dispatch/pkg/logger"
)

const productRice = "RICE-25KG"

// 2026-01-05 是周一，UTC 10:00
var testStart = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	clock time.Time
	store *memory.Store
	orch  *Orchestrator

	notifier  *mocks.MockNotificationSender
	inventory *mocks.MockInventoryService
	ledger    *mocks.MockCreditLedger
	admin     *mocks.MockAdminNotificationSink
}

func newFixture(t *testing.T, ctrl *gomock.Controller, tune func(cfg *Config, bcfg *BalancerConfig)) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), clock: testStart, store: memory.NewStore()}
	now := func() time.Time { return f.clock }

	cfg := DefaultConfig()
	bcfg := DefaultBalancerConfig()
	bcfg.WorkingHours.Enabled = false
	if tune != nil {
		tune(&cfg, &bcfg)
	}

	scorer, err := NewScorer(DefaultWeights())
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	balancer, err := NewBalancer(bcfg, f.store, now)
	if err != nil {
		t.Fatalf("NewBalancer: %v", err)
	}

	f.notifier = mocks.NewMockNotificationSender(ctrl)
	f.inventory = mocks.NewMockInventoryService(ctrl)
	f.ledger = mocks.NewMockCreditLedger(ctrl)
	f.admin = mocks.NewMockAdminNotificationSink(ctrl)

	f.orch, err = NewOrchestrator(cfg, Deps{
		Store:     f.store,
		Recovery:  recovery.NewStore(f.store, 0, now),
		Resolver:  NewResolver(f.store),
		Scorer:    scorer,
		ScoreBook: NewScoreBook(f.store, scorer, now),
		Balancer:  balancer,
		Notifier:  f.notifier,
		Inventory: f.inventory,
		Ledger:    f.ledger,
		Admin:     f.admin,
		Logger:    logger.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// seedVendors 创建 n 个供应商 V1..Vn，评级递减，V1 评分最高
func (f *fixture) seedVendors(n int, productID string, price int64) {
	f.t.Helper()
	for i := 1; i <= n; i++ {
		f.seedVendor(vendorID(i), 5.0-0.1*float64(i), productID, price, 100)
	}
}

func (f *fixture) seedVendor(id string, rating float64, productID string, price int64, stock int) {
	f.t.Helper()
	if err := f.store.Vendors().SaveVendor(f.ctx, &entity.Vendor{
		ID:        id,
		Name:      "vendor " + id,
		Approved:  true,
		Active:    true,
		Rating:    rating,
		Timezone:  "UTC",
		CreatedAt: f.clock,
		UpdatedAt: f.clock,
	}); err != nil {
		f.t.Fatalf("save vendor %s: %v", id, err)
	}
	if err := f.store.Vendors().SaveProduct(f.ctx, &entity.VendorProduct{
		VendorID:  id,
		ProductID: productID,
		Price:     decimal.NewFromInt(price),
		Stock:     stock,
		Available: true,
		UpdatedAt: f.clock,
	}); err != nil {
		f.t.Fatalf("save product %s/%s: %v", id, productID, err)
	}
}

func (f *fixture) submit(orderID, payment string, qty int) *Outcome {
	f.t.Helper()
	out, err := f.orch.SubmitOrderForRouting(f.ctx, &SubmitRequest{
		OrderID:       orderID,
		RetailerID:    "R1",
		PaymentMethod: payment,
		Items:         []OrderLine{{ProductID: productRice, Quantity: qty}},
	})
	if err != nil {
		f.t.Fatalf("submit %s: %v", orderID, err)
	}
	return out
}

func (f *fixture) sweep() *SweepReport {
	f.t.Helper()
	report, err := f.orch.RunRoutingTimeoutSweep(f.ctx)
	if err != nil {
		f.t.Fatalf("sweep: %v", err)
	}
	return report
}

func (f *fixture) order(id string) *entity.Order {
	f.t.Helper()
	order, err := f.store.Orders().Get(f.ctx, id)
	if err != nil {
		f.t.Fatalf("get order %s: %v", id, err)
	}
	return order
}

func (f *fixture) workflow(orderID string) *entity.WorkflowState {
	f.t.Helper()
	wf, err := f.store.Workflows().GetByEntity(f.ctx, WorkflowType, orderID)
	if err != nil {
		f.t.Fatalf("get workflow %s: %v", orderID, err)
	}
	return wf
}

func (f *fixture) score(vendorID string) *entity.VendorScore {
	f.t.Helper()
	score, err := f.store.Scores().Get(f.ctx, vendorID)
	if err != nil {
		f.t.Fatalf("get score %s: %v", vendorID, err)
	}
	return score
}

func (f *fixture) healing(orderID string) []*entity.HealingAction {
	f.t.Helper()
	actions, err := f.store.Healing().ListByOrder(f.ctx, orderID)
	if err != nil {
		f.t.Fatalf("list healing %s: %v", orderID, err)
	}
	return actions
}

// expectNotify 期望恰好一次通知，并校验尝试序号
func (f *fixture) expectNotify(vendorID string, attempt int) {
	f.notifier.EXPECT().NotifyVendor(gomock.Any(), vendorID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, summary *collab.OrderSummary) error {
			if summary.Attempt != attempt {
				f.t.Errorf("expected notification for attempt %d, got %d", attempt, summary.Attempt)
			}
			return nil
		})
}

func vendorID(i int) string {
	return "V" + string(rune('0'+i))
}
