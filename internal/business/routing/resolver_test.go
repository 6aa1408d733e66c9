package routing

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"khaacho/dispatch/pkg/entity"
	"khaacho/dispatch/pkg/infra/memory"
)

type catalog struct {
	t     *testing.T
	store *memory.Store
}

func (c catalog) vendor(id string, approved, active bool) {
	c.t.Helper()
	if err := c.store.Vendors().SaveVendor(context.Background(), &entity.Vendor{
		ID: id, Name: id, Approved: approved, Active: active, Rating: 4, Timezone: "UTC",
	}); err != nil {
		c.t.Fatalf("save vendor: %v", err)
	}
}

func (c catalog) product(vendorID, productID string, price int64, stock int, available bool) {
	c.t.Helper()
	if err := c.store.Vendors().SaveProduct(context.Background(), &entity.VendorProduct{
		VendorID: vendorID, ProductID: productID, Price: decimal.NewFromInt(price),
		Stock: stock, Available: available, LeadTimeDays: 1,
	}); err != nil {
		c.t.Fatalf("save product: %v", err)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := catalog{t: t, store: store}
	r := NewResolver(store)

	t.Run("no vendors yields empty slice", func(t *testing.T) {
		cands, err := r.Resolve(ctx, productRice, 1, nil)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if cands == nil || len(cands) != 0 {
			t.Fatalf("expected empty non-nil slice, got %v", cands)
		}
	})

	c.vendor("V1", true, true)
	c.product("V1", productRice, 1200, 10, true)
	c.vendor("V2", true, true)
	c.product("V2", productRice, 1100, 1, true) // 库存不足
	c.vendor("V3", false, true)
	c.product("V3", productRice, 1000, 10, true) // 未审核
	c.vendor("V4", true, false)
	c.product("V4", productRice, 1000, 10, true) // 停用
	c.vendor("V5", true, true)
	c.product("V5", productRice, 1000, 10, false) // 不可售
	c.vendor("V6", true, true)
	c.product("V6", productRice, 1300, 10, true)
	c.vendor("V7", true, true)
	c.product("V7", productRice, 1250, 10, true)

	t.Run("filters ineligible vendors", func(t *testing.T) {
		cands, err := r.Resolve(ctx, productRice, 2, []string{"V6"})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if len(cands) != 2 || cands[0].VendorID != "V1" || cands[1].VendorID != "V7" {
			t.Fatalf("expected [V1 V7], got %v", vendorIDs(cands))
		}
		if !cands[0].Price.Equal(decimal.NewFromInt(2400)) {
			t.Fatalf("expected line total 2400, got %s", cands[0].Price)
		}
	})

	t.Run("market deviation from candidate mean", func(t *testing.T) {
		cands, err := r.Resolve(ctx, productRice, 1, []string{"V2", "V6"})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		// 均价 1225：V1 偏离 -2.0408%，V7 偏离 +2.0408%
		if cands[0].PriceVsMarket == nil || math.Abs(*cands[0].PriceVsMarket+2.0408) > 1e-9 {
			t.Fatalf("unexpected V1 deviation %v", cands[0].PriceVsMarket)
		}
		if math.Abs(*cands[1].PriceVsMarket-2.0408) > 1e-9 {
			t.Fatalf("unexpected V7 deviation %v", *cands[1].PriceVsMarket)
		}
	})

	t.Run("single candidate has no deviation", func(t *testing.T) {
		cands, err := r.Resolve(ctx, productRice, 5, []string{"V6", "V7"})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if len(cands) != 1 || cands[0].PriceVsMarket != nil {
			t.Fatalf("expected one candidate without deviation, got %+v", cands)
		}
	})

	t.Run("invalid quantity", func(t *testing.T) {
		if _, err := r.Resolve(ctx, productRice, 0, nil); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest, got %v", err)
		}
		if _, err := r.ResolveOrder(ctx, nil, nil); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for empty order, got %v", err)
		}
	})
}

func TestResolveMultiLineOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := catalog{t: t, store: store}
	c.vendor("V1", true, true)
	c.product("V1", productRice, 1200, 10, true)
	c.product("V1", "OIL-1L", 250, 4, true)
	c.vendor("V2", true, true)
	c.product("V2", productRice, 1100, 50, true)

	if err := store.Scores().Save(ctx, &entity.VendorScore{VendorID: "V1", ActiveOrders: 2}); err != nil {
		t.Fatalf("seed score: %v", err)
	}

	cands, err := NewResolver(store).ResolveOrder(ctx, []entity.OrderItem{
		{ProductID: productRice, Quantity: 2},
		{ProductID: "OIL-1L", Quantity: 3},
	}, nil)
	if err != nil {
		t.Fatalf("ResolveOrder: %v", err)
	}
	if len(cands) != 1 || cands[0].VendorID != "V1" {
		t.Fatalf("expected only V1 to supply every line, got %v", vendorIDs(cands))
	}
	got := cands[0]
	if !got.Price.Equal(decimal.NewFromInt(2*1200 + 3*250)) {
		t.Fatalf("expected summed price 3150, got %s", got.Price)
	}
	if len(got.Lines) != 2 || got.Stock != 4 || got.ProductID != productRice {
		t.Fatalf("unexpected candidate %+v", got)
	}
	if got.Score == nil || got.ActiveOrders() != 2 {
		t.Fatalf("expected score snapshot attached, got %+v", got.Score)
	}
}
