package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/pkg/entity"
	"khaacho/dispatch/pkg/infra/memory"
)

func TestInventoryLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.Vendors().SaveProduct(ctx, &entity.VendorProduct{
		VendorID: "V1", ProductID: "RICE-25KG", Price: decimal.NewFromInt(1200), Stock: 5, Available: true,
	}); err != nil {
		t.Fatalf("save product: %v", err)
	}
	s := NewService(store)

	check := func(stock, reserved int) {
		t.Helper()
		p, err := store.Vendors().GetProduct(ctx, "V1", "RICE-25KG")
		if err != nil {
			t.Fatalf("GetProduct: %v", err)
		}
		if p.Stock != stock || p.Reserved != reserved {
			t.Fatalf("expected stock %d reserved %d, got %d %d", stock, reserved, p.Stock, p.Reserved)
		}
	}

	if err := s.Reserve(ctx, "V1", "RICE-25KG", 3); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	check(2, 3)

	if err := s.Reserve(ctx, "V1", "RICE-25KG", 3); !errors.Is(err, collab.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	check(2, 3)

	if err := s.Restore(ctx, "V1", "RICE-25KG", 1); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	check(3, 2)

	if err := s.Reduce(ctx, "V1", "RICE-25KG", 2); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	check(3, 0)

	if err := s.Reduce(ctx, "V1", "RICE-25KG", 1); !errors.Is(err, collab.ErrInsufficientStock) {
		t.Fatalf("expected reduce beyond reserved to fail, got %v", err)
	}
	if err := s.Reserve(ctx, "V9", "RICE-25KG", 1); !errors.Is(err, collab.ErrInsufficientStock) {
		t.Fatalf("expected unknown product to fail, got %v", err)
	}
}
