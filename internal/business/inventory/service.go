package inventory

import (
	"context"
	"fmt"

	"khaacho/dispatch/internal/collab"
	"khaacho/dispatch/internal/repo"
)

// Service 基于供应商商品表的库存服务
// Reserve: 可售 -> 预留；Reduce: 预留出库；Restore: 预留 -> 可售
type Service struct {
	store repo.Store
}

// NewService 创建库存服务
func NewService(store repo.Store) *Service {
	return &Service{store: store}
}

// Reserve 接单时预留库存
func (s *Service) Reserve(ctx context.Context, vendorID, productID string, qty int) error {
	return s.adjust(ctx, "reserve", vendorID, productID, qty, -qty, qty)
}

// Reduce 发货时扣减预留库存
func (s *Service) Reduce(ctx context.Context, vendorID, productID string, qty int) error {
	return s.adjust(ctx, "reduce", vendorID, productID, qty, 0, -qty)
}

// Restore 取消时释放预留库存
func (s *Service) Restore(ctx context.Context, vendorID, productID string, qty int) error {
	return s.adjust(ctx, "restore", vendorID, productID, qty, qty, -qty)
}

func (s *Service) adjust(ctx context.Context, op, vendorID, productID string, qty, stockDelta, reservedDelta int) error {
	ok, err := s.store.Vendors().AdjustInventory(ctx, vendorID, productID, stockDelta, reservedDelta)
	if err != nil {
		return fmt.Errorf("%s stock failed: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s %s/%s x%d: %w", op, vendorID, productID, qty, collab.ErrInsufficientStock)
	}
	return nil
}

var _ collab.InventoryService = (*Service)(nil)
