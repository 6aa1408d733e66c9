package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

type orderRepo Store

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("line_no")
	})
}

// Create 订单与订单行一起写入
func (r *orderRepo) Create(ctx context.Context, order *entity.Order) error {
	err := (*Store)(r).conn(ctx).Create(order).Error
	if isDuplicate(err, "") {
		return repo.ErrDuplicate
	}
	return err
}

func (r *orderRepo) Get(ctx context.Context, orderID string) (*entity.Order, error) {
	return r.get(preloadItems((*Store)(r).conn(ctx)), orderID)
}

func (r *orderRepo) GetForUpdate(ctx context.Context, orderID string) (*entity.Order, error) {
	return r.get(preloadItems(forUpdate((*Store)(r).conn(ctx))), orderID)
}

func (r *orderRepo) get(db *gorm.DB, orderID string) (*entity.Order, error) {
	var o entity.Order
	if err := db.Where("id = ?", orderID).First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// Save 更新订单头，订单行只更新成交价
func (r *orderRepo) Save(ctx context.Context, order *entity.Order) error {
	db := (*Store)(r).conn(ctx)
	res := db.Model(order).Omit(clause.Associations, "created_at").Select("*").Updates(order)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := db.Model(&entity.Order{}).Where("id = ?", order.ID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return repo.ErrNotFound
		}
	}
	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == 0 {
			continue
		}
		if err := db.Model(item).Update("unit_price", item.UnitPrice).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *orderRepo) ListStale(ctx context.Context, statuses []string, before time.Time, limit int) ([]*entity.Order, error) {
	orders := make([]*entity.Order, 0)
	query := preloadItems((*Store)(r).conn(ctx)).
		Where("status IN ? AND status_changed_at < ?", statuses, before).
		Order("status_changed_at, id")
	err := limitOf(query, limit).Find(&orders).Error
	return orders, err
}

type retryRepo Store

// Create 活跃占位索引冲突即订单已有活跃尝试
func (r *retryRepo) Create(ctx context.Context, retry *entity.AssignmentRetry) error {
	err := (*Store)(r).conn(ctx).Create(retry).Error
	switch {
	case isDuplicate(err, "uk_active_order"):
		return repo.ErrActiveRetryExists
	case isDuplicate(err, ""):
		return repo.ErrDuplicate
	}
	return err
}

func (r *retryRepo) Get(ctx context.Context, retryID string) (*entity.AssignmentRetry, error) {
	var rt entity.AssignmentRetry
	if err := (*Store)(r).conn(ctx).Where("id = ?", retryID).First(&rt).Error; err != nil {
		return nil, notFound(err)
	}
	return &rt, nil
}

func (r *retryRepo) Active(ctx context.Context, orderID string) (*entity.AssignmentRetry, error) {
	var rt entity.AssignmentRetry
	err := (*Store)(r).conn(ctx).Where("active_order_id = ?", orderID).First(&rt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *retryRepo) ListByOrder(ctx context.Context, orderID string) ([]*entity.AssignmentRetry, error) {
	retries := make([]*entity.AssignmentRetry, 0)
	err := (*Store)(r).conn(ctx).Where("order_id = ?", orderID).Order("attempt_number").Find(&retries).Error
	return retries, err
}

func (r *retryRepo) Save(ctx context.Context, retry *entity.AssignmentRetry) error {
	res := (*Store)(r).conn(ctx).Model(retry).Omit("created_at").Select("*").Updates(retry)
	if isDuplicate(res.Error, "uk_active_order") {
		return repo.ErrActiveRetryExists
	}
	return res.Error
}

func (r *retryRepo) Expired(ctx context.Context, now time.Time, limit int) ([]*entity.AssignmentRetry, error) {
	retries := make([]*entity.AssignmentRetry, 0)
	query := (*Store)(r).conn(ctx).
		Where("status IN ? AND response_deadline < ?",
			[]string{entity.RetryStatusPending, entity.RetryStatusInProgress}, now).
		Order("response_deadline")
	err := limitOf(query, limit).Find(&retries).Error
	return retries, err
}

type timeoutRow struct {
	OrderID  string
	Timeouts int
}

func (r *retryRepo) RepeatedTimeouts(ctx context.Context, minCount int, limit int) (map[string]int, error) {
	var rows []timeoutRow
	query := (*Store)(r).conn(ctx).
		Model(&entity.AssignmentRetry{}).
		Select("order_id, COUNT(*) AS timeouts").
		Where("status = ?", entity.RetryStatusTimeout).
		Group("order_id").
		Having("COUNT(*) >= ?", minCount).
		Order("order_id")
	if err := limitOf(query, limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.OrderID] = row.Timeouts
	}
	return out, nil
}
