package mysql

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

type healingRepo Store

// openHealing 未关闭：待执行，或已转人工但尚未处理
const openHealing = "(recovery_status = ? OR (requires_manual_intervention = ? AND resolved_at IS NULL))"

func (r *healingRepo) Create(ctx context.Context, action *entity.HealingAction) error {
	err := (*Store)(r).conn(ctx).Create(action).Error
	if isDuplicate(err, "") {
		return repo.ErrDuplicate
	}
	return err
}

func (r *healingRepo) Get(ctx context.Context, id string) (*entity.HealingAction, error) {
	var a entity.HealingAction
	if err := (*Store)(r).conn(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *healingRepo) Save(ctx context.Context, action *entity.HealingAction) error {
	return (*Store)(r).conn(ctx).Save(action).Error
}

func (r *healingRepo) FindOpen(ctx context.Context, orderRef, issueType string) (*entity.HealingAction, error) {
	var actions []*entity.HealingAction
	err := (*Store)(r).conn(ctx).
		Where("order_ref = ? AND issue_type = ?", orderRef, issueType).
		Where(openHealing, entity.HealingStatusPending, true).
		Order("created_at").
		Limit(1).
		Find(&actions).Error
	if err != nil || len(actions) == 0 {
		return nil, err
	}
	return actions[0], nil
}

func (r *healingRepo) ListExecutable(ctx context.Context, limit int) ([]*entity.HealingAction, error) {
	actions := make([]*entity.HealingAction, 0)
	query := (*Store)(r).conn(ctx).
		Where("recovery_status = ? AND requires_manual_intervention = ?", entity.HealingStatusPending, false).
		Order("created_at, id")
	err := limitOf(query, limit).Find(&actions).Error
	return actions, err
}

func (r *healingRepo) ListByOrder(ctx context.Context, orderRef string) ([]*entity.HealingAction, error) {
	actions := make([]*entity.HealingAction, 0)
	err := (*Store)(r).conn(ctx).Where("order_ref = ?", orderRef).Order("created_at, id").Find(&actions).Error
	return actions, err
}

type recoveryRepo Store

func (r *recoveryRepo) Create(ctx context.Context, recovery *entity.OrderRecovery) error {
	return (*Store)(r).conn(ctx).Create(recovery).Error
}

func (r *recoveryRepo) FindOpen(ctx context.Context, orderID string) (*entity.OrderRecovery, error) {
	var tickets []*entity.OrderRecovery
	err := (*Store)(r).conn(ctx).
		Where("order_id = ? AND status = ?", orderID, entity.RecoveryStatusOpen).
		Order("created_at").
		Limit(1).
		Find(&tickets).Error
	if err != nil || len(tickets) == 0 {
		return nil, err
	}
	return tickets[0], nil
}

type routingLogRepo Store

func (r *routingLogRepo) Create(ctx context.Context, log *entity.OrderRoutingLog) error {
	return (*Store)(r).conn(ctx).Create(log).Error
}

func (r *routingLogRepo) ListByOrder(ctx context.Context, orderID string) ([]*entity.OrderRoutingLog, error) {
	logs := make([]*entity.OrderRoutingLog, 0)
	err := (*Store)(r).conn(ctx).Where("order_id = ?", orderID).Order("id").Find(&logs).Error
	return logs, err
}

type cursorRepo Store

func (r *cursorRepo) Get(ctx context.Context, productID string) (string, error) {
	var cursors []entity.RoundRobinCursor
	if err := (*Store)(r).conn(ctx).Where("product_id = ?", productID).Limit(1).Find(&cursors).Error; err != nil {
		return "", err
	}
	if len(cursors) == 0 {
		return "", nil
	}
	return cursors[0].LastVendorID, nil
}

func (r *cursorRepo) Set(ctx context.Context, productID, vendorID string, at time.Time) error {
	return (*Store)(r).conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_vendor_id", "updated_at"}),
		}).
		Create(&entity.RoundRobinCursor{ProductID: productID, LastVendorID: vendorID, UpdatedAt: at}).Error
}

type eventRepo Store

func (r *eventRepo) Create(ctx context.Context, event *entity.RoutingEvent) error {
	err := (*Store)(r).conn(ctx).Create(event).Error
	if isDuplicate(err, "") {
		return repo.ErrDuplicate
	}
	return err
}

func (r *eventRepo) Get(ctx context.Context, id string) (*entity.RoutingEvent, error) {
	var e entity.RoutingEvent
	if err := (*Store)(r).conn(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *eventRepo) Save(ctx context.Context, event *entity.RoutingEvent) error {
	return (*Store)(r).conn(ctx).Save(event).Error
}

func (r *eventRepo) Stuck(ctx context.Context, before time.Time, limit int) ([]*entity.RoutingEvent, error) {
	events := make([]*entity.RoutingEvent, 0)
	query := (*Store)(r).conn(ctx).
		Where("status = ? AND processing_started_at < ?", entity.EventStatusProcessing, before).
		Order("processing_started_at")
	err := limitOf(query, limit).Find(&events).Error
	return events, err
}
