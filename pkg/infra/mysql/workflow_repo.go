package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

type workflowRepo Store

func (r *workflowRepo) Create(ctx context.Context, wf *entity.WorkflowState) error {
	err := (*Store)(r).conn(ctx).Create(wf).Error
	if isDuplicate(err, "") {
		return repo.ErrDuplicate
	}
	return err
}

func (r *workflowRepo) Get(ctx context.Context, id string) (*entity.WorkflowState, error) {
	var wf entity.WorkflowState
	if err := (*Store)(r).conn(ctx).Where("id = ?", id).First(&wf).Error; err != nil {
		return nil, notFound(err)
	}
	return &wf, nil
}

func (r *workflowRepo) GetByEntity(ctx context.Context, workflowType, entityRef string) (*entity.WorkflowState, error) {
	var wf entity.WorkflowState
	err := (*Store)(r).conn(ctx).
		Where("workflow_type = ? AND entity_ref = ?", workflowType, entityRef).
		First(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// CompareAndSwap 以 step_seq 为版本号整体覆盖
func (r *workflowRepo) CompareAndSwap(ctx context.Context, wf *entity.WorkflowState, expectSeq int64) (bool, error) {
	db := (*Store)(r).conn(ctx)
	res := db.Model(&entity.WorkflowState{}).
		Where("id = ? AND step_seq = ?", wf.ID, expectSeq).
		Select("current_step", "step_seq", "step_data", "status", "retry_count",
			"last_heartbeat", "next_run_at", "last_error", "updated_at").
		Updates(wf)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	var n int64
	if err := db.Model(&entity.WorkflowState{}).Where("id = ?", wf.ID).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, repo.ErrNotFound
	}
	return false, nil
}

// Touch 心跳只前进不后退
func (r *workflowRepo) Touch(ctx context.Context, id string, at time.Time) error {
	res := (*Store)(r).conn(ctx).
		Model(&entity.WorkflowState{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_heartbeat": gorm.Expr("GREATEST(last_heartbeat, ?)", at),
			"updated_at":     at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *workflowRepo) Stale(ctx context.Context, before, now time.Time, limit int) ([]*entity.WorkflowState, error) {
	workflows := make([]*entity.WorkflowState, 0)
	query := (*Store)(r).conn(ctx).
		Where("status = ? AND last_heartbeat < ?", entity.WorkflowStatusInProgress, before).
		Where("next_run_at IS NULL OR next_run_at <= ?", now).
		Order("last_heartbeat")
	err := limitOf(query, limit).Find(&workflows).Error
	return workflows, err
}

func (r *workflowRepo) Due(ctx context.Context, workflowType string, now time.Time, limit int) ([]*entity.WorkflowState, error) {
	workflows := make([]*entity.WorkflowState, 0)
	query := (*Store)(r).conn(ctx).
		Where("workflow_type = ? AND status = ?", workflowType, entity.WorkflowStatusInProgress).
		Where("next_run_at IS NOT NULL AND next_run_at <= ?", now).
		Order("next_run_at")
	err := limitOf(query, limit).Find(&workflows).Error
	return workflows, err
}

type idempotencyRepo Store

func (r *idempotencyRepo) Get(ctx context.Context, key string) (*entity.IdempotencyKey, error) {
	var k entity.IdempotencyKey
	err := (*Store)(r).conn(ctx).Where("idem_key = ?", key).First(&k).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// InsertIfAbsent 先清理同名过期键，再依赖主键冲突判重
func (r *idempotencyRepo) InsertIfAbsent(ctx context.Context, key *entity.IdempotencyKey, now time.Time) (bool, error) {
	db := (*Store)(r).conn(ctx)
	if err := db.Where("idem_key = ? AND expires_at <= ?", key.Key, now).
		Delete(&entity.IdempotencyKey{}).Error; err != nil {
		return false, err
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(key)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *idempotencyRepo) Complete(ctx context.Context, key string, result datatypes.JSON, at time.Time) error {
	res := (*Store)(r).conn(ctx).
		Model(&entity.IdempotencyKey{}).
		Where("idem_key = ?", key).
		Updates(map[string]interface{}{"result": result, "completed_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *idempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := (*Store)(r).conn(ctx).Where("expires_at <= ?", now).Delete(&entity.IdempotencyKey{})
	return res.RowsAffected, res.Error
}
