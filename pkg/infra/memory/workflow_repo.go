package memory

import (
	"context"
	"sort"
	"time"

	"gorm.io/datatypes"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

type workflowRepo Store

func (r *workflowRepo) Create(ctx context.Context, wf *entity.WorkflowState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.data.workflows {
		if existing.WorkflowType == wf.WorkflowType && existing.EntityRef == wf.EntityRef {
			return repo.ErrDuplicate
		}
	}
	r.data.workflows[wf.ID] = *wf
	return nil
}

func (r *workflowRepo) Get(ctx context.Context, id string) (*entity.WorkflowState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.data.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &wf, nil
}

func (r *workflowRepo) GetByEntity(ctx context.Context, workflowType, entityRef string) (*entity.WorkflowState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, wf := range r.data.workflows {
		if wf.WorkflowType == workflowType && wf.EntityRef == entityRef {
			wf := wf
			return &wf, nil
		}
	}
	return nil, nil
}

func (r *workflowRepo) CompareAndSwap(ctx context.Context, wf *entity.WorkflowState, expectSeq int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.data.workflows[wf.ID]
	if !ok {
		return false, repo.ErrNotFound
	}
	if current.StepSeq != expectSeq {
		return false, nil
	}
	r.data.workflows[wf.ID] = *wf
	return true, nil
}

func (r *workflowRepo) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.data.workflows[id]
	if !ok {
		return repo.ErrNotFound
	}
	if at.After(wf.LastHeartbeat) {
		wf.LastHeartbeat = at
	}
	wf.UpdatedAt = at
	r.data.workflows[id] = wf
	return nil
}

func (r *workflowRepo) Stale(ctx context.Context, before, now time.Time, limit int) ([]*entity.WorkflowState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.WorkflowState, 0)
	for _, wf := range r.data.workflows {
		if wf.Status != entity.WorkflowStatusInProgress || !wf.LastHeartbeat.Before(before) {
			continue
		}
		if wf.NextRunAt != nil && wf.NextRunAt.After(now) {
			continue
		}
		wf := wf
		out = append(out, &wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastHeartbeat.Before(out[j].LastHeartbeat) })
	return truncate(out, limit), nil
}

func (r *workflowRepo) Due(ctx context.Context, workflowType string, now time.Time, limit int) ([]*entity.WorkflowState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.WorkflowState, 0)
	for _, wf := range r.data.workflows {
		if wf.WorkflowType != workflowType || wf.Status != entity.WorkflowStatusInProgress {
			continue
		}
		if wf.NextRunAt == nil || wf.NextRunAt.After(now) {
			continue
		}
		wf := wf
		out = append(out, &wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(*out[j].NextRunAt) })
	return truncate(out, limit), nil
}

type idempotencyRepo Store

func (r *idempotencyRepo) Get(ctx context.Context, key string) (*entity.IdempotencyKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.data.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (r *idempotencyRepo) InsertIfAbsent(ctx context.Context, key *entity.IdempotencyKey, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.data.idempotency[key.Key]; ok && existing.ExpiresAt.After(now) {
		return false, nil
	}
	r.data.idempotency[key.Key] = *key
	return true, nil
}

func (r *idempotencyRepo) Complete(ctx context.Context, key string, result datatypes.JSON, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.data.idempotency[key]
	if !ok {
		return repo.ErrNotFound
	}
	k.Result = result
	k.CompletedAt = &at
	r.data.idempotency[key] = k
	return nil
}

func (r *idempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, k := range r.data.idempotency {
		if !k.ExpiresAt.After(now) {
			delete(r.data.idempotency, key)
			n++
		}
	}
	return n, nil
}
