package memory

import (
	"context"
	"sort"
	"time"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

type orderRepo Store

func cloneOrder(o entity.Order) entity.Order {
	items := make([]entity.OrderItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}

func (r *orderRepo) Create(ctx context.Context, order *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.orders[order.ID]; ok {
		return repo.ErrDuplicate
	}
	for i := range order.Items {
		if order.Items[i].ID == 0 {
			order.Items[i].ID = (*Store)(r).nextSeq()
		}
		order.Items[i].OrderID = order.ID
	}
	r.data.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (r *orderRepo) Get(ctx context.Context, orderID string) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.data.orders[orderID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (r *orderRepo) GetForUpdate(ctx context.Context, orderID string) (*entity.Order, error) {
	return r.Get(ctx, orderID)
}

func (r *orderRepo) Save(ctx context.Context, order *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.orders[order.ID]; !ok {
		return repo.ErrNotFound
	}
	r.data.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (r *orderRepo) ListStale(ctx context.Context, statuses []string, before time.Time, limit int) ([]*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	out := make([]*entity.Order, 0)
	for _, o := range r.data.orders {
		if !wanted[o.Status] || !o.StatusChangedAt.Before(before) {
			continue
		}
		o = cloneOrder(o)
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StatusChangedAt.Equal(out[j].StatusChangedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StatusChangedAt.Before(out[j].StatusChangedAt)
	})
	return truncate(out, limit), nil
}

type retryRepo Store

func (r *retryRepo) Create(ctx context.Context, retry *entity.AssignmentRetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.data.retries {
		if existing.OrderID != retry.OrderID {
			continue
		}
		if existing.IsActive() && retry.IsActive() {
			return repo.ErrActiveRetryExists
		}
		if existing.AttemptNumber == retry.AttemptNumber {
			return repo.ErrDuplicate
		}
	}
	r.data.retries[retry.ID] = *retry
	return nil
}

func (r *retryRepo) Get(ctx context.Context, retryID string) (*entity.AssignmentRetry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.data.retries[retryID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &rt, nil
}

func (r *retryRepo) Active(ctx context.Context, orderID string) (*entity.AssignmentRetry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.data.retries {
		if rt.OrderID == orderID && rt.IsActive() {
			rt := rt
			return &rt, nil
		}
	}
	return nil, nil
}

func (r *retryRepo) ListByOrder(ctx context.Context, orderID string) ([]*entity.AssignmentRetry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.AssignmentRetry, 0)
	for _, rt := range r.data.retries {
		if rt.OrderID == orderID {
			rt := rt
			out = append(out, &rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (r *retryRepo) Save(ctx context.Context, retry *entity.AssignmentRetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.retries[retry.ID]; !ok {
		return repo.ErrNotFound
	}
	if retry.IsActive() {
		for id, existing := range r.data.retries {
			if id != retry.ID && existing.OrderID == retry.OrderID && existing.IsActive() {
				return repo.ErrActiveRetryExists
			}
		}
	}
	r.data.retries[retry.ID] = *retry
	return nil
}

func (r *retryRepo) Expired(ctx context.Context, now time.Time, limit int) ([]*entity.AssignmentRetry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.AssignmentRetry, 0)
	for _, rt := range r.data.retries {
		if rt.IsActive() && rt.ResponseDeadline.Before(now) {
			rt := rt
			out = append(out, &rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResponseDeadline.Before(out[j].ResponseDeadline) })
	return truncate(out, limit), nil
}

func (r *retryRepo) RepeatedTimeouts(ctx context.Context, minCount int, limit int) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, rt := range r.data.retries {
		if rt.Status == entity.RetryStatusTimeout {
			counts[rt.OrderID]++
		}
	}
	out := make(map[string]int)
	for orderID, n := range counts {
		if n >= minCount {
			out[orderID] = n
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
