package memory

import (
	"context"
	"sort"
	"time"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

type healingRepo Store

func (r *healingRepo) Create(ctx context.Context, action *entity.HealingAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.healing[action.ID]; ok {
		return repo.ErrDuplicate
	}
	r.data.healing[action.ID] = *action
	return nil
}

func (r *healingRepo) Get(ctx context.Context, id string) (*entity.HealingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.data.healing[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &a, nil
}

func (r *healingRepo) Save(ctx context.Context, action *entity.HealingAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.healing[action.ID]; !ok {
		return repo.ErrNotFound
	}
	r.data.healing[action.ID] = *action
	return nil
}

func (r *healingRepo) FindOpen(ctx context.Context, orderRef, issueType string) (*entity.HealingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.data.healing {
		if a.OrderRef == orderRef && a.IssueType == issueType && a.IsOpen() {
			a := a
			return &a, nil
		}
	}
	return nil, nil
}

func (r *healingRepo) ListExecutable(ctx context.Context, limit int) ([]*entity.HealingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.HealingAction, 0)
	for _, a := range r.data.healing {
		if a.IsOpen() && !a.RequiresManualIntervention {
			a := a
			out = append(out, &a)
		}
	}
	sortActions(out)
	return truncate(out, limit), nil
}

func (r *healingRepo) ListByOrder(ctx context.Context, orderRef string) ([]*entity.HealingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.HealingAction, 0)
	for _, a := range r.data.healing {
		if a.OrderRef == orderRef {
			a := a
			out = append(out, &a)
		}
	}
	sortActions(out)
	return out, nil
}

func sortActions(actions []*entity.HealingAction) {
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].CreatedAt.Equal(actions[j].CreatedAt) {
			return actions[i].ID < actions[j].ID
		}
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
}

type recoveryRepo Store

func (r *recoveryRepo) Create(ctx context.Context, recovery *entity.OrderRecovery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.recoveries[recovery.ID] = *recovery
	return nil
}

func (r *recoveryRepo) FindOpen(ctx context.Context, orderID string) (*entity.OrderRecovery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rc := range r.data.recoveries {
		if rc.OrderID == orderID && rc.Status == entity.RecoveryStatusOpen {
			rc := rc
			return &rc, nil
		}
	}
	return nil, nil
}

type routingLogRepo Store

func (r *routingLogRepo) Create(ctx context.Context, log *entity.OrderRoutingLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	log.ID = (*Store)(r).nextSeq()
	r.data.routingLogs = append(r.data.routingLogs, *log)
	return nil
}

func (r *routingLogRepo) ListByOrder(ctx context.Context, orderID string) ([]*entity.OrderRoutingLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.OrderRoutingLog, 0)
	for _, l := range r.data.routingLogs {
		if l.OrderID == orderID {
			l := l
			out = append(out, &l)
		}
	}
	return out, nil
}

type cursorRepo Store

func (r *cursorRepo) Get(ctx context.Context, productID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.cursors[productID].LastVendorID, nil
}

func (r *cursorRepo) Set(ctx context.Context, productID, vendorID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.cursors[productID] = entity.RoundRobinCursor{ProductID: productID, LastVendorID: vendorID, UpdatedAt: at}
	return nil
}

type eventRepo Store

func (r *eventRepo) Create(ctx context.Context, event *entity.RoutingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.inbound[event.ID]; ok {
		return repo.ErrDuplicate
	}
	r.data.inbound[event.ID] = *event
	return nil
}

func (r *eventRepo) Get(ctx context.Context, id string) (*entity.RoutingEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data.inbound[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &e, nil
}

func (r *eventRepo) Save(ctx context.Context, event *entity.RoutingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.inbound[event.ID]; !ok {
		return repo.ErrNotFound
	}
	r.data.inbound[event.ID] = *event
	return nil
}

func (r *eventRepo) Stuck(ctx context.Context, before time.Time, limit int) ([]*entity.RoutingEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.RoutingEvent, 0)
	for _, e := range r.data.inbound {
		if e.Status == entity.EventStatusProcessing && e.ProcessingStartedAt.Before(before) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessingStartedAt.Before(out[j].ProcessingStartedAt) })
	return truncate(out, limit), nil
}
