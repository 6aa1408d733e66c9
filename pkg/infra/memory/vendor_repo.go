package memory

import (
	"context"
	"sort"
	"time"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

type vendorRepo Store

func (r *vendorRepo) FindEligible(ctx context.Context, productID string, quantity int, excludeVendorIDs []string) ([]*repo.VendorOffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	excluded := make(map[string]bool, len(excludeVendorIDs))
	for _, id := range excludeVendorIDs {
		excluded[id] = true
	}

	offers := make([]*repo.VendorOffer, 0)
	for key, product := range r.data.products {
		if key.productID != productID || !product.Available || product.Stock < quantity {
			continue
		}
		if excluded[key.vendorID] {
			continue
		}
		vendor, ok := r.data.vendors[key.vendorID]
		if !ok || !vendor.Approved || !vendor.Active {
			continue
		}
		offers = append(offers, &repo.VendorOffer{Vendor: vendor, Product: product})
	}

	sort.Slice(offers, func(i, j int) bool {
		return offers[i].Vendor.ID < offers[j].Vendor.ID
	})
	return offers, nil
}

func (r *vendorRepo) Get(ctx context.Context, vendorID string) (*entity.Vendor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data.vendors[vendorID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &v, nil
}

func (r *vendorRepo) GetProduct(ctx context.Context, vendorID, productID string) (*entity.VendorProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data.products[productKey{vendorID: vendorID, productID: productID}]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &p, nil
}

func (r *vendorRepo) ProductShares(ctx context.Context, productID string, since time.Time) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fulfilled := make(map[string]bool, len(entity.FulfilledStatuses))
	for _, s := range entity.FulfilledStatuses {
		fulfilled[s] = true
	}

	shares := make(map[string]int)
	for _, o := range r.data.orders {
		if o.AssignedVendorID == "" || !fulfilled[o.Status] || o.CreatedAt.Before(since) {
			continue
		}
		for _, item := range o.Items {
			if item.ProductID == productID {
				shares[o.AssignedVendorID]++
				break
			}
		}
	}
	return shares, nil
}

func (r *vendorRepo) SaveVendor(ctx context.Context, vendor *entity.Vendor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.vendors[vendor.ID] = *vendor
	return nil
}

func (r *vendorRepo) SaveProduct(ctx context.Context, product *entity.VendorProduct) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.products[productKey{vendorID: product.VendorID, productID: product.ProductID}] = *product
	return nil
}

func (r *vendorRepo) AdjustInventory(ctx context.Context, vendorID, productID string, stockDelta, reservedDelta int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := productKey{vendorID: vendorID, productID: productID}
	p, ok := r.data.products[key]
	if !ok {
		return false, nil
	}
	if p.Stock+stockDelta < 0 || p.Reserved+reservedDelta < 0 {
		return false, nil
	}
	p.Stock += stockDelta
	p.Reserved += reservedDelta
	r.data.products[key] = p
	return true, nil
}

type scoreRepo Store

func (r *scoreRepo) Get(ctx context.Context, vendorID string) (*entity.VendorScore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.data.scores[vendorID]
	if !ok {
		return nil, nil
	}
	return &sc, nil
}

func (r *scoreRepo) GetForUpdate(ctx context.Context, vendorID string) (*entity.VendorScore, error) {
	return r.Get(ctx, vendorID)
}

func (r *scoreRepo) GetMany(ctx context.Context, vendorIDs []string) (map[string]*entity.VendorScore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*entity.VendorScore, len(vendorIDs))
	for _, id := range vendorIDs {
		if sc, ok := r.data.scores[id]; ok {
			sc := sc
			out[id] = &sc
		}
	}
	return out, nil
}

func (r *scoreRepo) Save(ctx context.Context, score *entity.VendorScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.scores[score.VendorID] = *score
	return nil
}

func (r *scoreRepo) AppendEvent(ctx context.Context, event *entity.VendorScoreEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.data.events {
		if e.EventKey == event.EventKey {
			return false, nil
		}
	}
	event.ID = (*Store)(r).nextSeq()
	r.data.events = append(r.data.events, *event)
	return true, nil
}

func (r *scoreRepo) ListEvents(ctx context.Context, vendorID string) ([]*entity.VendorScoreEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.VendorScoreEvent, 0)
	for _, e := range r.data.events {
		if e.VendorID == vendorID {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
