package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// Resolver 候选供应商解析
type Resolver struct {
	store repo.Repos
}

// NewResolver 创建解析器
func NewResolver(store repo.Repos) *Resolver {
	return &Resolver{store: store}
}

// Resolve 单商品候选：库存足够、供应商已审核且启用、商品可售、不在排除列表
// 没有候选时返回空切片而不是错误
func (r *Resolver) Resolve(ctx context.Context, productID string, quantity int, excludeVendorIDs []string) ([]*Candidate, error) {
	return r.ResolveOrder(ctx, []entity.OrderItem{{ProductID: productID, Quantity: quantity}}, excludeVendorIDs)
}

// ResolveOrder 多行订单候选：供应商必须能供应全部订单行，报价按行累加
func (r *Resolver) ResolveOrder(ctx context.Context, items []entity.OrderItem, excludeVendorIDs []string) ([]*Candidate, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrInvalidRequest)
	}

	var byVendor map[string]*Candidate
	for i, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d needs product_id and positive quantity", ErrInvalidRequest, i+1)
		}

		offers, err := r.store.Vendors().FindEligible(ctx, item.ProductID, item.Quantity, excludeVendorIDs)
		if err != nil {
			return nil, fmt.Errorf("find eligible vendors for %s: %w", item.ProductID, err)
		}

		lineVendors := make(map[string]*Candidate, len(offers))
		for _, offer := range offers {
			vendorID := offer.Vendor.ID
			var cand *Candidate
			if i == 0 {
				cand = &Candidate{
					VendorID:  vendorID,
					ProductID: item.ProductID,
					Vendor:    offer.Vendor,
					Price:     decimal.Zero,
					Stock:     offer.Product.Stock,
				}
			} else {
				prev, ok := byVendor[vendorID]
				if !ok {
					continue
				}
				cand = prev
			}
			cand.Lines = append(cand.Lines, CandidateLine{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: offer.Product.Price,
				Stock:     offer.Product.Stock,
			})
			cand.Price = cand.Price.Add(offer.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
			if offer.Product.Stock < cand.Stock {
				cand.Stock = offer.Product.Stock
			}
			if offer.Product.LeadTimeDays > cand.LeadTimeDays {
				cand.LeadTimeDays = offer.Product.LeadTimeDays
			}
			lineVendors[vendorID] = cand
		}
		byVendor = lineVendors
		if len(byVendor) == 0 {
			return []*Candidate{}, nil
		}
	}

	cands := make([]*Candidate, 0, len(byVendor))
	for _, c := range byVendor {
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].VendorID < cands[j].VendorID })

	scores, err := r.store.Scores().GetMany(ctx, vendorIDs(cands))
	if err != nil {
		return nil, fmt.Errorf("load vendor scores: %w", err)
	}
	for _, c := range cands {
		c.Score = scores[c.VendorID]
	}
	applyMarketDeviation(cands)

	return cands, nil
}

// applyMarketDeviation 以候选均价为市场价，计算每个候选的偏离百分比
func applyMarketDeviation(cands []*Candidate) {
	if len(cands) < 2 {
		return
	}
	sum := decimal.Zero
	for _, c := range cands {
		sum = sum.Add(c.Price)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(cands))))
	if mean.IsZero() {
		return
	}
	hundred := decimal.NewFromInt(100)
	for _, c := range cands {
		dev, _ := c.Price.Sub(mean).Div(mean).Mul(hundred).Round(4).Float64()
		c.PriceVsMarket = &dev
	}
}
