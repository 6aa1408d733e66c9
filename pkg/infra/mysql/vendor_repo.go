package mysql

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

type vendorRepo Store

// FindEligible 先查满足库存的报价，再过滤已审核且启用的供应商
func (r *vendorRepo) FindEligible(ctx context.Context, productID string, quantity int, excludeVendorIDs []string) ([]*repo.VendorOffer, error) {
	db := (*Store)(r).conn(ctx)

	query := db.Where("product_id = ? AND available = ? AND stock >= ?", productID, true, quantity)
	if len(excludeVendorIDs) > 0 {
		query = query.Where("vendor_id NOT IN ?", excludeVendorIDs)
	}
	var products []entity.VendorProduct
	if err := query.Find(&products).Error; err != nil {
		return nil, err
	}
	offers := make([]*repo.VendorOffer, 0, len(products))
	if len(products) == 0 {
		return offers, nil
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.VendorID)
	}
	var vendors []entity.Vendor
	if err := db.Where("id IN ? AND approved = ? AND active = ?", ids, true, true).Find(&vendors).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]entity.Vendor, len(vendors))
	for _, v := range vendors {
		byID[v.ID] = v
	}

	for _, p := range products {
		v, ok := byID[p.VendorID]
		if !ok {
			continue
		}
		offers = append(offers, &repo.VendorOffer{Vendor: v, Product: p})
	}
	sort.Slice(offers, func(i, j int) bool {
		return offers[i].Vendor.ID < offers[j].Vendor.ID
	})
	return offers, nil
}

func (r *vendorRepo) Get(ctx context.Context, vendorID string) (*entity.Vendor, error) {
	var v entity.Vendor
	if err := (*Store)(r).conn(ctx).Where("id = ?", vendorID).First(&v).Error; err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (r *vendorRepo) GetProduct(ctx context.Context, vendorID, productID string) (*entity.VendorProduct, error) {
	var p entity.VendorProduct
	err := (*Store)(r).conn(ctx).
		Where("vendor_id = ? AND product_id = ?", vendorID, productID).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

type shareRow struct {
	VendorID string
	Orders   int
}

// ProductShares 窗口内各供应商承接含该商品的订单数
func (r *vendorRepo) ProductShares(ctx context.Context, productID string, since time.Time) (map[string]int, error) {
	var rows []shareRow
	err := (*Store)(r).conn(ctx).
		Table("orders AS o").
		Select("o.assigned_vendor_id AS vendor_id, COUNT(DISTINCT o.id) AS orders").
		Joins("JOIN order_items AS i ON i.order_id = o.id").
		Where("i.product_id = ? AND o.status IN ? AND o.created_at >= ? AND o.assigned_vendor_id <> ''",
			productID, entity.FulfilledStatuses, since).
		Group("o.assigned_vendor_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	shares := make(map[string]int, len(rows))
	for _, row := range rows {
		shares[row.VendorID] = row.Orders
	}
	return shares, nil
}

func (r *vendorRepo) SaveVendor(ctx context.Context, vendor *entity.Vendor) error {
	return (*Store)(r).conn(ctx).Save(vendor).Error
}

func (r *vendorRepo) SaveProduct(ctx context.Context, product *entity.VendorProduct) error {
	return (*Store)(r).conn(ctx).Save(product).Error
}

// AdjustInventory 条件更新，结果为负时影响行数为 0
func (r *vendorRepo) AdjustInventory(ctx context.Context, vendorID, productID string, stockDelta, reservedDelta int) (bool, error) {
	res := (*Store)(r).conn(ctx).
		Model(&entity.VendorProduct{}).
		Where("vendor_id = ? AND product_id = ?", vendorID, productID).
		Where("stock + ? >= 0 AND reserved + ? >= 0", stockDelta, reservedDelta).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock + ?", stockDelta),
			"reserved":   gorm.Expr("reserved + ?", reservedDelta),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type scoreRepo Store

func (r *scoreRepo) Get(ctx context.Context, vendorID string) (*entity.VendorScore, error) {
	return r.get((*Store)(r).conn(ctx), vendorID)
}

func (r *scoreRepo) GetForUpdate(ctx context.Context, vendorID string) (*entity.VendorScore, error) {
	return r.get(forUpdate((*Store)(r).conn(ctx)), vendorID)
}

func (r *scoreRepo) get(db *gorm.DB, vendorID string) (*entity.VendorScore, error) {
	var sc entity.VendorScore
	err := db.Where("vendor_id = ?", vendorID).First(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (r *scoreRepo) GetMany(ctx context.Context, vendorIDs []string) (map[string]*entity.VendorScore, error) {
	out := make(map[string]*entity.VendorScore, len(vendorIDs))
	if len(vendorIDs) == 0 {
		return out, nil
	}
	var scores []*entity.VendorScore
	if err := (*Store)(r).conn(ctx).Where("vendor_id IN ?", vendorIDs).Find(&scores).Error; err != nil {
		return nil, err
	}
	for _, sc := range scores {
		out[sc.VendorID] = sc
	}
	return out, nil
}

func (r *scoreRepo) Save(ctx context.Context, score *entity.VendorScore) error {
	return (*Store)(r).conn(ctx).Save(score).Error
}

// AppendEvent 依赖 event_key 唯一索引去重
func (r *scoreRepo) AppendEvent(ctx context.Context, event *entity.VendorScoreEvent) (bool, error) {
	res := (*Store)(r).conn(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *scoreRepo) ListEvents(ctx context.Context, vendorID string) ([]*entity.VendorScoreEvent, error) {
	events := make([]*entity.VendorScoreEvent, 0)
	err := (*Store)(r).conn(ctx).Where("vendor_id = ?", vendorID).Order("id").Find(&events).Error
	return events, err
}
