package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vendor 供应商（目录数据，路由引擎只读）
type Vendor struct {
	ID       string `gorm:"column:id;primaryKey;type:varchar(64)"`
	Name     string `gorm:"column:name;type:varchar(128);not null"`
	Approved bool   `gorm:"column:approved;not null;default:false"`
	Active   bool   `gorm:"column:active;not null;default:true"`

	// 历史表现快照
	Rating         float64  `gorm:"column:rating;not null;default:0"`        // 0-5
	CompletionRate *float64 `gorm:"column:completion_rate"`                  // 0-100, nil 表示未知
	VendorScore    float64  `gorm:"column:vendor_score;not null;default:0"`  // 旧评分体系, 0-100
	Timezone       string   `gorm:"column:timezone;type:varchar(64);not null;default:'UTC'"`

	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (Vendor) TableName() string {
	return "vendors"
}

// VendorProduct 供应商商品报价与库存
type VendorProduct struct {
	VendorID     string          `gorm:"column:vendor_id;primaryKey;type:varchar(64)"`
	ProductID    string          `gorm:"column:product_id;primaryKey;type:varchar(64);index:idx_product"`
	Price        decimal.Decimal `gorm:"column:price;type:decimal(12,2);not null"`
	Stock        int             `gorm:"column:stock;not null;default:0"`    // 可售库存
	Reserved     int             `gorm:"column:reserved;not null;default:0"` // 已接单未发货
	LeadTimeDays int             `gorm:"column:lead_time_days;not null;default:0"`
	Available    bool            `gorm:"column:available;not null;default:true"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (VendorProduct) TableName() string {
	return "vendor_products"
}
