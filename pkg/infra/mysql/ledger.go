package mysql

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"khaacho/dispatch/pkg/entity"
)

// Ledger 信用账本，同一订单重复退款只记一次
type Ledger struct {
	db *gorm.DB
}

// NewLedger 创建信用账本
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// RecordRefund 写退款流水，(order_id, entry_type) 唯一
func (l *Ledger) RecordRefund(ctx context.Context, retailerID string, amount decimal.Decimal, orderID string) error {
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entity.CreditLedgerEntry{
			ID:         uuid.New().String(),
			RetailerID: retailerID,
			OrderID:    orderID,
			EntryType:  entity.LedgerEntryRefund,
			Amount:     amount,
			CreatedAt:  time.Now().UTC(),
		}).Error
}
