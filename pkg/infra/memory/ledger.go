package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"khaacho/dispatch/pkg/entity"
)

// Ledger 内存信用账本，同一订单重复退款只记一次
type Ledger struct {
	store *Store
	now   func() time.Time
}

// NewLedger 创建内存账本
func NewLedger(store *Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// RecordRefund 记录退款流水
func (l *Ledger) RecordRefund(ctx context.Context, retailerID string, amount decimal.Decimal, orderID string) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	for _, e := range l.store.data.ledger {
		if e.OrderID == orderID && e.EntryType == entity.LedgerEntryRefund {
			return nil
		}
	}
	l.store.data.ledger = append(l.store.data.ledger, entity.CreditLedgerEntry{
		ID:         uuid.New().String(),
		RetailerID: retailerID,
		OrderID:    orderID,
		EntryType:  entity.LedgerEntryRefund,
		Amount:     amount,
		CreatedAt:  l.now(),
	})
	return nil
}
