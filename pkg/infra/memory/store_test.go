package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

var testStart = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

func newOrder(id, status string, changed time.Time) *entity.Order {
	return &entity.Order{
		ID:              id,
		RetailerID:      "R1",
		Status:          status,
		Items:           []entity.OrderItem{{LineNo: 1, ProductID: "RICE-25KG", Quantity: 1}},
		StatusChangedAt: changed,
		CreatedAt:       changed,
		UpdatedAt:       changed,
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.Orders().Create(ctx, newOrder("ORD-1", entity.OrderStatusPending, testStart)); err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Run("error restores snapshot", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Transaction(ctx, func(tx repo.Repos) error {
			o, _ := tx.Orders().GetForUpdate(ctx, "ORD-1")
			o.SetStatus(entity.OrderStatusRouting, testStart)
			if err := tx.Orders().Save(ctx, o); err != nil {
				return err
			}
			if err := tx.Orders().Create(ctx, newOrder("ORD-2", entity.OrderStatusPending, testStart)); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		o, _ := s.Orders().Get(ctx, "ORD-1")
		if o.Status != entity.OrderStatusPending {
			t.Fatalf("expected status rolled back, got %s", o.Status)
		}
		if _, err := s.Orders().Get(ctx, "ORD-2"); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("expected ORD-2 rolled back, got %v", err)
		}
	})

	t.Run("panic restores snapshot and propagates", func(t *testing.T) {
		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Fatalf("expected panic to propagate")
				}
			}()
			_ = s.Transaction(ctx, func(tx repo.Repos) error {
				_ = tx.Orders().Create(ctx, newOrder("ORD-3", entity.OrderStatusPending, testStart))
				panic("mid-transaction")
			})
		}()
		if _, err := s.Orders().Get(ctx, "ORD-3"); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("expected ORD-3 rolled back, got %v", err)
		}
	})

	t.Run("returned copies are isolated", func(t *testing.T) {
		o, _ := s.Orders().Get(ctx, "ORD-1")
		o.Items[0].Quantity = 99
		again, _ := s.Orders().Get(ctx, "ORD-1")
		if again.Items[0].Quantity != 1 {
			t.Fatalf("expected stored items untouched, got %d", again.Items[0].Quantity)
		}
	})
}

func TestListStaleOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.Orders().Create(ctx, newOrder("ORD-B", entity.OrderStatusPending, testStart.Add(-2*time.Hour)))
	_ = s.Orders().Create(ctx, newOrder("ORD-A", entity.OrderStatusPending, testStart.Add(-2*time.Hour)))
	_ = s.Orders().Create(ctx, newOrder("ORD-C", entity.OrderStatusPending, testStart.Add(-3*time.Hour)))
	_ = s.Orders().Create(ctx, newOrder("ORD-D", entity.OrderStatusRouting, testStart.Add(-3*time.Hour)))
	_ = s.Orders().Create(ctx, newOrder("ORD-E", entity.OrderStatusPending, testStart))

	got, err := s.Orders().ListStale(ctx, []string{entity.OrderStatusPending}, testStart.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	ids := make([]string, 0, len(got))
	for _, o := range got {
		ids = append(ids, o.ID)
	}
	if len(ids) != 3 || ids[0] != "ORD-C" || ids[1] != "ORD-A" || ids[2] != "ORD-B" {
		t.Fatalf("expected [ORD-C ORD-A ORD-B], got %v", ids)
	}
	if limited, _ := s.Orders().ListStale(ctx, []string{entity.OrderStatusPending}, testStart.Add(-time.Hour), 1); len(limited) != 1 {
		t.Fatalf("expected limit applied, got %d", len(limited))
	}
}

func TestRepeatedTimeouts(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	add := func(orderID string, attempt int, status string) {
		t.Helper()
		if err := s.Retries().Create(ctx, &entity.AssignmentRetry{
			ID: fmt.Sprintf("%s-%d", orderID, attempt), OrderID: orderID, VendorID: "V1",
			AttemptNumber: attempt, Status: status, ResponseDeadline: testStart,
		}); err != nil {
			t.Fatalf("create retry: %v", err)
		}
	}
	add("ORD-1", 1, entity.RetryStatusTimeout)
	add("ORD-1", 2, entity.RetryStatusTimeout)
	add("ORD-1", 3, entity.RetryStatusTimeout)
	add("ORD-2", 1, entity.RetryStatusTimeout)
	add("ORD-2", 2, entity.RetryStatusFailed)

	got, err := s.Retries().RepeatedTimeouts(ctx, 3, 10)
	if err != nil {
		t.Fatalf("RepeatedTimeouts: %v", err)
	}
	if len(got) != 1 || got["ORD-1"] != 3 {
		t.Fatalf("expected only ORD-1 with 3 timeouts, got %v", got)
	}

	if err := s.Retries().Create(ctx, &entity.AssignmentRetry{ID: "dup", OrderID: "ORD-1", AttemptNumber: 2, Status: entity.RetryStatusFailed}); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused attempt number, got %v", err)
	}
}

func TestLedgerRecordsRefundOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	l := NewLedger(s)
	for i := 0; i < 2; i++ {
		if err := l.RecordRefund(ctx, "R1", decimal.NewFromInt(2400), "ORD-1"); err != nil {
			t.Fatalf("RecordRefund: %v", err)
		}
	}
	entries := s.LedgerEntries()
	if len(entries) != 1 || !entries[0].Amount.Equal(decimal.NewFromInt(2400)) || entries[0].EntryType != entity.LedgerEntryRefund {
		t.Fatalf("expected a single refund entry, got %+v", entries)
	}
}
