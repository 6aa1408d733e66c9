package memory

import (
	"context"
	"sync"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// Store 内存仓储实现，用于测试和本地调试
// 事务串行执行，失败时恢复到事务开始前的快照
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *dataset
}

type productKey struct {
	vendorID  string
	productID string
}

type dataset struct {
	vendors     map[string]entity.Vendor
	products    map[productKey]entity.VendorProduct
	scores      map[string]entity.VendorScore
	events      []entity.VendorScoreEvent
	orders      map[string]entity.Order
	retries     map[string]entity.AssignmentRetry
	workflows   map[string]entity.WorkflowState
	idempotency map[string]entity.IdempotencyKey
	healing     map[string]entity.HealingAction
	recoveries  map[string]entity.OrderRecovery
	routingLogs []entity.OrderRoutingLog
	cursors     map[string]entity.RoundRobinCursor
	inbound     map[string]entity.RoutingEvent
	ledger      []entity.CreditLedgerEntry
	seq         uint64
}

// NewStore 创建内存仓储
func NewStore() *Store {
	return &Store{data: newDataset()}
}

func newDataset() *dataset {
	return &dataset{
		vendors:     make(map[string]entity.Vendor),
		products:    make(map[productKey]entity.VendorProduct),
		scores:      make(map[string]entity.VendorScore),
		orders:      make(map[string]entity.Order),
		retries:     make(map[string]entity.AssignmentRetry),
		workflows:   make(map[string]entity.WorkflowState),
		idempotency: make(map[string]entity.IdempotencyKey),
		healing:     make(map[string]entity.HealingAction),
		recoveries:  make(map[string]entity.OrderRecovery),
		cursors:     make(map[string]entity.RoundRobinCursor),
		inbound:     make(map[string]entity.RoutingEvent),
	}
}

// clone 复制全部表，值类型结构体按值复制
func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.vendors {
		c.vendors[k] = v
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.scores {
		c.scores[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.retries {
		c.retries[k] = v
	}
	for k, v := range d.workflows {
		c.workflows[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range d.healing {
		c.healing[k] = v
	}
	for k, v := range d.recoveries {
		c.recoveries[k] = v
	}
	for k, v := range d.cursors {
		c.cursors[k] = v
	}
	for k, v := range d.inbound {
		c.inbound[k] = v
	}
	c.events = append(c.events, d.events...)
	c.routingLogs = append(c.routingLogs, d.routingLogs...)
	c.ledger = append(c.ledger, d.ledger...)
	c.seq = d.seq
	return c
}

// Transaction 串行执行 fn，返回 error 时回滚
func (s *Store) Transaction(ctx context.Context, fn func(tx repo.Repos) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.restore(snapshot)
			panic(r)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(s)
}

func (s *Store) restore(snapshot *dataset) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

func (s *Store) nextSeq() uint64 {
	s.data.seq++
	return s.data.seq
}

// LedgerEntries 返回账本流水副本
func (s *Store) LedgerEntries() []entity.CreditLedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.CreditLedgerEntry, len(s.data.ledger))
	copy(out, s.data.ledger)
	return out
}

func (s *Store) Vendors() repo.VendorRepository { return (*vendorRepo)(s) }
func (s *Store) Scores() repo.VendorScoreRepository { return (*scoreRepo)(s) }
func (s *Store) Orders() repo.OrderRepository { return (*orderRepo)(s) }
func (s *Store) Retries() repo.AssignmentRetryRepository { return (*retryRepo)(s) }
func (s *Store) Workflows() repo.WorkflowRepository { return (*workflowRepo)(s) }
func (s *Store) Idempotency() repo.IdempotencyRepository { return (*idempotencyRepo)(s) }
func (s *Store) Healing() repo.HealingRepository { return (*healingRepo)(s) }
func (s *Store) Recoveries() repo.OrderRecoveryRepository { return (*recoveryRepo)(s) }
func (s *Store) RoutingLogs() repo.RoutingLogRepository { return (*routingLogRepo)(s) }
func (s *Store) Cursors() repo.CursorRepository { return (*cursorRepo)(s) }
func (s *Store) Events() repo.RoutingEventRepository { return (*eventRepo)(s) }

var _ repo.Store = (*Store)(nil)
