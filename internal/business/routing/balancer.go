package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"khaacho/dispatch/internal/repo"
)

// Strategy 最终选择策略（全局配置，不按调用区分）
type Strategy string

// 选择策略
const (
	StrategyLeastLoaded Strategy = "least_loaded"
	StrategyRoundRobin  Strategy = "round_robin"
)

// 过滤回退标记
const (
	FlagWorkingHoursFallback = "working_hours_fallback"
	FlagCapacityFullSet      = "capacity_full_set"
	FlagMonopolyFallback     = "monopoly_fallback"
)

// BalancerConfig 负载均衡配置
type BalancerConfig struct {
	Strategy          Strategy
	MaxActiveOrders   int
	MaxPendingOrders  int
	MonopolyThreshold float64       // 份额阈值，0.40 表示 40%
	MonopolyWindow    time.Duration // 份额统计窗口
	WorkingHours      WorkingHours
}

// WorkingHours 供应商当地营业时间窗口 [StartHour, EndHour)
type WorkingHours struct {
	Enabled   bool
	StartHour int
	EndHour   int
}

// DefaultBalancerConfig 默认配置
func DefaultBalancerConfig() BalancerConfig {
	return BalancerConfig{
		Strategy:          StrategyLeastLoaded,
		MaxActiveOrders:   10,
		MaxPendingOrders:  5,
		MonopolyThreshold: 0.40,
		MonopolyWindow:    30 * 24 * time.Hour,
		WorkingHours:      WorkingHours{Enabled: true, StartHour: 8, EndHour: 20},
	}
}

// Verdict 单个候选在本次决策中的评估结果（写入审计）
type Verdict struct {
	VendorID      string    `json:"vendor_id"`
	Price         string    `json:"price"`
	SubScores     SubScores `json:"sub_scores"`
	OverallScore  float64   `json:"overall_score"`
	ActiveOrders  int       `json:"active_orders"`
	PendingOrders int       `json:"pending_orders"`
	WithinHours   bool      `json:"within_hours"`
	HasCapacity   bool      `json:"has_capacity"`
	MonopolyShare float64   `json:"monopoly_share"`
	Excluded      string    `json:"excluded,omitempty"`
	Chosen        bool      `json:"chosen"`
}

// Decision 负载均衡决策
type Decision struct {
	Chosen    *Candidate
	ProductID string
	Strategy  Strategy
	Reason    string
	Flags     []string
	Evaluated []*Verdict
}

// Balancer 负载均衡器
type Balancer struct {
	cfg   BalancerConfig
	store repo.Repos
	now   func() time.Time
}

// NewBalancer 创建负载均衡器
func NewBalancer(cfg BalancerConfig, store repo.Repos, now func() time.Time) (*Balancer, error) {
	switch cfg.Strategy {
	case StrategyLeastLoaded, StrategyRoundRobin:
	default:
		return nil, fmt.Errorf("unknown balancing strategy: %q", cfg.Strategy)
	}
	if cfg.MaxActiveOrders <= 0 || cfg.MaxPendingOrders <= 0 {
		return nil, fmt.Errorf("capacity limits must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Balancer{cfg: cfg, store: store, now: now}, nil
}

// Strategy 当前策略
func (b *Balancer) Strategy() Strategy {
	return b.cfg.Strategy
}

// Select 依次执行营业时间、容量、防垄断过滤，再按策略选出供应商
// 候选必须已完成评分
func (b *Balancer) Select(ctx context.Context, productID string, cands []*Candidate) (*Decision, error) {
	if len(cands) == 0 {
		return nil, ErrNoEligibleVendors
	}

	d := &Decision{ProductID: productID, Strategy: b.cfg.Strategy}
	verdicts := make(map[string]*Verdict, len(cands))
	for _, c := range cands {
		v := &Verdict{
			VendorID:      c.VendorID,
			Price:         c.Price.StringFixed(2),
			SubScores:     c.SubScores,
			OverallScore:  c.OverallScore,
			ActiveOrders:  c.ActiveOrders(),
			PendingOrders: c.PendingOrders(),
			WithinHours:   b.withinHours(c),
			HasCapacity:   b.hasCapacity(c),
		}
		verdicts[c.VendorID] = v
		d.Evaluated = append(d.Evaluated, v)
	}

	// 1. 营业时间过滤，全部被过滤时回退到原始候选
	pool := cands
	if b.cfg.WorkingHours.Enabled {
		open := filter(cands, func(c *Candidate) bool { return verdicts[c.VendorID].WithinHours })
		if len(open) == 0 {
			d.Flags = append(d.Flags, FlagWorkingHoursFallback)
		} else {
			for _, c := range cands {
				if !verdicts[c.VendorID].WithinHours {
					verdicts[c.VendorID].Excluded = "outside_working_hours"
				}
			}
			pool = open
		}
	}

	// 2. 容量过滤，营业时间内全部满载时在完整候选集上重新评估
	available := filter(pool, func(c *Candidate) bool { return verdicts[c.VendorID].HasCapacity })
	if len(available) == 0 && len(pool) < len(cands) {
		available = filter(cands, func(c *Candidate) bool { return verdicts[c.VendorID].HasCapacity })
		if len(available) > 0 {
			d.Flags = append(d.Flags, FlagCapacityFullSet)
			for _, c := range available {
				verdicts[c.VendorID].Excluded = ""
			}
		}
	}
	if len(available) == 0 {
		d.Reason = "all candidates at capacity"
		return d, ErrAllVendorsAtCapacity
	}
	for _, c := range cands {
		if !verdicts[c.VendorID].HasCapacity && verdicts[c.VendorID].Excluded == "" {
			verdicts[c.VendorID].Excluded = "at_capacity"
		}
	}

	// 3. 防垄断过滤，全部被排除时恢复过滤前集合
	finalists, err := b.applyMonopoly(ctx, productID, available, verdicts, d)
	if err != nil {
		return nil, err
	}

	// 4. 按策略选择
	var chosen *Candidate
	switch b.cfg.Strategy {
	case StrategyRoundRobin:
		chosen, err = b.pickRoundRobin(ctx, productID, cands, finalists)
		if err != nil {
			return nil, err
		}
	default:
		chosen = pickLeastLoaded(finalists)
	}

	d.Chosen = chosen
	verdicts[chosen.VendorID].Chosen = true
	d.Reason = b.reason(chosen, len(cands), len(finalists), d.Flags)
	return d, nil
}

// Commit 持久化决策副作用（轮询游标），需与派单在同一事务内调用
func (b *Balancer) Commit(ctx context.Context, tx repo.Repos, d *Decision) error {
	if d.Strategy != StrategyRoundRobin || d.Chosen == nil {
		return nil
	}
	if err := tx.Cursors().Set(ctx, d.ProductID, d.Chosen.VendorID, b.now()); err != nil {
		return fmt.Errorf("save round robin cursor: %w", err)
	}
	return nil
}

func (b *Balancer) hasCapacity(c *Candidate) bool {
	return c.ActiveOrders() < b.cfg.MaxActiveOrders && c.PendingOrders() < b.cfg.MaxPendingOrders
}

func (b *Balancer) withinHours(c *Candidate) bool {
	if !b.cfg.WorkingHours.Enabled {
		return true
	}
	loc, err := time.LoadLocation(c.Vendor.Timezone)
	if err != nil || c.Vendor.Timezone == "" {
		loc = time.UTC
	}
	hour := b.now().In(loc).Hour()
	start, end := b.cfg.WorkingHours.StartHour, b.cfg.WorkingHours.EndHour
	if start <= end {
		return hour >= start && hour < end
	}
	// 跨午夜窗口，如 22-6
	return hour >= start || hour < end
}

func (b *Balancer) applyMonopoly(ctx context.Context, productID string, pool []*Candidate, verdicts map[string]*Verdict, d *Decision) ([]*Candidate, error) {
	if b.cfg.MonopolyThreshold <= 0 || b.cfg.MonopolyThreshold >= 1 {
		return pool, nil
	}
	shares, err := b.store.Vendors().ProductShares(ctx, productID, b.now().Add(-b.cfg.MonopolyWindow))
	if err != nil {
		return nil, fmt.Errorf("load product shares: %w", err)
	}
	total := 0
	for _, n := range shares {
		total += n
	}
	if total == 0 {
		return pool, nil
	}

	kept := make([]*Candidate, 0, len(pool))
	for _, c := range pool {
		share := float64(shares[c.VendorID]) / float64(total)
		verdicts[c.VendorID].MonopolyShare = round2(share * 100)
		if share >= b.cfg.MonopolyThreshold {
			verdicts[c.VendorID].Excluded = "monopoly_share"
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		d.Flags = append(d.Flags, FlagMonopolyFallback)
		for _, c := range pool {
			verdicts[c.VendorID].Excluded = ""
		}
		return pool, nil
	}
	return kept, nil
}

// pickLeastLoaded 进行中订单最少优先，其次评分高，最后按 ID 保证确定性
func pickLeastLoaded(cands []*Candidate) *Candidate {
	sorted := append([]*Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ActiveOrders() != b.ActiveOrders() {
			return a.ActiveOrders() < b.ActiveOrders()
		}
		if a.OverallScore != b.OverallScore {
			return a.OverallScore > b.OverallScore
		}
		return a.VendorID < b.VendorID
	})
	return sorted[0]
}

// rankByScore 评分降序，同分按 ID 升序
func rankByScore(cands []*Candidate) []*Candidate {
	ranked := append([]*Candidate(nil), cands...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].OverallScore != ranked[j].OverallScore {
			return ranked[i].OverallScore > ranked[j].OverallScore
		}
		return ranked[i].VendorID < ranked[j].VendorID
	})
	return ranked
}

// pickRoundRobin 在完整候选的排名中从上次选中者往后找第一个入围者
// 上次选中者被过滤时仍按其原排名位置继续，游标不在候选中时从头开始
func (b *Balancer) pickRoundRobin(ctx context.Context, productID string, cands, finalists []*Candidate) (*Candidate, error) {
	last, err := b.store.Cursors().Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load round robin cursor: %w", err)
	}
	in := make(map[string]bool, len(finalists))
	for _, c := range finalists {
		in[c.VendorID] = true
	}
	ranked := rankByScore(cands)
	for i, c := range ranked {
		if c.VendorID != last {
			continue
		}
		for step := 1; step <= len(ranked); step++ {
			if next := ranked[(i+step)%len(ranked)]; in[next.VendorID] {
				return next, nil
			}
		}
	}
	return rankByScore(finalists)[0], nil
}

func (b *Balancer) reason(chosen *Candidate, total, finalists int, flags []string) string {
	var sb strings.Builder
	switch b.cfg.Strategy {
	case StrategyRoundRobin:
		fmt.Fprintf(&sb, "round robin pick %s (score %.2f)", chosen.VendorID, chosen.OverallScore)
	default:
		fmt.Fprintf(&sb, "least loaded pick %s (active %d, score %.2f)", chosen.VendorID, chosen.ActiveOrders(), chosen.OverallScore)
	}
	fmt.Fprintf(&sb, " from %d finalists of %d candidates", finalists, total)
	if len(flags) > 0 {
		fmt.Fprintf(&sb, "; fallbacks: %s", strings.Join(flags, ","))
	}
	return sb.String()
}

func filter(cands []*Candidate, keep func(*Candidate) bool) []*Candidate {
	out := make([]*Candidate, 0, len(cands))
	for _, c := range cands {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
