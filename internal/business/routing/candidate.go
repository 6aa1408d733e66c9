package routing

import (
	"github.com/shopspring/decimal"

	"khaacho/dispatch/pkg/entity"
)

// Candidate 一次路由计算中的候选供应商（不落库）
type Candidate struct {
	VendorID     string
	ProductID    string // 主商品（订单第一行），用于份额与轮询游标
	Vendor       entity.Vendor
	Lines        []CandidateLine
	Price        decimal.Decimal // 全部订单行合计
	Stock        int             // 各行库存最小值
	LeadTimeDays int             // 各行交期最大值

	// 表现快照，可能为 nil（新供应商）
	Score *entity.VendorScore
	// 本次报价相对候选均价的偏离百分比，候选不足两个时为 nil
	PriceVsMarket *float64

	SubScores    SubScores
	OverallScore float64
}

// CandidateLine 候选供应商对单个订单行的报价
type CandidateLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int             `json:"stock"`
}

// ActiveOrders 进行中订单数
func (c *Candidate) ActiveOrders() int {
	if c.Score == nil {
		return 0
	}
	return c.Score.ActiveOrders
}

// PendingOrders 待响应订单数
func (c *Candidate) PendingOrders() int {
	if c.Score == nil {
		return 0
	}
	return c.Score.PendingOrders
}

func vendorIDs(cands []*Candidate) []string {
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.VendorID)
	}
	return ids
}
