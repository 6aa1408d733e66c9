package routing

import (
	"fmt"
	"math"
	"sync"

	"khaacho/dispatch/pkg/entity"
)

// 冷启动中性默认值
const (
	DefaultDeliveryScore = 50.0
	DefaultResponseScore = 70.0
	DefaultPriceScore    = 75.0

	weightTolerance = 0.01
)

// Weights 评分权重，四项之和必须为 1（误差 0.01）
type Weights struct {
	Reliability     float64 `json:"reliability"`
	DeliverySuccess float64 `json:"delivery_success"`
	ResponseSpeed   float64 `json:"response_speed"`
	Price           float64 `json:"price"`
}

// DefaultWeights 默认权重
func DefaultWeights() Weights {
	return Weights{
		Reliability:     0.35,
		DeliverySuccess: 0.30,
		ResponseSpeed:   0.20,
		Price:           0.15,
	}
}

// Validate 校验权重
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"reliability":      w.Reliability,
		"delivery_success": w.DeliverySuccess,
		"response_speed":   w.ResponseSpeed,
		"price":            w.Price,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidWeights, name, v)
		}
	}
	sum := w.Reliability + w.DeliverySuccess + w.ResponseSpeed + w.Price
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w: sum=%.4f", ErrInvalidWeights, sum)
	}
	return nil
}

// SubScores 四项子评分，均在 [0,100]
type SubScores struct {
	Reliability     float64 `json:"reliability"`
	DeliverySuccess float64 `json:"delivery_success"`
	ResponseSpeed   float64 `json:"response_speed"`
	Price           float64 `json:"price"`
}

// Scorer 供应商多维评分
// 给定相同输入与权重，结果确定
type Scorer struct {
	mu      sync.RWMutex
	weights Weights
}

// NewScorer 创建评分器
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Weights 当前权重
func (s *Scorer) Weights() Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// UpdateWeights 更新权重，非法时保留原权重
func (s *Scorer) UpdateWeights(w Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.weights = w
	s.mu.Unlock()
	return nil
}

// Score 计算候选评分并写回候选
func (s *Scorer) Score(c *Candidate) float64 {
	priceDeviation := c.PriceVsMarket
	if priceDeviation == nil && c.Score != nil {
		priceDeviation = c.Score.PriceVsMarket
	}
	c.SubScores = SubScores{
		Reliability:     ReliabilityScore(&c.Vendor, c.Score),
		DeliverySuccess: DeliveryScore(&c.Vendor, c.Score),
		ResponseSpeed:   ResponseSpeedScore(c.Score),
		Price:           PriceScore(priceDeviation),
	}
	c.OverallScore = s.combine(c.SubScores)
	return c.OverallScore
}

// ScoreVendor 不带报价上下文的评分（用于评分聚合的 overall_score）
func (s *Scorer) ScoreVendor(v *entity.Vendor, score *entity.VendorScore) float64 {
	var deviation *float64
	if score != nil {
		deviation = score.PriceVsMarket
	}
	return s.combine(SubScores{
		Reliability:     ReliabilityScore(v, score),
		DeliverySuccess: DeliveryScore(v, score),
		ResponseSpeed:   ResponseSpeedScore(score),
		Price:           PriceScore(deviation),
	})
}

func (s *Scorer) combine(sub SubScores) float64 {
	w := s.Weights()
	total := sub.Reliability*w.Reliability +
		sub.DeliverySuccess*w.DeliverySuccess +
		sub.ResponseSpeed*w.ResponseSpeed +
		sub.Price*w.Price
	return round2(total)
}

// ReliabilityScore 可靠性：优先使用聚合值，否则按目录数据回退计算
func ReliabilityScore(v *entity.Vendor, score *entity.VendorScore) float64 {
	if score != nil && score.ReliabilityScore > 0 {
		return clamp(score.ReliabilityScore)
	}
	if v == nil {
		return 0
	}
	completion := 0.0
	if v.CompletionRate != nil {
		completion = *v.CompletionRate
	}
	return clamp(v.VendorScore*0.5 + v.Rating*20*0.3 + completion*0.2)
}

// DeliveryScore 履约成功率：目录完成率 > 聚合完成比 > 冷启动 50
func DeliveryScore(v *entity.Vendor, score *entity.VendorScore) float64 {
	if v != nil && v.CompletionRate != nil {
		return clamp(*v.CompletionRate)
	}
	if score != nil && score.TotalOrders > 0 {
		return clamp(float64(score.CompletedOrders) / float64(score.TotalOrders) * 100)
	}
	return DefaultDeliveryScore
}

// ResponseSpeedScore 响应速度：按平均响应分钟分段
func ResponseSpeedScore(score *entity.VendorScore) float64 {
	if score == nil || score.AvgResponseTimeMinutes == nil {
		return DefaultResponseScore
	}
	m := *score.AvgResponseTimeMinutes
	switch {
	case m <= 15:
		return 100
	case m <= 30:
		return 90
	case m <= 60:
		return 80
	case m <= 120:
		return 70
	case m <= 240:
		return 60
	case m <= 480:
		return 50
	default:
		return 40
	}
}

// PriceScore 价格：偏离市场价每 1% 扣 2.5 分，基准 75
func PriceScore(deviationPct *float64) float64 {
	if deviationPct == nil || math.IsNaN(*deviationPct) {
		return DefaultPriceScore
	}
	return clamp(DefaultPriceScore - 2.5*(*deviationPct))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
