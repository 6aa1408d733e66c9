package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/entity"
)

// 评分惩罚分
const (
	timeoutPenalty         = 2
	deliveryFailurePenalty = 5
)

// ScoreBook 供应商评分事件簿
// 评分聚合只由事件折叠得到，同一事件键只生效一次
type ScoreBook struct {
	store  repo.Store
	scorer *Scorer
	now    func() time.Time
}

// NewScoreBook 创建评分事件簿
func NewScoreBook(store repo.Store, scorer *Scorer, now func() time.Time) *ScoreBook {
	if now == nil {
		now = time.Now
	}
	return &ScoreBook{store: store, scorer: scorer, now: now}
}

// ScoreEventKey 评分事件幂等键
func ScoreEventKey(eventType, ref string) string {
	return eventType + ":" + ref
}

// Record 追加事件并增量折叠到评分聚合，需在业务事务内调用
// 事件键已存在时不做任何修改
func (b *ScoreBook) Record(ctx context.Context, tx repo.Repos, ev *entity.VendorScoreEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = b.now()
	}
	inserted, err := tx.Scores().AppendEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("append score event %s: %w", ev.EventKey, err)
	}
	if !inserted {
		return nil
	}

	score, err := tx.Scores().GetForUpdate(ctx, ev.VendorID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("load vendor score %s: %w", ev.VendorID, err)
	}
	if score == nil {
		score = &entity.VendorScore{VendorID: ev.VendorID}
	}

	fold(score, ev)
	if err := b.derive(ctx, tx, score); err != nil {
		return err
	}
	return tx.Scores().Save(ctx, score)
}

// Recalculate 从事件流完整重建供应商评分
func (b *ScoreBook) Recalculate(ctx context.Context, vendorID string) (*entity.VendorScore, error) {
	var rebuilt *entity.VendorScore
	err := b.store.Transaction(ctx, func(tx repo.Repos) error {
		events, err := tx.Scores().ListEvents(ctx, vendorID)
		if err != nil {
			return fmt.Errorf("list score events %s: %w", vendorID, err)
		}
		score := &entity.VendorScore{VendorID: vendorID}
		for _, ev := range events {
			fold(score, ev)
		}
		if err := b.derive(ctx, tx, score); err != nil {
			return err
		}
		if err := tx.Scores().Save(ctx, score); err != nil {
			return err
		}
		rebuilt = score
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rebuilt, nil
}

// RescoreAll 权重变更后刷新给定供应商的 overall_score
func (b *ScoreBook) RescoreAll(ctx context.Context, vendorIDs []string) error {
	return b.store.Transaction(ctx, func(tx repo.Repos) error {
		scores, err := tx.Scores().GetMany(ctx, vendorIDs)
		if err != nil {
			return err
		}
		for _, id := range vendorIDs {
			score, ok := scores[id]
			if !ok {
				continue
			}
			if err := b.derive(ctx, tx, score); err != nil {
				return err
			}
			if err := tx.Scores().Save(ctx, score); err != nil {
				return err
			}
		}
		return nil
	})
}

// derive 由计数重算派生指标
func (b *ScoreBook) derive(ctx context.Context, tx repo.Repos, score *entity.VendorScore) error {
	if score.ResponseCount > 0 {
		avg := round2(score.ResponseMinutesSum / float64(score.ResponseCount))
		score.AvgResponseTimeMinutes = &avg
	} else {
		score.AvgResponseTimeMinutes = nil
	}

	if finished := score.CompletedOrders + score.FailedDeliveries; finished > 0 {
		score.DeliverySuccessRate = round2(float64(score.CompletedOrders) / float64(finished) * 100)
	} else {
		score.DeliverySuccessRate = 0
	}

	if decided := score.AcceptedCount + score.RejectedCount + score.TimeoutCount; decided > 0 {
		score.ReliabilityScore = round2(clamp(float64(score.AcceptedCount)/float64(decided)*100 - float64(score.PenaltyPoints)))
	} else {
		score.ReliabilityScore = 0
	}

	vendor, err := tx.Vendors().Get(ctx, score.VendorID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("load vendor %s: %w", score.VendorID, err)
	}
	score.OverallScore = b.scorer.ScoreVendor(vendor, score)
	score.UpdatedAt = b.now()
	return nil
}

// fold 把单个事件折叠进计数
func fold(score *entity.VendorScore, ev *entity.VendorScoreEvent) {
	switch ev.EventType {
	case entity.ScoreEventAssigned:
		score.PendingOrders++
	case entity.ScoreEventAccepted:
		score.PendingOrders--
		score.ActiveOrders++
		score.TotalOrders++
		score.AcceptedCount++
		score.ResponseCount++
		score.ResponseMinutesSum += ev.Value
	case entity.ScoreEventRejected:
		score.PendingOrders--
		score.RejectedCount++
		score.ResponseCount++
		score.ResponseMinutesSum += ev.Value
	case entity.ScoreEventTimedOut:
		score.PendingOrders--
		score.TimeoutCount++
		score.PenaltyPoints += timeoutPenalty
	case entity.ScoreEventReassigned:
		score.PendingOrders--
	case entity.ScoreEventDelivered:
		score.ActiveOrders--
		score.CompletedOrders++
	case entity.ScoreEventDeliveryFailed:
		score.ActiveOrders--
		score.FailedDeliveries++
		score.PenaltyPoints += deliveryFailurePenalty
	case entity.ScoreEventCancelled:
		if ev.Value == 1 {
			score.ActiveOrders--
		} else {
			score.PendingOrders--
		}
		score.CancelledCount++
	case entity.ScoreEventPriceUpdated:
		v := ev.Value
		score.PriceVsMarket = &v
	}

	if score.PendingOrders < 0 {
		score.PendingOrders = 0
	}
	if score.ActiveOrders < 0 {
		score.ActiveOrders = 0
	}
	if ev.ID > score.LastEventID {
		score.LastEventID = ev.ID
	}
}
