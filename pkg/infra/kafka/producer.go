// Package kafka 把供应商派单通知写入 Kafka，由下游推送服务投递
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"khaacho/dispatch/internal/collab"
)

// VendorNotification 供应商通知消息
type VendorNotification struct {
	VendorID string               `json:"vendor_id"`
	Summary  *collab.OrderSummary `json:"summary"`
	SentAt   time.Time            `json:"sent_at"`
}

// Producer 供应商通知生产者
type Producer struct {
	writer  *kgo.Writer
	timeout time.Duration
}

// NewProducer 创建生产者，brokers 为逗号分隔的地址列表
func NewProducer(brokersCSV, topic string, timeout time.Duration) (*Producer, error) {
	brokers := splitCSV(brokersCSV)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
	}
	return &Producer{writer: w, timeout: timeout}, nil
}

// Close 关闭生产者
func (p *Producer) Close() error { return p.writer.Close() }

// NotifyVendor 以订单号为 key 写入，同一订单的通知保持有序
func (p *Producer) NotifyVendor(ctx context.Context, vendorID string, summary *collab.OrderSummary) error {
	b, err := json.Marshal(&VendorNotification{
		VendorID: vendorID,
		Summary:  summary,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal vendor notification: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(summary.OrderID),
		Value: b,
		Time:  time.Now(),
	})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ collab.NotificationSender = (*Producer)(nil)
