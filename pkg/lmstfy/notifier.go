package lmstfy

import (
	"context"
	"time"

	"khaacho/dispatch/internal/collab"
)

// VendorNotification 供应商通知任务
type VendorNotification struct {
	VendorID string               `json:"vendor_id"`
	Summary  *collab.OrderSummary `json:"summary"`
	SentAt   time.Time            `json:"sent_at"`
}

// VendorNotifier 把供应商通知投递到 lmstfy 队列，由推送服务消费
type VendorNotifier struct {
	client *Client
	queue  string
}

// NewVendorNotifier 创建通知投递器
func NewVendorNotifier(client *Client, queue string) *VendorNotifier {
	return &VendorNotifier{client: client, queue: queue}
}

// NotifyVendor 投递通知
func (n *VendorNotifier) NotifyVendor(ctx context.Context, vendorID string, summary *collab.OrderSummary) error {
	_, err := n.client.PublishJSON(n.queue, &VendorNotification{
		VendorID: vendorID,
		Summary:  summary,
		SentAt:   time.Now().UTC(),
	})
	return err
}

var _ collab.NotificationSender = (*VendorNotifier)(nil)
