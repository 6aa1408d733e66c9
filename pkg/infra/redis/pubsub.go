// Package redis 基于 Redis 的运营告警发布与分布式锁
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"khaacho/dispatch/internal/collab"
)

// DefaultAdminChannel 运营告警频道
const DefaultAdminChannel = "dispatch:admin_alerts"

// NewClient 创建 Redis 客户端并测试连接
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// AdminPublisher 把运营告警发布到 Redis 频道
type AdminPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewAdminPublisher 创建告警发布器
func NewAdminPublisher(client redis.UniversalClient, channel string) *AdminPublisher {
	if channel == "" {
		channel = DefaultAdminChannel
	}
	return &AdminPublisher{client: client, channel: channel}
}

// Notify 发布告警
func (p *AdminPublisher) Notify(ctx context.Context, event *collab.AdminEvent) error {
	msgJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal admin event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish admin event: %w", err)
	}
	return nil
}

// Subscribe 订阅告警频道
func (p *AdminPublisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, p.channel)
}

var _ collab.AdminNotificationSink = (*AdminPublisher)(nil)
