package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker 基于 redislock 的分布式互斥锁，保证多实例下定时任务只有一个在跑
type Locker struct {
	client *redislock.Client
	prefix string
}

// NewLocker 创建分布式锁
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: redislock.New(client), prefix: prefix}
}

// TryLock 尝试加锁，已被占用时返回 ok=false
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) {
		_ = lock.Release(ctx)
	}, true, nil
}
