package app

import (
	"context"

	"khaacho/dispatch/internal/worker"
)

// 定时任务名（同时作为分布式锁的 key）
const (
	TaskTimeoutSweep = "routing_timeout_sweep"
	TaskSelfHealing  = "self_healing_cycle"
	TaskPurgeKeys    = "purge_idempotency_keys"
)

// Tasks worker 进程的定时任务
func Tasks(a *App) []worker.Task {
	sched := a.Config.Scheduler
	return []worker.Task{
		{
			Name:     TaskTimeoutSweep,
			Interval: sched.TimeoutSweepInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Orchestrator.RunRoutingTimeoutSweep(ctx)
				return err
			},
		},
		{
			Name:     TaskSelfHealing,
			Interval: sched.HealingInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Monitor.RunSelfHealingCycle(ctx)
				return err
			},
		},
		{
			Name:     TaskPurgeKeys,
			Interval: sched.PurgeInterval,
			Run: func(ctx context.Context) error {
				n, err := a.Recovery.PurgeExpiredKeys(ctx)
				if err == nil && n > 0 {
					a.Logger.Infof(ctx, "[Scheduler] purged %d expired idempotency keys", n)
				}
				return err
			},
		},
	}
}
