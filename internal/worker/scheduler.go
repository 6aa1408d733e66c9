package worker

import (
	"context"
	"sync"
	"time"

	"khaacho/dispatch/pkg/logger"
)

// Locker 互斥锁：多实例部署时同一定时任务同一时刻只在一个实例上运行
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

// Task 定时任务
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler 定时任务调度
type Scheduler struct {
	tasks   []Task
	locker  Locker
	lockTTL time.Duration
	logger  logger.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler 创建调度器；lockTTL 应大于单轮任务耗时
func NewScheduler(locker Locker, lockTTL time.Duration, log logger.Logger, tasks ...Task) *Scheduler {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Scheduler{
		tasks:   tasks,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  log,
	}
}

// Start 每个任务一个 goroutine，按间隔触发
func (s *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			s.logger.Warnf(ctx, "[Scheduler] task %s disabled", task.Name)
			continue
		}
		t := task
		s.wg.Add(1)
		go s.loop(ctx, t)
		s.logger.Infof(ctx, "[Scheduler] task %s scheduled every %v", t.Name, t.Interval)
	}
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Infof(context.Background(), "[Scheduler] stopped")
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, task)
		}
	}
}

// RunOnce 加锁后执行一次任务；锁被占用时跳过本轮
func (s *Scheduler) RunOnce(ctx context.Context, task Task) bool {
	release, ok, err := s.locker.TryLock(ctx, task.Name, s.lockTTL)
	if err != nil {
		s.logger.Errorf(ctx, "[Scheduler] lock %s failed: %v", task.Name, err)
		return false
	}
	if !ok {
		s.logger.Debugf(ctx, "[Scheduler] task %s is running elsewhere, skip", task.Name)
		return false
	}
	defer release(context.Background())

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()
	runCtx = logger.WithActionType(runCtx, task.Name)

	if err := task.Run(runCtx); err != nil {
		s.logger.Errorf(runCtx, "[Scheduler] task %s failed after %v: %v", task.Name, time.Since(start), err)
		return true
	}
	s.logger.Debugf(runCtx, "[Scheduler] task %s done in %v", task.Name, time.Since(start))
	return true
}

// LocalLocker 进程内锁，单实例部署或未配置 Redis 时使用
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

// TryLock 实现 Locker；过期的锁视为已释放
func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	l.held[key] = now.Add(ttl)
	return func(context.Context) {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}
