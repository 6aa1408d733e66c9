package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"khaacho/dispatch/internal/framework"
	"khaacho/dispatch/pkg/config"
	"khaacho/dispatch/pkg/lmstfyx"
	"khaacho/dispatch/pkg/logger"
)

// Manager 接口
type Manager interface {
	Start() error
	Shutdown()
}

// ManagerInstance Manager 实例：队列 Worker + 定时任务
type ManagerInstance struct {
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        *config.Config
	source     framework.MessageSource
	proc       lmstfyx.Proc
	scheduler  *Scheduler
	workers    []Worker
	closing    *atomic.Bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	logger     logger.Logger
}

// NewManagerInstance 创建 Manager
// scheduler 可为 nil（只消费队列，不跑定时任务）
func NewManagerInstance(cfg *config.Config, source framework.MessageSource, proc lmstfyx.Proc, scheduler *Scheduler, log logger.Logger) (*ManagerInstance, error) {
	if source == nil || proc == nil {
		return nil, fmt.Errorf("message source and process func are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ManagerInstance{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		source:     source,
		proc:       proc,
		scheduler:  scheduler,
		closing:    atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
		workers:    make([]Worker, 0),
		logger:     log,
	}, nil
}

// Start 启动 Manager，阻塞到 Shutdown
func (m *ManagerInstance) Start() error {
	m.logger.Infof(m.ctx, "[Manager] Starting...")

	// 1. 加载所有 Worker
	if err := m.loadWorkers(); err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}
	m.logger.Infof(m.ctx, "[Manager] All workers loaded, count: %d", len(m.workers))

	// 2. 启动所有 Worker（每个 Worker 在独立 goroutine）
	for _, worker := range m.workers {
		w := worker
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			w.Start()
		}()
		m.logger.Infof(m.ctx, "[Manager] Worker started: %s", w.GetName())
	}

	// 3. 启动定时任务
	if m.scheduler != nil {
		m.scheduler.Start(m.ctx)
	}

	m.logger.Infof(m.ctx, "[Manager] Start success")

	// 4. 阻塞等待退出信号
	<-m.shutdownCh
	return nil
}

// Shutdown 优雅退出
func (m *ManagerInstance) Shutdown() {
	m.logger.Infof(m.ctx, "[Manager] Began to close")

	if !m.closing.CAS(false, true) {
		return
	}

	// 1. 停止定时任务（等待当前一轮跑完）
	if m.scheduler != nil {
		m.scheduler.Stop()
	}

	// 2. 所有 Worker 安全退出
	for _, worker := range m.workers {
		m.logger.Infof(m.ctx, "[Manager] Shutting down worker: %s", worker.GetName())
		worker.Shutdown()
	}

	// 3. 等待所有 Worker 退出
	m.wg.Wait()
	m.cancel()

	close(m.shutdownCh)
	m.logger.Infof(m.ctx, "[Manager] Shutdown complete")
}

// loadWorkers 按配置创建 Worker
func (m *ManagerInstance) loadWorkers() error {
	for _, workerCfg := range m.cfg.Workers {
		subCfg := &framework.SubscriberConfig{
			QueueName:    workerCfg.QueueName,
			Concurrency:  workerCfg.Subscriber.Threads,
			Rate:         workerCfg.Subscriber.Rate,
			Timeout:      workerCfg.Subscriber.Timeout,
			TTR:          workerCfg.Subscriber.TTR,
			ErrorBackoff: workerCfg.Subscriber.ErrorBackoff,
		}
		procCfg := &framework.ProcessorConfig{
			Concurrency: workerCfg.Processor.Threads,
			BufferSize:  workerCfg.Processor.BufferSize,
			Timeout:     workerCfg.Processor.Timeout,
		}

		worker, err := NewWorkerInstance(m.ctx, workerCfg.Name, subCfg, procCfg, m.source, m.proc, m.logger)
		if err != nil {
			return fmt.Errorf("failed to create worker %s: %w", workerCfg.Name, err)
		}
		m.workers = append(m.workers, worker)
	}
	return nil
}
