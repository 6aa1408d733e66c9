package framework

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitleak/lmstfy/client"

	"khaacho/dispatch/pkg/lmstfyx"
	"khaacho/dispatch/pkg/logger"
)

// Processor 处理器：接收消息，调用业务处理函数，按结果确认消息
type Processor struct {
	cfg        *ProcessorConfig
	proc       lmstfyx.Proc // 业务处理函数（注入的 GetProcess）
	source     MessageSource
	logger     Logger
	shutdownCh chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

// NewProcessor 创建处理器
func NewProcessor(cfg *ProcessorConfig, proc lmstfyx.Proc, source MessageSource, logger Logger) *Processor {
	return &Processor{
		cfg:        cfg,
		proc:       proc,
		source:     source,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Start 启动处理协程
func (p *Processor) Start(ctx context.Context, inputChan <-chan *Message) {
	p.logger.Infof(ctx, "[Processor] Starting with %d workers", p.cfg.Concurrency)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i, inputChan)
	}
}

// SignalShutdown 通知 Processor 进入 Drain 模式
func (p *Processor) SignalShutdown() {
	p.once.Do(func() {
		p.logger.Infof(context.Background(), "[Processor] Shutdown signal received")
		close(p.shutdownCh)
	})
}

// Wait 等待所有处理协程退出
func (p *Processor) Wait() {
	p.wg.Wait()
	p.logger.Infof(context.Background(), "[Processor] All workers exited")
}

// loop 处理循环（单个 Worker）
func (p *Processor) loop(ctx context.Context, workerID int, inputChan <-chan *Message) {
	defer p.wg.Done()

	for {
		select {
		case msg := <-inputChan:
			p.Process(ctx, workerID, msg)

		// Drain 模式：处理完剩余消息再退出
		case <-p.shutdownCh:
			count := 0
			for {
				select {
				case msg := <-inputChan:
					p.Process(ctx, workerID, msg)
					count++
				default:
					p.logger.Infof(ctx, "[Processor-%d] Drained %d messages, exiting", workerID, count)
					return
				}
			}
		}
	}
}

// Process 处理单个消息并返回处置结果
func (p *Processor) Process(ctx context.Context, workerID int, msg *Message) Outcome {
	if msg == nil {
		return ""
	}
	startTime := time.Now()

	// 1. 超时控制 + 日志字段
	procCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	procCtx = logger.WithWorkerID(procCtx, workerID)

	// 2. 调用业务处理函数，panic 视为不可重试
	resp := p.invoke(procCtx, &client.Job{ID: msg.ID, Queue: msg.Queue, Data: msg.Data})

	// 3. 按结果确认
	outcome := p.settle(procCtx, msg, resp)

	p.logger.Infof(procCtx, "[Processor-%d] Message %s %s in %v", workerID, msg.ID, outcome, time.Since(startTime))
	return outcome
}

func (p *Processor) invoke(ctx context.Context, job *client.Job) (resp *lmstfyx.JobResp) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf(ctx, "[Processor] panic while processing %s: %v", job.ID, r)
			resp = &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury, Data: []byte(fmt.Sprint(r))}
		}
	}()
	resp = p.proc(ctx, job)
	if resp == nil {
		resp = &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
	}
	return resp
}

// settle Success/Bury 确认消息；Release 不确认，等待 TTR 到期重新投递
func (p *Processor) settle(ctx context.Context, msg *Message, resp *lmstfyx.JobResp) Outcome {
	switch resp.Action {
	case lmstfyx.JobRespStatusRelease:
		p.logger.Warnf(ctx, "[Processor] Releasing message %s for redelivery", msg.ID)
		return OutcomeReleased
	case lmstfyx.JobRespStatusBury:
		p.logger.Errorf(ctx, "[Processor] Burying message %s: %s", msg.ID, string(resp.Data))
		p.ack(ctx, msg)
		return OutcomeBuried
	default:
		p.ack(ctx, msg)
		return OutcomeAcked
	}
}

func (p *Processor) ack(ctx context.Context, msg *Message) {
	if err := p.source.Ack(msg.Queue, msg.ID); err != nil {
		p.logger.Errorf(ctx, "[Processor] Ack %s failed: %v", msg.ID, err)
	}
}
