package telegram

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"go_relay/internal/logger"
)

// commandJob 排队执行的命令
type commandJob struct {
	ctx     context.Context
	client  *bot.Bot
	update  *botModels.Update
	handler bot.HandlerFunc
}

// WorkerPoolStats 工作池状态
type WorkerPoolStats struct {
	Workers       int
	QueueLength   int
	QueueCapacity int
	Dropped       int
}

// WorkerPool 命令处理工作池，避免慢命令阻塞 update 轮询
type WorkerPool struct {
	queue   chan commandJob
	wg      sync.WaitGroup
	workers int

	mu      sync.Mutex
	closed  bool
	dropped int
	onPanic func(job commandJob, r any)
}

// NewWorkerPool 创建并启动工作池
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers
	}
	pool := &WorkerPool{
		queue:   make(chan commandJob, queueSize),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	logger.L().Infof("Command worker pool started: workers=%d queue=%d", workers, queueSize)
	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for job := range p.queue {
		p.run(id, job)
	}
	logger.L().Debugf("Command worker %d stopped", id)
}

func (p *WorkerPool) run(id int, job commandJob) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Errorf("Command worker %d: handler panic recovered: %v", id, r)
			if p.onPanic != nil {
				p.onPanic(job, r)
			}
		}
	}()
	job.handler(job.ctx, job.client, job.update)
}

// Submit 提交任务；队列已满或已关闭时丢弃并返回 false
func (p *WorkerPool) Submit(job commandJob) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	select {
	case p.queue <- job:
		return true
	default:
		p.dropped++
		logger.L().Warn("Command worker pool queue is full, update dropped")
		return false
	}
}

// Stats 返回当前状态
func (p *WorkerPool) Stats() WorkerPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return WorkerPoolStats{
		Workers:       p.workers,
		QueueLength:   len(p.queue),
		QueueCapacity: cap(p.queue),
		Dropped:       p.dropped,
	}
}

// Shutdown 停止接收新任务并等待已排队的任务完成
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	logger.L().Info("Command worker pool shut down")
}
