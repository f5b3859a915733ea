package forward

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go_relay/internal/logger"
	"go_relay/internal/relay/delivery"
	"go_relay/internal/relay/models"
	"go_relay/internal/relay/repository"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	sweepBatch       = 100
	sweepConcurrency = 8
)

// Sweeper 定期删除到达自动删除时间的副本。
// 所属任务已停用的副本保留到任务重新启用或记录过期
type Sweeper struct {
	records    repository.DeliveryRecordRepository
	editor     Editor
	controller *delivery.Controller
	activity   delivery.ActivityChecker
	interval   time.Duration
	now        func() time.Time

	deleted atomic.Int64
	cron    *cron.Cron
}

// NewSweeper 创建自动删除扫描器
func NewSweeper(records repository.DeliveryRecordRepository, editor Editor, controller *delivery.Controller, activity delivery.ActivityChecker, interval time.Duration) *Sweeper {
	return &Sweeper{
		records:    records,
		editor:     editor,
		controller: controller,
		activity:   activity,
		interval:   interval,
		now:        time.Now,
	}
}

// Start 按 interval 周期扫描；上一轮未结束时跳过本轮
func (w *Sweeper) Start(ctx context.Context) {
	if w.interval <= 0 {
		return
	}

	w.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	w.cron.Schedule(cron.Every(w.interval), cron.FuncJob(func() {
		if _, err := w.SweepOnce(ctx); err != nil {
			logger.L().Warnf("Auto-delete sweep failed: %v", err)
		}
	}))
	w.cron.Start()

	logger.L().Infof("Auto-delete sweeper started: interval=%s", w.interval)
}

// Stop 停止扫描并等待当前一轮结束
func (w *Sweeper) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	logger.L().Infof("Auto-delete sweeper stopped: deleted=%d", w.deleted.Load())
}

// SweepOnce 处理一批到期副本，返回成功删除的数量
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	due, err := w.records.ListDueForDeletion(ctx, w.now(), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list due copies: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var (
		deleted atomic.Int64
		g       errgroup.Group
	)
	g.SetLimit(sweepConcurrency)
	for _, record := range due {
		if w.activity != nil && !w.activity.IsActive(record.TaskID) {
			continue
		}
		g.Go(func() error {
			if w.remove(ctx, record) {
				deleted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(deleted.Load())
	w.deleted.Add(int64(n))
	logger.L().Debugf("Auto-delete sweep finished: due=%d, deleted=%d", len(due), n)
	return n, nil
}

func (w *Sweeper) remove(ctx context.Context, record *models.DeliveryRecord) bool {
	outcome := w.controller.Deliver(ctx, delivery.LaneKey{TaskID: record.TaskID, TargetID: record.TargetChatID}, int(record.SourceMessageID),
		func(ctx context.Context) (int64, error) {
			return record.TargetMessageID, w.editor.Delete(ctx, record.TargetChatID, record.TargetMessageID)
		})

	var deleteErr string
	switch outcome.State {
	case delivery.StateSuccess:
	case delivery.StateFailedFatal, delivery.StateFailedRetryable:
		// 放弃删除，避免每轮重复尝试
		deleteErr = outcome.Err.Error()
	default:
		return false
	}

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordSaveTimeout)
	defer cancel()
	if err := w.records.MarkDeleted(markCtx, record.ID, w.now(), deleteErr); err != nil {
		logger.L().Errorf("Failed to mark copy deleted: record_id=%s, error=%v", record.ID.Hex(), err)
	}
	return deleteErr == ""
}
