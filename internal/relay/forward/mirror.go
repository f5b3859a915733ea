package forward

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go_relay/internal/logger"
	"go_relay/internal/relay/delivery"
	"go_relay/internal/relay/models"
	"go_relay/internal/relay/transform"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Editor 传输层对已发送副本的编辑与删除能力，错误需已解码为 delivery 错误类型
type Editor interface {
	// Edit 替换副本的文本；caption 为 true 时编辑媒体说明
	Edit(ctx context.Context, task *models.Task, chatID, messageID int64, caption bool, text string) error
	// Delete 删除副本，副本已不存在时返回 nil
	Delete(ctx context.Context, chatID, messageID int64) error
}

// copyOp 针对单个副本的操作
type copyOp func(ctx context.Context, task *models.Task, record *models.DeliveryRecord) error

// DispatchEdit 异步同步一次源消息编辑
func (s *Service) DispatchEdit(ctx context.Context, msg *models.InboundMessage) {
	s.spawn(ctx, func(ctx context.Context) {
		s.HandleEdit(ctx, msg)
	})
}

// HandleEdit 把源消息的新内容写入开启编辑同步的任务副本。
// 原样转发的副本无法由 Bot 编辑，只处理 copy 模式
func (s *Service) HandleEdit(ctx context.Context, msg *models.InboundMessage) Report {
	started := time.Now()
	report := Report{RunID: uuid.New().String(), Message: msg.Key()}
	if s.editor == nil || s.records == nil {
		return report
	}

	var tasks []*models.Task
	for _, task := range s.resolver.Resolve(msg.ChatID) {
		if task.Settings.Delivery.SyncEdit && task.NormalizedMode() == models.ForwardModeCopy {
			tasks = append(tasks, task)
		}
	}
	report.Tasks = len(tasks)
	if len(tasks) == 0 {
		return report
	}

	caption := msg.Media != nil
	report.Lanes = s.onCopies(ctx, msg.Key(), tasks, func(ctx context.Context, task *models.Task, record *models.DeliveryRecord) error {
		if decision := transform.Evaluate(msg, task.Settings.Filters); decision.Skip {
			return delivery.ErrSkip
		}
		text := transform.RenderText(msg.Text, task.Settings)
		if !caption && strings.TrimSpace(text) == "" {
			return delivery.ErrSkip
		}
		return s.editor.Edit(ctx, task, record.TargetChatID, record.TargetMessageID, caption, text)
	})
	report.Duration = time.Since(started)

	logger.L().Infof("Edit synced: run_id=%s, chat_id=%d, message_id=%d, tasks=%d, success=%d, failed=%d, skipped=%d, duration=%v",
		report.RunID, msg.ChatID, msg.MessageID, report.Tasks,
		report.Count(models.DeliveryStatusSuccess),
		report.Count(models.DeliveryStatusFailed),
		report.Count(models.DeliveryStatusSkipped),
		report.Duration)

	return report
}

// Retract 删除源消息在开启删除同步的任务中的副本；requester 为 0 时不限制任务所有者
func (s *Service) Retract(ctx context.Context, key models.MessageKey, requester int64) (Report, error) {
	started := time.Now()
	report := Report{RunID: uuid.New().String(), Message: key}
	if s.editor == nil || s.records == nil {
		return report, fmt.Errorf("message retraction is not enabled")
	}

	var tasks []*models.Task
	for _, task := range s.resolver.Resolve(key.ChatID) {
		if !task.Settings.Delivery.SyncDelete {
			continue
		}
		if requester != 0 && task.OwnerID != requester {
			continue
		}
		tasks = append(tasks, task)
	}
	report.Tasks = len(tasks)
	if len(tasks) == 0 {
		return report, nil
	}

	report.Lanes = s.onCopies(ctx, key, tasks, func(ctx context.Context, task *models.Task, record *models.DeliveryRecord) error {
		if err := s.editor.Delete(ctx, record.TargetChatID, record.TargetMessageID); err != nil {
			return err
		}
		if err := s.records.MarkDeleted(context.WithoutCancel(ctx), record.ID, time.Now(), ""); err != nil {
			logger.L().Warnf("Failed to mark copy deleted: record_id=%s, error=%v", record.ID.Hex(), err)
		}
		return nil
	})
	report.Duration = time.Since(started)

	logger.L().Infof("Message retracted: run_id=%s, chat_id=%d, message_id=%d, requester=%d, tasks=%d, success=%d, failed=%d, duration=%v",
		report.RunID, key.ChatID, key.MessageID, requester, report.Tasks,
		report.Count(models.DeliveryStatusSuccess),
		report.Count(models.DeliveryStatusFailed),
		report.Duration)

	return report, nil
}

// onCopies 对 tasks 的每个已送达副本并发执行 op，每个副本占用一个投递通道。
// 报告顺序与 tasks、记录的顺序一致
func (s *Service) onCopies(ctx context.Context, key models.MessageKey, tasks []*models.Task, op copyOp) []LaneReport {
	records, err := s.records.ListByMessage(ctx, key.ChatID, int64(key.MessageID))
	if err != nil {
		logger.L().Errorf("Failed to load delivery records: chat_id=%d, message_id=%d, error=%v",
			key.ChatID, key.MessageID, err)
		return nil
	}

	type job struct {
		task   *models.Task
		record *models.DeliveryRecord
	}
	var jobs []job
	for _, task := range tasks {
		for _, record := range records {
			if record.TaskID == task.ID && record.Delivered() {
				jobs = append(jobs, job{task: task, record: record})
			}
		}
	}

	lanes := make([]LaneReport, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		lanes[i] = LaneReport{TaskID: j.task.ID, Target: j.task.TargetByID(j.record.TargetChatID), TargetMessageID: j.record.TargetMessageID}
		g.Go(func() error {
			outcome := s.controller.Deliver(ctx, delivery.LaneKey{TaskID: j.task.ID, TargetID: j.record.TargetChatID}, key.MessageID,
				func(ctx context.Context) (int64, error) {
					return j.record.TargetMessageID, op(ctx, j.task, j.record)
				})
			lanes[i].State = outcome.State
			lanes[i].Status = statusOf(outcome)
			lanes[i].Attempts = outcome.Attempts
			lanes[i].Err = outcome.Err
			return nil
		})
	}
	_ = g.Wait()
	return lanes
}
