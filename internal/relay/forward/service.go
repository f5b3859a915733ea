// Package forward runs the per-message relay: resolve the tasks for the
// origin chat, obtain each task's processed content through the cache and
// deliver it to every target through independent lanes.
//
// Tasks of one message run concurrently; the report keeps resolver order.
// Edits and deletions of the source message are replayed onto the copies
// recorded for it, and copies with an auto-delete delay are removed by the
// Sweeper.
package forward

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go_relay/internal/logger"
	"go_relay/internal/relay/cache"
	"go_relay/internal/relay/delivery"
	"go_relay/internal/relay/models"
	"go_relay/internal/relay/repository"
	"go_relay/internal/relay/transform"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const recordSaveTimeout = 10 * time.Second

// TaskResolver 解析消息对应的任务
type TaskResolver interface {
	Resolve(chatID int64) []*models.Task
}

// Processor 为单个任务生成待投递内容
type Processor interface {
	Process(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error)
}

// Sender 传输层发送能力，错误需已解码为 delivery 错误类型。
// content 为 nil 表示原样复制或转发
type Sender interface {
	Send(ctx context.Context, task *models.Task, target models.Chat, msg *models.InboundMessage, content *models.Content) (int64, error)
}

// LaneReport 单个 (任务, 目标) 的结果
type LaneReport struct {
	TaskID          int64
	Target          models.Chat
	Status          string
	State           delivery.State
	Attempts        int
	TargetMessageID int64
	DeleteAfter     time.Duration
	Err             error
}

// Report 一条入站消息的处理结果
type Report struct {
	RunID     string
	Message   models.MessageKey
	Duplicate bool
	Tasks     int
	Lanes     []LaneReport
	Duration  time.Duration
}

// Count 统计某状态的通道数
func (r Report) Count(status string) int {
	n := 0
	for _, lane := range r.Lanes {
		if lane.Status == status {
			n++
		}
	}
	return n
}

// Service 转发编排服务
type Service struct {
	resolver   TaskResolver
	cache      *cache.Cache
	processor  Processor
	controller *delivery.Controller
	sender     Sender
	editor     Editor
	records    repository.DeliveryRecordRepository
	seen       *seenCache

	inflight sync.WaitGroup
	stopCtx  context.Context
	stop     context.CancelFunc
}

// Option 配置 Service
type Option func(*Service)

// WithEditor 启用编辑同步与撤回
func WithEditor(editor Editor) Option {
	return func(s *Service) {
		s.editor = editor
	}
}

// NewService 创建转发服务；records 为 nil 时不落库，dedupWindow <= 0 时不去重
func NewService(
	resolver TaskResolver,
	c *cache.Cache,
	processor Processor,
	controller *delivery.Controller,
	sender Sender,
	records repository.DeliveryRecordRepository,
	dedupWindow time.Duration,
	opts ...Option,
) *Service {
	s := &Service{
		resolver:   resolver,
		cache:      c,
		processor:  processor,
		controller: controller,
		sender:     sender,
		records:    records,
		seen:       newSeenCache(dedupWindow),
	}
	s.stopCtx, s.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch 异步处理消息，等待中的通道不会阻塞后续消息。
// 处理不随 ctx 取消，只在 Shutdown 超时后中止
func (s *Service) Dispatch(ctx context.Context, msg *models.InboundMessage) {
	s.spawn(ctx, func(ctx context.Context) {
		s.Handle(ctx, msg)
	})
}

// Shutdown 等待在途消息处理完成；ctx 到期后取消剩余通道并等待其退出
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.stop()
		<-done
		return ctx.Err()
	}
}

func (s *Service) spawn(ctx context.Context, fn func(ctx context.Context)) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(s.stopCtx, cancel)
		defer stop()

		fn(runCtx)
	}()
}

// Handle 同步处理一条入站消息
func (s *Service) Handle(ctx context.Context, msg *models.InboundMessage) Report {
	started := time.Now()
	report := Report{RunID: uuid.New().String(), Message: msg.Key()}

	if !s.seen.MarkSeen(msg.Key()) {
		logger.L().Infof("Duplicate inbound message skipped: chat_id=%d, message_id=%d", msg.ChatID, msg.MessageID)
		report.Duplicate = true
		return report
	}

	tasks := s.resolver.Resolve(msg.ChatID)
	report.Tasks = len(tasks)
	if len(tasks) == 0 {
		logger.L().Debugf("No active task for chat %d", msg.ChatID)
		return report
	}
	defer s.cache.Release(msg.Key())

	// 预分配结果槽位，报告顺序与任务、目标的配置顺序一致
	offsets := make([]int, len(tasks))
	total := 0
	for i, task := range tasks {
		offsets[i] = total
		total += len(task.Targets)
	}
	report.Lanes = make([]LaneReport, total)

	var g errgroup.Group
	for i, task := range tasks {
		lanes := report.Lanes[offsets[i] : offsets[i]+len(task.Targets)]
		g.Go(func() error {
			s.runTask(ctx, msg, task, lanes)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	s.saveRecords(ctx, msg, report)

	// 没有任何副本送达时允许平台重投
	if report.Count(models.DeliveryStatusSuccess) == 0 &&
		report.Count(models.DeliveryStatusFailed)+report.Count(models.DeliveryStatusCancelled) > 0 {
		s.seen.Forget(msg.Key())
	}

	logger.L().Infof("Relay completed: run_id=%s, chat_id=%d, message_id=%d, tasks=%d, success=%d, failed=%d, skipped=%d, cancelled=%d, deactivated=%d, duration=%v",
		report.RunID, msg.ChatID, msg.MessageID, report.Tasks,
		report.Count(models.DeliveryStatusSuccess),
		report.Count(models.DeliveryStatusFailed),
		report.Count(models.DeliveryStatusSkipped),
		report.Count(models.DeliveryStatusCancelled),
		report.Count(models.DeliveryStatusDeactivated),
		report.Duration)

	return report
}

// runTask 处理单个任务，结果写入 lanes（与 task.Targets 一一对应）
func (s *Service) runTask(ctx context.Context, msg *models.InboundMessage, task *models.Task, lanes []LaneReport) {
	for i, target := range task.Targets {
		lanes[i] = LaneReport{TaskID: task.ID, Target: target}
	}

	if decision := transform.Evaluate(msg, task.Settings.Filters); decision.Skip {
		logger.L().Debugf("Message filtered: task_id=%d, chat_id=%d, message_id=%d, reason=%s",
			task.ID, msg.ChatID, msg.MessageID, decision.Reason)
		for i := range lanes {
			lanes[i].Status = models.DeliveryStatusSkipped
		}
		return
	}

	content, prepErr := s.contentFor(ctx, msg, task)
	if errors.Is(prepErr, delivery.ErrSkip) {
		logger.L().Debugf("Nothing left to send after transform: task_id=%d, chat_id=%d, message_id=%d",
			task.ID, msg.ChatID, msg.MessageID)
		for i := range lanes {
			lanes[i].Status = models.DeliveryStatusSkipped
		}
		return
	}
	if prepErr != nil {
		logger.L().Warnf("Transform failed, lanes will retry: task_id=%d, chat_id=%d, message_id=%d, error=%v",
			task.ID, msg.ChatID, msg.MessageID, prepErr)
	}

	deleteAfter := task.Settings.Delivery.AutoDeleteAfter()
	var g errgroup.Group
	for i, target := range task.Targets {
		g.Go(func() error {
			outcome := s.controller.Deliver(ctx, delivery.LaneKey{TaskID: task.ID, TargetID: target.ID}, msg.MessageID,
				s.laneSend(msg, task, target, content, prepErr))
			lanes[i].State = outcome.State
			lanes[i].Status = statusOf(outcome)
			lanes[i].Attempts = outcome.Attempts
			lanes[i].TargetMessageID = outcome.TargetMessageID
			lanes[i].DeleteAfter = deleteAfter
			lanes[i].Err = outcome.Err
			return nil
		})
	}
	_ = g.Wait()
}

// laneSend 构造单个目标的发送函数。首次转换失败时，第一次尝试直接返回该错误，
// 之后的每次尝试重新经缓存计算（失败结果不入缓存）
func (s *Service) laneSend(msg *models.InboundMessage, task *models.Task, target models.Chat, content *models.Content, prepErr error) delivery.SendFunc {
	first := true
	return func(ctx context.Context) (int64, error) {
		c, err := content, prepErr
		if err != nil && !first {
			c, err = s.contentFor(ctx, msg, task)
		}
		first = false
		if err != nil {
			return 0, err
		}
		return s.sender.Send(ctx, task, target, msg, c)
	}
}

// contentFor 经缓存取得任务的待投递内容；nil 表示原样复制，
// 转换后无内容时返回 delivery.ErrSkip
func (s *Service) contentFor(ctx context.Context, msg *models.InboundMessage, task *models.Task) (*models.Content, error) {
	result, err := s.cache.GetOrCompute(ctx, cache.TaskKey(msg, task), func(ctx context.Context) (cache.Result, error) {
		return s.processor.Process(ctx, msg, task)
	})
	if err != nil {
		return nil, transformFailure(err)
	}
	if result.Unchanged {
		return nil, nil
	}

	content := result.Content
	if content != nil && content.Media == nil && strings.TrimSpace(content.Text) == "" {
		return nil, delivery.ErrSkip
	}
	return content, nil
}

// transformFailure 把转换错误映射为投递错误类型
func transformFailure(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case transform.IsPermanent(err):
		return &delivery.FatalError{Op: "transform", Reason: "transform failed", Err: err}
	default:
		return &delivery.RetryableError{Op: "transform", Err: err}
	}
}

func (s *Service) saveRecords(ctx context.Context, msg *models.InboundMessage, report Report) {
	if s.records == nil || len(report.Lanes) == 0 {
		return
	}

	now := time.Now()
	records := make([]*models.DeliveryRecord, 0, len(report.Lanes))
	for _, lane := range report.Lanes {
		record := &models.DeliveryRecord{
			RunID:           report.RunID,
			TaskID:          lane.TaskID,
			SourceChatID:    msg.ChatID,
			SourceMessageID: int64(msg.MessageID),
			TargetChatID:    lane.Target.ID,
			TargetMessageID: lane.TargetMessageID,
			Status:          lane.Status,
			Attempts:        lane.Attempts,
			CreatedAt:       now,
		}
		if lane.Err != nil {
			record.Error = lane.Err.Error()
		}
		if lane.Status == models.DeliveryStatusSuccess && lane.DeleteAfter > 0 {
			at := now.Add(lane.DeleteAfter)
			record.DeleteAt = &at
		}
		records = append(records, record)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordSaveTimeout)
	defer cancel()
	if err := s.records.BulkCreate(saveCtx, records); err != nil {
		logger.L().Errorf("Failed to save delivery records: run_id=%s, error=%v", report.RunID, err)
	}
}

func statusOf(out delivery.Outcome) string {
	switch out.State {
	case delivery.StateSuccess:
		return models.DeliveryStatusSuccess
	case delivery.StateSkipped:
		return models.DeliveryStatusSkipped
	case delivery.StateCancelled:
		if delivery.IsTaskInactive(out.Err) {
			return models.DeliveryStatusDeactivated
		}
		return models.DeliveryStatusCancelled
	default:
		return models.DeliveryStatusFailed
	}
}
