package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"go_relay/internal/logger"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
)

// Kind 通知类型
type Kind string

const (
	KindFatal       Kind = "fatal"
	KindExhausted   Kind = "retries_exhausted"
	KindRateLimited Kind = "rate_limited"
)

// Notification 单条投递通道的异常通知
type Notification struct {
	Kind      Kind
	TaskID    int64
	Target    int64
	MessageID int
	Attempts  int
	Reason    string
}

// Notifier 通知通道
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier 仅写日志
type LogNotifier struct{}

// Notify 实现 Notifier
func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	entry := logger.L().WithFields(logrus.Fields{
		"kind":       n.Kind,
		"task_id":    n.TaskID,
		"target_id":  n.Target,
		"message_id": n.MessageID,
		"attempts":   n.Attempts,
	})
	if n.Kind == KindRateLimited {
		entry.Warnf("Delivery repeatedly rate limited: %s", n.Reason)
		return nil
	}
	entry.Errorf("Delivery failed: %s", n.Reason)
	return nil
}

// Multi 依次通知所有通道，汇总错误
type Multi []Notifier

// Notify 实现 Notifier
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MessageSender 发送消息能力（*bot.Bot 实现）
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error)
}

// OwnerLookup 查询任务所有者
type OwnerLookup interface {
	OwnerOf(taskID int64) (int64, bool)
}

// TelegramNotifier 通过机器人私聊通知任务所有者
type TelegramNotifier struct {
	sender   MessageSender
	owners   OwnerLookup
	fallback []int64
	timeout  time.Duration
}

// NewTelegramNotifier 创建 Telegram 通知器；任务所有者未知时通知 fallback 中的管理员
func NewTelegramNotifier(sender MessageSender, owners OwnerLookup, fallback []int64) *TelegramNotifier {
	return &TelegramNotifier{
		sender:   sender,
		owners:   owners,
		fallback: fallback,
		timeout:  10 * time.Second,
	}
}

// Notify 实现 Notifier
func (t *TelegramNotifier) Notify(ctx context.Context, n Notification) error {
	recipients := t.fallback
	if t.owners != nil {
		if owner, ok := t.owners.OwnerOf(n.TaskID); ok && owner != 0 {
			recipients = []int64{owner}
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	text := format(n)
	var errs []error
	for _, chatID := range recipients {
		_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      text,
			ParseMode: botModels.ParseModeHTML,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to notify %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func format(n Notification) string {
	title := "❌ 转发失败"
	switch n.Kind {
	case KindExhausted:
		title = "❌ 转发重试次数已用尽"
	case KindRateLimited:
		title = "⏳ 转发频繁触发限流"
	}
	return fmt.Sprintf("%s\n\n任务: #%d\n目标: <code>%d</code>\n消息: <code>%d</code>\n尝试次数: %d\n原因: %s",
		title, n.TaskID, n.Target, n.MessageID, n.Attempts, html.EscapeString(n.Reason))
}
