package telegram

import (
	"context"
	"errors"
	"slices"

	"go_relay/internal/logger"
	"go_relay/internal/relay/models"
	"go_relay/internal/relay/repository"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// asyncHandler 把 handler 放入工作池执行
func (b *Bot) asyncHandler(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, client *bot.Bot, update *botModels.Update) {
		if !b.workerPool.Submit(commandJob{ctx: ctx, client: client, update: update, handler: next}) &&
			update.Message != nil {
			b.sendErrorMessage(ctx, update.Message.Chat.ID, "系统繁忙，请稍后重试")
		}
	}
}

// RequireOwner 中间件：仅允许 Bot Owner 执行
func (b *Bot) RequireOwner(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, client *bot.Bot, update *botModels.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		if !b.isOwner(update.Message.From.ID) {
			logger.L().Warnf("Non-owner user %d attempted to use owner command", update.Message.From.ID)
			b.sendErrorMessage(ctx, update.Message.Chat.ID, "此命令仅限 Bot Owner 使用")
			return
		}
		next(ctx, client, update)
	}
}

// RequirePrivate 中间件：任务命令只在私聊中响应
func (b *Bot) RequirePrivate(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, client *bot.Bot, update *botModels.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		if update.Message.Chat.Type != botModels.ChatTypePrivate {
			return
		}
		next(ctx, client, update)
	}
}

func (b *Bot) isOwner(userID int64) bool {
	return slices.Contains(b.ownerIDs, userID)
}

// ownedTask 读取任务并校验归属；Bot Owner 可访问所有任务
func (b *Bot) ownedTask(ctx context.Context, msg *botModels.Message, taskID int64) (*models.Task, bool) {
	task, err := b.tasks.GetByID(ctx, taskID)
	if err != nil {
		if !errors.Is(err, repository.ErrTaskNotFound) {
			logger.L().Errorf("Failed to load task: task_id=%d error=%v", taskID, err)
			b.sendErrorMessage(ctx, msg.Chat.ID, "查询失败，请稍后重试")
			return nil, false
		}
		b.sendErrorMessage(ctx, msg.Chat.ID, "任务不存在")
		return nil, false
	}
	if task.OwnerID != msg.From.ID && !b.isOwner(msg.From.ID) {
		logger.L().Warnf("User %d attempted to access task %d owned by %d", msg.From.ID, taskID, task.OwnerID)
		b.sendErrorMessage(ctx, msg.Chat.ID, "任务不存在")
		return nil, false
	}
	return task, true
}
