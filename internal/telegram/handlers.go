package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"go_relay/internal/logger"
	"go_relay/internal/relay/models"
	"go_relay/internal/relay/repository"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
	"go.mongodb.org/mongo-driver/bson"
)

// registerHandlers 注册所有命令处理器（经工作池异步执行）
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact,
		b.asyncHandler(b.handleStart))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/ping", bot.MatchTypeExact,
		b.asyncHandler(b.handlePing))

	// 任务命令（仅任务所有者可操作自己的任务）
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/tasks", bot.MatchTypeExact,
		b.asyncHandler(b.RequirePrivate(b.handleListTasks)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/toggle", bot.MatchTypePrefix,
		b.asyncHandler(b.RequirePrivate(b.handleToggleTask)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/settings", bot.MatchTypePrefix,
		b.asyncHandler(b.RequirePrivate(b.handleTaskSettings)))
	// 须在 /settings 之后注册
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/set", bot.MatchTypePrefix,
		b.asyncHandler(b.RequirePrivate(b.handleSetOption)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/delete", bot.MatchTypePrefix,
		b.asyncHandler(b.RequirePrivate(b.handleDeleteTask)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/retract", bot.MatchTypePrefix,
		b.asyncHandler(b.RequirePrivate(b.handleRetract)))

	// 运维命令（仅 Owner）
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleStatus)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/records", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleRecords)))

	logger.L().Debug("All handlers registered with async execution")
}

// handleStart 处理 /start 命令
func (b *Bot) handleStart(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	text := fmt.Sprintf(
		"👋 你好, %s!\n\n可用命令:\n"+
			"/tasks - 查看我的转发任务\n"+
			"/toggle &lt;id&gt; - 启用/停用任务\n"+
			"/settings &lt;id&gt; - 查看任务配置\n"+
			"/set &lt;id&gt; &lt;选项&gt; &lt;值&gt; - 修改投递选项\n"+
			"/delete &lt;id&gt; - 删除任务\n"+
			"/retract &lt;chat_id&gt; &lt;message_id&gt; - 撤回已转发的副本\n"+
			"/ping - 测试连接",
		html.EscapeString(update.Message.From.FirstName),
	)
	b.sendMessage(ctx, update.Message.Chat.ID, text)
}

// handlePing 处理 /ping 命令
func (b *Bot) handlePing(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}
	b.sendMessage(ctx, update.Message.Chat.ID, b.buildPingMessage(ctx))
}

// handleListTasks 处理 /tasks 命令
func (b *Bot) handleListTasks(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID
	tasks, err := b.tasks.ListByOwner(ctx, update.Message.From.ID)
	if err != nil {
		logger.L().Errorf("Failed to list tasks: owner=%d error=%v", update.Message.From.ID, err)
		b.sendErrorMessage(ctx, chatID, "查询失败，请稍后重试")
		return
	}
	if len(tasks) == 0 {
		b.sendMessage(ctx, chatID, "📝 暂无转发任务")
		return
	}

	var text strings.Builder
	text.WriteString("📋 转发任务:\n\n")
	for _, task := range tasks {
		state := "⏸"
		if task.Active {
			state = "▶️"
		}
		fmt.Fprintf(&text, "%s <b>#%d</b> %s [%s] 源 %d / 目标 %d\n",
			state, task.ID, html.EscapeString(task.Name), task.NormalizedMode(),
			len(task.Sources), len(task.Targets))
	}
	b.sendMessage(ctx, chatID, text.String())
}

// handleToggleTask 处理 /toggle 命令（切换启用状态并立即刷新快照）
func (b *Bot) handleToggleTask(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID
	taskID, ok := b.parseTaskID(ctx, update.Message, "/toggle")
	if !ok {
		return
	}

	task, ok := b.ownedTask(ctx, update.Message, taskID)
	if !ok {
		return
	}

	active := !task.Active
	if err := b.tasks.SetActive(ctx, task.OwnerID, task.ID, active); err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			b.sendErrorMessage(ctx, chatID, "任务不存在")
			return
		}
		logger.L().Errorf("Failed to toggle task: task_id=%d error=%v", task.ID, err)
		b.sendErrorMessage(ctx, chatID, err.Error())
		return
	}

	b.refreshIndex(ctx, "toggle")

	state := "已停用"
	if active {
		state = "已启用"
	}
	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf("任务 #%d %s", task.ID, state))
}

// handleTaskSettings 处理 /settings 命令
func (b *Bot) handleTaskSettings(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID
	taskID, ok := b.parseTaskID(ctx, update.Message, "/settings")
	if !ok {
		return
	}
	if _, ok := b.ownedTask(ctx, update.Message, taskID); !ok {
		return
	}

	settings, err := b.tasks.GetSettings(ctx, taskID)
	if err != nil {
		logger.L().Errorf("Failed to load settings: task_id=%d error=%v", taskID, err)
		b.sendErrorMessage(ctx, chatID, "读取配置失败")
		return
	}

	data, err := bson.MarshalExtJSONIndent(settings, false, false, "", "  ")
	if err != nil {
		b.sendErrorMessage(ctx, chatID, "配置格式化失败")
		return
	}
	b.sendMessage(ctx, chatID, fmt.Sprintf("⚙️ 任务 #%d 配置:\n<pre>%s</pre>", taskID, html.EscapeString(string(data))))
}

// handleStatus 处理 /status 命令
func (b *Bot) handleStatus(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	b.sendMessage(ctx, update.Message.Chat.ID, b.buildStatusMessage())
}

// handleRecords 处理 /records 命令（查询某条源消息的投递记录）
func (b *Bot) handleRecords(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID
	parts := strings.Fields(update.Message.Text)
	if len(parts) < 3 {
		b.sendErrorMessage(ctx, chatID, "用法: /records &lt;chat_id&gt; &lt;message_id&gt;")
		return
	}
	sourceChat, err1 := strconv.ParseInt(parts[1], 10, 64)
	messageID, err2 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil {
		b.sendErrorMessage(ctx, chatID, "无效的参数")
		return
	}

	records, err := b.records.ListByMessage(ctx, sourceChat, messageID)
	if err != nil {
		logger.L().Errorf("Failed to list delivery records: chat=%d message=%d error=%v", sourceChat, messageID, err)
		b.sendErrorMessage(ctx, chatID, "查询失败")
		return
	}
	b.sendMessage(ctx, chatID, formatRecords(sourceChat, messageID, records))
}

// parseTaskID 解析 "<command> <id>"，失败时回复用法
func (b *Bot) parseTaskID(ctx context.Context, msg *botModels.Message, command string) (int64, bool) {
	parts := strings.Fields(msg.Text)
	if len(parts) < 2 {
		b.sendErrorMessage(ctx, msg.Chat.ID, fmt.Sprintf("用法: %s &lt;task_id&gt;", command))
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		b.sendErrorMessage(ctx, msg.Chat.ID, "无效的任务 ID")
		return 0, false
	}
	return id, true
}

// handleSetOption 处理 /set 命令（修改投递选项）
func (b *Bot) handleSetOption(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID
	parts := strings.Fields(update.Message.Text)
	if len(parts) != 4 || parts[0] != "/set" {
		b.sendErrorMessage(ctx, chatID, "用法: /set &lt;task_id&gt; &lt;选项&gt; &lt;值&gt;\n选项: "+strings.Join(deliveryOptions, ", "))
		return
	}
	taskID, ok := b.parseTaskID(ctx, update.Message, "/set")
	if !ok {
		return
	}
	task, ok := b.ownedTask(ctx, update.Message, taskID)
	if !ok {
		return
	}

	settings, err := b.tasks.GetSettings(ctx, task.ID)
	if err != nil {
		logger.L().Errorf("Failed to load settings: task_id=%d error=%v", task.ID, err)
		b.sendErrorMessage(ctx, chatID, "读取配置失败")
		return
	}
	next := *settings
	if err := applyDeliveryOption(&next.Delivery, parts[2], parts[3]); err != nil {
		b.sendErrorMessage(ctx, chatID, html.EscapeString(err.Error()))
		return
	}

	updated := *task
	updated.Settings = next
	if err := updated.Validate(); err != nil {
		b.sendErrorMessage(ctx, chatID, html.EscapeString(err.Error()))
		return
	}

	if err := b.tasks.UpdateSettings(ctx, task.OwnerID, task.ID, next); err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			b.sendErrorMessage(ctx, chatID, "任务不存在")
			return
		}
		logger.L().Errorf("Failed to update settings: task_id=%d error=%v", task.ID, err)
		b.sendErrorMessage(ctx, chatID, "保存配置失败")
		return
	}
	b.refreshIndex(ctx, "set")

	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf("任务 #%d 已更新 %s = %s", task.ID, parts[2], html.EscapeString(parts[3])))
}

// handleDeleteTask 处理 /delete 命令
func (b *Bot) handleDeleteTask(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID
	taskID, ok := b.parseTaskID(ctx, update.Message, "/delete")
	if !ok {
		return
	}
	task, ok := b.ownedTask(ctx, update.Message, taskID)
	if !ok {
		return
	}

	if err := b.tasks.Delete(ctx, task.OwnerID, task.ID); err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			b.sendErrorMessage(ctx, chatID, "任务不存在")
			return
		}
		logger.L().Errorf("Failed to delete task: task_id=%d error=%v", task.ID, err)
		b.sendErrorMessage(ctx, chatID, "删除失败，请稍后重试")
		return
	}
	b.refreshIndex(ctx, "delete")

	logger.L().Infof("Task deleted: task_id=%d by=%d", task.ID, update.Message.From.ID)
	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf("任务 #%d 已删除", task.ID))
}

// handleRetract 处理 /retract 命令：任务所有者撤回自己任务的副本，Bot Owner 撤回全部
func (b *Bot) handleRetract(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID
	parts := strings.Fields(update.Message.Text)
	if len(parts) < 3 {
		b.sendErrorMessage(ctx, chatID, "用法: /retract &lt;chat_id&gt; &lt;message_id&gt;")
		return
	}
	sourceChat, err1 := strconv.ParseInt(parts[1], 10, 64)
	messageID, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		b.sendErrorMessage(ctx, chatID, "无效的参数")
		return
	}
	if b.relay == nil {
		b.sendErrorMessage(ctx, chatID, "转发服务未启动")
		return
	}

	requester := update.Message.From.ID
	if b.isOwner(requester) {
		requester = 0
	}
	report, err := b.relay.Retract(ctx, models.MessageKey{ChatID: sourceChat, MessageID: messageID}, requester)
	if err != nil {
		b.sendErrorMessage(ctx, chatID, html.EscapeString(err.Error()))
		return
	}
	if len(report.Lanes) == 0 {
		b.sendMessage(ctx, chatID, "📝 没有可撤回的副本（需开启 sync_delete）")
		return
	}
	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf("已撤回 %d 个副本，失败 %d",
		report.Count(models.DeliveryStatusSuccess), len(report.Lanes)-report.Count(models.DeliveryStatusSuccess)))
}

// refreshIndex 任务变更后立即刷新快照
func (b *Bot) refreshIndex(ctx context.Context, after string) {
	if b.index == nil {
		return
	}
	if err := b.index.Refresh(ctx); err != nil {
		logger.L().Warnf("Task snapshot refresh after %s failed: %v", after, err)
	}
}
