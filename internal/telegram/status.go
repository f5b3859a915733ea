package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go_relay/internal/relay/models"
)

const maxStatusLanes = 20

// buildPingMessage 构建 /ping 命令的响应文本
func (b *Bot) buildPingMessage(ctx context.Context) string {
	lines := []string{"🏓 Pong!"}

	if !b.startTime.IsZero() {
		lines = append(lines, fmt.Sprintf("⏱ 运行时间: %s", formatDuration(time.Since(b.startTime))))
	}

	if b.workerPool != nil {
		stats := b.workerPool.Stats()
		lines = append(lines, fmt.Sprintf("🛠 工作池: %d 个协程，队列 %d/%d", stats.Workers, stats.QueueLength, stats.QueueCapacity))
	}

	if b.db != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := b.db.Ping(dbCtx); err != nil {
			lines = append(lines, fmt.Sprintf("🗄 数据库: ⚠️ %s", html.EscapeString(err.Error())))
		} else {
			lines = append(lines, "🗄 数据库: ✅ 正常")
		}
	}

	return strings.Join(lines, "\n")
}

// buildStatusMessage 构建 /status：任务快照、缓存与在途投递
func (b *Bot) buildStatusMessage() string {
	lines := []string{"📊 转发状态"}

	if b.index != nil {
		active, sources, refreshed := b.index.Stats()
		age := "从未"
		if !refreshed.IsZero() {
			age = formatDuration(time.Since(refreshed)) + "前"
		}
		lines = append(lines, fmt.Sprintf("📋 启用任务 %d，源聊天 %d，快照刷新于 %s", active, sources, age))
	}

	if b.cache != nil {
		s := b.cache.Stats()
		lines = append(lines, fmt.Sprintf("🗃 缓存: 消息 %d，条目 %d，计算 %d，命中 %d，失败 %d",
			s.Messages, s.Entries, s.Computes, s.Hits, s.Failures))
	}

	if b.lanes != nil {
		lanes := b.lanes.Snapshot()
		lines = append(lines, fmt.Sprintf("🚚 在途投递: %d", len(lanes)))
		for i, l := range lanes {
			if i == maxStatusLanes {
				lines = append(lines, fmt.Sprintf("… 另有 %d 条", len(lanes)-maxStatusLanes))
				break
			}
			line := fmt.Sprintf("• 任务 #%d → %d 消息 %d: %s (第 %d 次)",
				l.Lane.TaskID, l.Lane.TargetID, l.MessageID, l.State, l.Attempts)
			if !l.NextAttempt.IsZero() {
				line += fmt.Sprintf("，%s 后重试", formatDuration(time.Until(l.NextAttempt)))
			}
			lines = append(lines, line)
		}
	}

	if b.workerPool != nil {
		if dropped := b.workerPool.Stats().Dropped; dropped > 0 {
			lines = append(lines, fmt.Sprintf("⚠️ 已丢弃命令: %d", dropped))
		}
	}

	return strings.Join(lines, "\n")
}

// formatRecords 格式化投递记录列表
func formatRecords(chatID, messageID int64, records []*models.DeliveryRecord) string {
	if len(records) == 0 {
		return fmt.Sprintf("📝 消息 %d/%d 暂无投递记录", chatID, messageID)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "📬 消息 %d/%d 投递记录:\n\n", chatID, messageID)
	for _, r := range records {
		icon := "✅"
		switch r.Status {
		case models.DeliveryStatusFailed:
			icon = "❌"
		case models.DeliveryStatusCancelled:
			icon = "🚫"
		case models.DeliveryStatusSkipped:
			icon = "⏭"
		case models.DeliveryStatusDeactivated:
			icon = "⏸"
		}
		fmt.Fprintf(&text, "%s 任务 #%d → %d (%s, %d 次)", icon, r.TaskID, r.TargetChatID, r.Status, r.Attempts)
		switch {
		case r.DeletedAt != nil && r.DeleteError == "":
			text.WriteString(" 🗑 已删除")
		case r.DeleteAt != nil && r.DeletedAt == nil:
			fmt.Fprintf(&text, " ⏳ %s 删除", r.DeleteAt.Local().Format("01-02 15:04"))
		}
		if r.Error != "" {
			fmt.Fprintf(&text, "\n    %s", html.EscapeString(r.Error))
		}
		if r.DeleteError != "" {
			fmt.Fprintf(&text, "\n    删除失败: %s", html.EscapeString(r.DeleteError))
		}
		text.WriteString("\n")
	}
	return strings.TrimRight(text.String(), "\n")
}

// formatDuration 将持续时间格式化为人类可读的字符串
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := (d - minutes*time.Minute) / time.Second

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d天", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d小时", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d分钟", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d秒", seconds))
	}
	return strings.Join(parts, " ")
}
