package telegram

import (
	"context"
	"fmt"
	"time"

	"go_relay/internal/config"
	"go_relay/internal/logger"
	"go_relay/internal/relay/cache"
	"go_relay/internal/relay/delivery"
	"go_relay/internal/relay/forward"
	"go_relay/internal/relay/models"
	"go_relay/internal/relay/repository"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// Config Telegram Bot 配置
type Config struct {
	Token     string  // Bot Token
	OwnerIDs  []int64 // Owner 用户 IDs
	Debug     bool    // 是否开启调试模式
	Workers   int     // 命令处理协程数
	QueueSize int     // 命令队列长度
}

// Relay 接收入站消息的转发核心
type Relay interface {
	Dispatch(ctx context.Context, msg *models.InboundMessage)
	DispatchEdit(ctx context.Context, msg *models.InboundMessage)
	Retract(ctx context.Context, key models.MessageKey, requester int64) (forward.Report, error)
}

// Pinger 数据库连通性检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// TaskIndex 任务快照
type TaskIndex interface {
	Refresh(ctx context.Context) error
	Stats() (activeTasks, sources int, refreshedAt time.Time)
}

// LaneReporter 在途投递通道
type LaneReporter interface {
	Snapshot() []delivery.LaneStatus
}

// CacheReporter 处理缓存统计
type CacheReporter interface {
	Stats() cache.Stats
}

// Deps Bot 依赖的服务
type Deps struct {
	DB      Pinger
	Tasks   repository.TaskRepository
	Records repository.DeliveryRecordRepository
	Index   TaskIndex
	Lanes   LaneReporter
	Cache   CacheReporter
}

// messageAPI 命令回复所需的 Bot API
type messageAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error)
}

// Bot Telegram 传输层：接收 update，执行管理命令，把频道消息交给转发核心
type Bot struct {
	bot      *bot.Bot
	api      messageAPI
	ownerIDs []int64

	db      Pinger
	tasks   repository.TaskRepository
	records repository.DeliveryRecordRepository
	index   TaskIndex
	lanes   LaneReporter
	cache   CacheReporter
	relay   Relay

	workerPool *WorkerPool
	startTime  time.Time
}

// New 创建 Telegram Bot 实例
func New(cfg Config, deps Deps) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}

	b := &Bot{
		ownerIDs: cfg.OwnerIDs,
		db:       deps.DB,
		tasks:    deps.Tasks,
		records:  deps.Records,
		index:    deps.Index,
		lanes:    deps.Lanes,
		cache:    deps.Cache,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.handleUpdate),
		bot.WithAllowedUpdates(bot.AllowedUpdates{"message", "channel_post", "edited_message", "edited_channel_post"}),
	}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	client, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	b.bot = client
	b.api = client

	queueSize := cfg.QueueSize
	if queueSize == 0 {
		queueSize = cfg.Workers * 16
	}
	b.workerPool = NewWorkerPool(cfg.Workers, queueSize)
	b.workerPool.onPanic = func(job commandJob, _ any) {
		if job.update.Message != nil {
			b.sendErrorMessage(job.ctx, job.update.Message.Chat.ID, "服务器内部错误，请稍后重试")
		}
	}

	b.registerHandlers()

	logger.L().Info("Telegram bot initialized successfully")
	return b, nil
}

// InitFromConfig 从应用配置初始化 Telegram Bot
func InitFromConfig(cfg *config.Config, deps Deps) (*Bot, error) {
	return New(Config{
		Token:    cfg.TelegramToken,
		OwnerIDs: cfg.BotOwnerIDs,
		Debug:    cfg.LogLevel == "debug",
		Workers:  cfg.Relay.Workers,
	}, deps)
}

// Client 返回底层 Bot API 客户端
func (b *Bot) Client() *bot.Bot {
	return b.bot
}

// UseRelay 设置转发核心，须在 Start 之前调用
func (b *Bot) UseRelay(relay Relay) {
	b.relay = relay
}

// Start 启动轮询（阻塞直到 ctx 取消）
func (b *Bot) Start(ctx context.Context) error {
	if b.relay == nil {
		return fmt.Errorf("relay is not configured")
	}

	b.startTime = time.Now()
	logger.L().Info("Starting Telegram bot...")
	b.bot.Start(ctx)

	b.workerPool.Shutdown()
	logger.L().Info("Telegram bot stopped")
	return nil
}

// handleUpdate 未匹配命令的 update：频道/群消息进入转发，编辑进入编辑同步
func (b *Bot) handleUpdate(ctx context.Context, _ *bot.Bot, update *botModels.Update) {
	msg, edited := update.ChannelPost, false
	switch {
	case msg != nil:
	case update.Message != nil:
		msg = update.Message
	case update.EditedChannelPost != nil:
		msg, edited = update.EditedChannelPost, true
	case update.EditedMessage != nil:
		msg, edited = update.EditedMessage, true
	}
	if msg == nil || msg.Chat.Type == botModels.ChatTypePrivate {
		return
	}

	in := toInboundMessage(msg)
	if in == nil {
		logger.L().Debugf("Unsupported message ignored: chat_id=%d message_id=%d", msg.Chat.ID, msg.ID)
		return
	}
	if edited {
		b.relay.DispatchEdit(ctx, in)
		return
	}
	if in.MediaGroupID != "" {
		logger.L().Debugf("Relaying media group item individually: chat_id=%d message_id=%d group=%s",
			in.ChatID, in.MessageID, in.MediaGroupID)
	}
	b.relay.Dispatch(ctx, in)
}
