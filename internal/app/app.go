package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go_relay/internal/config"
	"go_relay/internal/logger"
	"go_relay/internal/media"
	"go_relay/internal/mongo"
	"go_relay/internal/relay/cache"
	"go_relay/internal/relay/delivery"
	"go_relay/internal/relay/forward"
	"go_relay/internal/relay/notify"
	"go_relay/internal/relay/repository"
	"go_relay/internal/relay/resolver"
	"go_relay/internal/relay/transform"
	"go_relay/internal/telegram"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// App 应用服务容器
// 负责管理所有服务的生命周期（初始化、运行、关闭）
type App struct {
	MongoDB     *mongo.Client
	Resolver    *resolver.Resolver
	Relay       *forward.Service
	Sweeper     *forward.Sweeper
	TelegramBot *telegram.Bot
}

// New 按依赖顺序初始化所有服务，任何一步失败都会清理已初始化的部分
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.RequireRuntime(); err != nil {
		return nil, err
	}

	app := &App{}

	mongoClient, err := mongo.InitFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init MongoDB failed: %w", err)
	}
	app.MongoDB = mongoClient
	logger.L().Info("MongoDB initialized successfully")

	db := mongoClient.Database()
	tasks := repository.NewMongoTaskRepository(db)
	records := repository.NewDeliveryRecordRepository(db)
	if err := ensureIndexes(ctx, tasks, records); err != nil {
		app.Close(context.Background())
		return nil, err
	}

	processed := cache.New(cfg.Relay.TransformTimeout)
	app.Resolver = resolver.New(tasks, cfg.Relay.RefreshInterval)

	// Bot 先创建，发送器与下载器需要它的 API 客户端
	lanes := &laneReporter{}
	app.TelegramBot, err = telegram.InitFromConfig(cfg, telegram.Deps{
		DB:      mongoClient,
		Tasks:   tasks,
		Records: records,
		Index:   app.Resolver,
		Lanes:   lanes,
		Cache:   processed,
	})
	if err != nil {
		app.Close(context.Background())
		return nil, fmt.Errorf("init Telegram bot failed: %w", err)
	}
	client := app.TelegramBot.Client()

	notifier := notify.Multi{
		notify.LogNotifier{},
		notify.NewTelegramNotifier(client, app.Resolver, cfg.BotOwnerIDs),
	}
	controller := delivery.NewController(policyFromConfig(cfg.Delivery), app.Resolver, notifier)
	lanes.controller = controller

	var (
		watermarker transform.Watermarker
		audio       transform.AudioProcessor
	)
	ffmpeg := media.NewFFmpeg(cfg.Relay.FFmpegPath)
	if err := ffmpeg.Available(); err != nil {
		logger.L().Warnf("FFmpeg unavailable, media transforms disabled: %v", err)
	} else {
		watermarker, audio = ffmpeg, ffmpeg
	}
	pipeline := transform.NewPipeline(processed, telegram.NewFetcher(client, cfg.Relay.MaxMediaBytes), watermarker, audio)

	sender := telegram.NewSender(client, cfg.Relay.SendRate)
	app.Relay = forward.NewService(
		app.Resolver,
		processed,
		pipeline,
		controller,
		sender,
		records,
		cfg.Relay.DedupWindow,
		forward.WithEditor(sender),
	)
	app.Sweeper = forward.NewSweeper(records, sender, controller, app.Resolver, cfg.Relay.SweepInterval)
	app.TelegramBot.UseRelay(app.Relay)

	return app, nil
}

// Run 启动任务快照、自动删除扫描与 Bot，阻塞直到 ctx 取消，然后等待在途消息结束
func (a *App) Run(ctx context.Context) error {
	if err := a.Resolver.Start(ctx); err != nil {
		return fmt.Errorf("start task resolver failed: %w", err)
	}
	defer a.Resolver.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.TelegramBot.Start(gctx)
	})
	if a.Sweeper != nil {
		a.Sweeper.Start(gctx)
	}
	err := g.Wait()
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}

	logger.L().Info("Waiting for in-flight deliveries to finish...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := a.Relay.Shutdown(shutdownCtx); serr != nil {
		logger.L().Warnf("In-flight deliveries cancelled at shutdown timeout: %v", serr)
	}
	return err
}

// Close 优雅关闭所有服务
func (a *App) Close(ctx context.Context) error {
	if a.MongoDB != nil {
		if err := a.MongoDB.Close(ctx); err != nil {
			return fmt.Errorf("close MongoDB failed: %w", err)
		}
	}
	return nil
}

func ensureIndexes(ctx context.Context, tasks repository.TaskRepository, records repository.DeliveryRecordRepository) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return errors.Join(
		wrap("tasks", tasks.EnsureIndexes(ctx)),
		wrap("delivery records", records.EnsureIndexes(ctx)),
	)
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ensure %s indexes: %w", what, err)
}

func policyFromConfig(c config.DeliveryConfig) delivery.Policy {
	p := delivery.DefaultPolicy()
	p.AttemptTimeout = c.AttemptTimeout
	p.MaxAttempts = c.MaxAttempts
	p.MaxRateLimitWaits = c.MaxRateLimitWaits
	p.RateLimitBuffer = c.RateLimitBuffer
	p.FallbackBase = c.RateLimitFallbackBase
	p.FallbackStep = c.RateLimitFallbackStep
	p.FallbackCeiling = c.RateLimitFallbackCeiling
	p.RetryBase = c.RetryBase
	p.RetryCeiling = c.RetryCeiling
	p.NotifyThreshold = c.RateLimitNotifyThreshold
	return p
}

// laneReporter 延迟绑定的通道状态来源（控制器依赖 Bot 客户端，晚于 Bot 创建）
type laneReporter struct {
	controller *delivery.Controller
}

func (l *laneReporter) Snapshot() []delivery.LaneStatus {
	if l.controller == nil {
		return nil
	}
	return l.controller.Snapshot()
}
