package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go_relay/internal/app"
	"go_relay/internal/config"
	"go_relay/internal/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version 可在构建时通过 -ldflags "-X main.version=..." 覆盖
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "go_relay",
	Short:         "Telegram 频道转发机器人",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "启动机器人并开始转发",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger.Configure(cfg.LogLevel, cfg.LogFormat)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		application, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := application.Close(closeCtx); err != nil {
				logger.L().Errorf("关闭服务失败: %v", err)
			}
		}()

		logger.L().Infof("go_relay %s started", version)
		return application.Run(ctx)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "校验并打印当前环境配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), describeConfig(cfg))
		if err := cfg.RequireRuntime(); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("\n⚠️ %v", err))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}

// describeConfig 输出配置摘要，凭据只显示是否已设置
func describeConfig(cfg *config.Config) string {
	var b strings.Builder
	line := func(key string, value any) {
		fmt.Fprintf(&b, "%s %v\n", color.CyanString("%-36s", key), value)
	}

	line("TELEGRAM_TOKEN", mask(cfg.TelegramToken))
	line("BOT_OWNER_IDS", cfg.BotOwnerIDs)
	line("MONGO_URI", mask(cfg.MongoURI))
	line("MONGO_DB_NAME", cfg.MongoDBName)
	line("LOG_LEVEL", cfg.LogLevel)
	line("LOG_FORMAT", cfg.LogFormat)

	r := cfg.Relay
	line("RELAY_REFRESH_INTERVAL", r.RefreshInterval)
	line("RELAY_DEDUP_WINDOW", r.DedupWindow)
	line("RELAY_TRANSFORM_TIMEOUT", r.TransformTimeout)
	line("RELAY_SEND_RATE", r.SendRate)
	line("RELAY_MAX_MEDIA_BYTES", r.MaxMediaBytes)
	line("RELAY_COMMAND_WORKERS", r.Workers)
	line("RELAY_FFMPEG_PATH", r.FFmpegPath)

	d := cfg.Delivery
	line("DELIVERY_ATTEMPT_TIMEOUT", d.AttemptTimeout)
	line("DELIVERY_MAX_ATTEMPTS", d.MaxAttempts)
	line("DELIVERY_MAX_RATE_LIMIT_WAITS", d.MaxRateLimitWaits)
	line("DELIVERY_RATE_LIMIT_BUFFER", d.RateLimitBuffer)
	line("DELIVERY_RATE_LIMIT_FALLBACK_BASE", d.RateLimitFallbackBase)
	line("DELIVERY_RATE_LIMIT_FALLBACK_STEP", d.RateLimitFallbackStep)
	line("DELIVERY_RATE_LIMIT_FALLBACK_CEILING", d.RateLimitFallbackCeiling)
	line("DELIVERY_RETRY_BASE", d.RetryBase)
	line("DELIVERY_RETRY_CEILING", d.RetryCeiling)
	line("DELIVERY_RATE_LIMIT_NOTIFY_THRESHOLD", d.RateLimitNotifyThreshold)
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "(未设置)"
	}
	return "(已设置)"
}
