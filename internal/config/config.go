package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config 应用程序配置
type Config struct {
	TelegramToken string  `envconfig:"TELEGRAM_TOKEN"`                   // Telegram Bot API Token
	BotOwnerIDs   []int64 `envconfig:"BOT_OWNER_IDS"`                    // Bot管理员ID列表
	MongoURI      string  `envconfig:"MONGO_URI"`                        // MongoDB连接URI
	MongoDBName   string  `envconfig:"MONGO_DB_NAME" default:"go_relay"` // MongoDB数据库名称
	LogLevel      string  `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string  `envconfig:"LOG_FORMAT" default:"text"`

	Relay    RelayConfig    `envconfig:"RELAY"`    // 字段键名带 RELAY_ 前缀
	Delivery DeliveryConfig `envconfig:"DELIVERY"` // 字段键名带 DELIVERY_ 前缀
}

// RelayConfig 转发流水线配置
type RelayConfig struct {
	RefreshInterval  time.Duration `envconfig:"REFRESH_INTERVAL" default:"30s"`     // 任务快照刷新周期
	DedupWindow      time.Duration `envconfig:"DEDUP_WINDOW" default:"10m"`         // 重复消息抑制窗口
	TransformTimeout time.Duration `envconfig:"TRANSFORM_TIMEOUT" default:"2m"`     // 单次转换超时
	SendRate         int           `envconfig:"SEND_RATE" default:"25"`             // 全局每秒发送上限
	MaxMediaBytes    int64         `envconfig:"MAX_MEDIA_BYTES" default:"20971520"` // 下载媒体大小上限
	Workers          int           `envconfig:"COMMAND_WORKERS" default:"8"`        // 命令处理协程数
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`       // 自动删除扫描周期
	FFmpegPath       string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
}

// DeliveryConfig 投递与退避配置
type DeliveryConfig struct {
	AttemptTimeout           time.Duration `envconfig:"ATTEMPT_TIMEOUT" default:"60s"`
	MaxAttempts              int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	MaxRateLimitWaits        int           `envconfig:"MAX_RATE_LIMIT_WAITS" default:"10"`
	RateLimitBuffer          time.Duration `envconfig:"RATE_LIMIT_BUFFER" default:"1s"`
	RateLimitFallbackBase    time.Duration `envconfig:"RATE_LIMIT_FALLBACK_BASE" default:"30s"`
	RateLimitFallbackStep    time.Duration `envconfig:"RATE_LIMIT_FALLBACK_STEP" default:"30s"`
	RateLimitFallbackCeiling time.Duration `envconfig:"RATE_LIMIT_FALLBACK_CEILING" default:"15m"`
	RetryBase                time.Duration `envconfig:"RETRY_BASE" default:"1s"`
	RetryCeiling             time.Duration `envconfig:"RETRY_CEILING" default:"30s"`
	RateLimitNotifyThreshold int           `envconfig:"RATE_LIMIT_NOTIFY_THRESHOLD" default:"3"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	cfg.MongoURI = strings.TrimSpace(cfg.MongoURI)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	if c.MongoDBName == "" {
		return fmt.Errorf("MONGO_DB_NAME cannot be empty")
	}
	if c.Relay.RefreshInterval < time.Second {
		return fmt.Errorf("RELAY_REFRESH_INTERVAL must be >= 1s, got %v", c.Relay.RefreshInterval)
	}
	if c.Relay.SendRate < 1 {
		return fmt.Errorf("RELAY_SEND_RATE must be >= 1, got %d", c.Relay.SendRate)
	}
	if c.Relay.Workers < 1 {
		return fmt.Errorf("RELAY_COMMAND_WORKERS must be >= 1, got %d", c.Relay.Workers)
	}
	if c.Relay.SweepInterval < time.Second {
		return fmt.Errorf("RELAY_SWEEP_INTERVAL must be >= 1s, got %v", c.Relay.SweepInterval)
	}
	if c.Delivery.MaxAttempts < 1 {
		return fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be >= 1, got %d", c.Delivery.MaxAttempts)
	}
	if c.Delivery.MaxRateLimitWaits < 0 {
		return fmt.Errorf("DELIVERY_MAX_RATE_LIMIT_WAITS must be >= 0, got %d", c.Delivery.MaxRateLimitWaits)
	}
	if c.Delivery.RateLimitBuffer < 0 {
		return fmt.Errorf("DELIVERY_RATE_LIMIT_BUFFER must be >= 0, got %v", c.Delivery.RateLimitBuffer)
	}
	if c.Delivery.RateLimitFallbackCeiling < c.Delivery.RateLimitFallbackBase {
		return fmt.Errorf("DELIVERY_RATE_LIMIT_FALLBACK_CEILING (%v) must be >= base (%v)",
			c.Delivery.RateLimitFallbackCeiling, c.Delivery.RateLimitFallbackBase)
	}
	if c.Delivery.RetryCeiling < c.Delivery.RetryBase {
		return fmt.Errorf("DELIVERY_RETRY_CEILING (%v) must be >= base (%v)",
			c.Delivery.RetryCeiling, c.Delivery.RetryBase)
	}
	return nil
}

// RequireRuntime 检查运行 Bot 所需的连接参数
func (c *Config) RequireRuntime() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	return nil
}
