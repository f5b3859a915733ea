package models

import (
	"fmt"
	"time"
)

// MediaKind 媒体类型
type MediaKind string

const (
	MediaNone      MediaKind = ""
	MediaText      MediaKind = "text" // 仅用于过滤配置
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaDocument  MediaKind = "document"
	MediaAnimation MediaKind = "animation"
	MediaSticker   MediaKind = "sticker"
)

// MediaRef 指向平台侧的媒体文件（未下载）
type MediaRef struct {
	Kind      MediaKind
	FileID    string
	FileName  string
	MimeType  string
	FileSize  int64
	Title     string // 音频标题
	Performer string // 音频表演者
}

// InboundMessage 入站消息，接收后不可变
type InboundMessage struct {
	MessageID    int
	ChatID       int64
	ChatTitle    string
	Text         string // 文本或媒体说明
	Media        *MediaRef
	MediaGroupID string
	Forwarded    bool
	HasButtons   bool
	ReceivedAt   time.Time
}

// MessageKey 唯一标识一条入站消息
type MessageKey struct {
	ChatID    int64
	MessageID int
}

func (k MessageKey) String() string {
	return fmt.Sprintf("%d:%d", k.ChatID, k.MessageID)
}

// Key 返回消息标识
func (m *InboundMessage) Key() MessageKey {
	return MessageKey{ChatID: m.ChatID, MessageID: m.MessageID}
}

// MediaKind 返回媒体类型，纯文本为 MediaNone
func (m *InboundMessage) MediaKind() MediaKind {
	if m.Media == nil {
		return MediaNone
	}
	return m.Media.Kind
}

// Content 经流水线处理后的待投递内容
type Content struct {
	Text      string         // HTML 文本
	ParseMode string         // 为空时按纯文本发送
	Media     *MediaRef      // 原始媒体引用（未改动时按 file id 发送）
	Data      []byte         // 处理后的媒体字节，nil 表示沿用原始媒体
	FileName  string         // 处理后的文件名
	Buttons   []InlineButton // 内联按钮
}

// HasProcessedMedia 媒体是否已被重新生成
func (c *Content) HasProcessedMedia() bool {
	return c != nil && len(c.Data) > 0
}
