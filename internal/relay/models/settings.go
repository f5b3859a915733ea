package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// FormatStyle 文本格式
type FormatStyle string

const (
	FormatRegular       FormatStyle = "regular"
	FormatBold          FormatStyle = "bold"
	FormatItalic        FormatStyle = "italic"
	FormatUnderline     FormatStyle = "underline"
	FormatStrikethrough FormatStyle = "strikethrough"
	FormatCode          FormatStyle = "code"
	FormatQuote         FormatStyle = "quote"
	FormatSpoiler       FormatStyle = "spoiler"
	FormatHyperlink     FormatStyle = "hyperlink"
)

// WatermarkPosition 水印位置
type WatermarkPosition string

const (
	PositionTopLeft     WatermarkPosition = "top_left"
	PositionTop         WatermarkPosition = "top"
	PositionTopRight    WatermarkPosition = "top_right"
	PositionCenter      WatermarkPosition = "center"
	PositionBottomLeft  WatermarkPosition = "bottom_left"
	PositionBottom      WatermarkPosition = "bottom"
	PositionBottomRight WatermarkPosition = "bottom_right"
)

// Settings 任务配置包
type Settings struct {
	Filters      FilterSettings       `bson:"filters" json:"filters"`
	TextCleaning TextCleaningSettings `bson:"text_cleaning" json:"text_cleaning"`
	Replacements []Replacement        `bson:"replacements,omitempty" json:"replacements,omitempty"`
	Formatting   FormattingSettings   `bson:"formatting" json:"formatting"`
	HeaderFooter HeaderFooterSettings `bson:"header_footer" json:"header_footer"`
	Buttons      []InlineButton       `bson:"buttons,omitempty" json:"buttons,omitempty"`
	Watermark    WatermarkSettings    `bson:"watermark" json:"watermark"`
	Audio        AudioSettings        `bson:"audio" json:"audio"`
	Delivery     DeliverySettings     `bson:"delivery" json:"delivery"`
}

// FilterSettings 决定消息是否进入流水线
type FilterSettings struct {
	AllowedMedia   []MediaKind `bson:"allowed_media,omitempty" json:"allowed_media,omitempty"` // 为空表示全部允许
	BlockedWords   []string    `bson:"blocked_words,omitempty" json:"blocked_words,omitempty"`
	RequiredWords  []string    `bson:"required_words,omitempty" json:"required_words,omitempty"`
	SkipForwarded  bool        `bson:"skip_forwarded" json:"skip_forwarded"`
	SkipWithButton bool        `bson:"skip_with_buttons" json:"skip_with_buttons"`
}

// TextCleaningSettings 文本清理
type TextCleaningSettings struct {
	RemoveLinks        bool     `bson:"remove_links" json:"remove_links"`
	RemoveEmojis       bool     `bson:"remove_emojis" json:"remove_emojis"`
	RemoveHashtags     bool     `bson:"remove_hashtags" json:"remove_hashtags"`
	RemovePhoneNumbers bool     `bson:"remove_phone_numbers" json:"remove_phone_numbers"`
	RemoveEmptyLines   bool     `bson:"remove_empty_lines" json:"remove_empty_lines"`
	RemoveKeywordLines bool     `bson:"remove_keyword_lines" json:"remove_keyword_lines"`
	Keywords           []string `bson:"keywords,omitempty" json:"keywords,omitempty"`
}

// Replacement 查找替换规则（按顺序执行）
type Replacement struct {
	Find    string `bson:"find" json:"find"`
	Replace string `bson:"replace" json:"replace"`
}

// FormattingSettings 文本格式化
type FormattingSettings struct {
	Enabled       bool        `bson:"enabled" json:"enabled"`
	Style         FormatStyle `bson:"style" json:"style"`
	HyperlinkURL  string      `bson:"hyperlink_url,omitempty" json:"hyperlink_url,omitempty"`
	HyperlinkText string      `bson:"hyperlink_text,omitempty" json:"hyperlink_text,omitempty"`
}

// HeaderFooterSettings 页眉页脚
type HeaderFooterSettings struct {
	HeaderEnabled bool   `bson:"header_enabled" json:"header_enabled"`
	HeaderText    string `bson:"header_text,omitempty" json:"header_text,omitempty"`
	FooterEnabled bool   `bson:"footer_enabled" json:"footer_enabled"`
	FooterText    string `bson:"footer_text,omitempty" json:"footer_text,omitempty"`
}

// InlineButton 内联 URL 按钮
type InlineButton struct {
	Text string `bson:"text" json:"text"`
	URL  string `bson:"url" json:"url"`
	Row  int    `bson:"row" json:"row"`
}

// WatermarkSettings 图片/视频水印
type WatermarkSettings struct {
	Enabled     bool              `bson:"enabled" json:"enabled"`
	Text        string            `bson:"text,omitempty" json:"text,omitempty"`
	Position    WatermarkPosition `bson:"position,omitempty" json:"position,omitempty"`
	FontSize    int               `bson:"font_size,omitempty" json:"font_size,omitempty"`
	Color       string            `bson:"color,omitempty" json:"color,omitempty"`
	Opacity     int               `bson:"opacity,omitempty" json:"opacity,omitempty"` // 0-100
	ApplyPhotos bool              `bson:"apply_photos" json:"apply_photos"`
	ApplyVideos bool              `bson:"apply_videos" json:"apply_videos"`
}

// AudioSettings 音频标签模板与片头片尾合并
type AudioSettings struct {
	Enabled        bool   `bson:"enabled" json:"enabled"`
	TitleTemplate  string `bson:"title_template,omitempty" json:"title_template,omitempty"`
	ArtistTemplate string `bson:"artist_template,omitempty" json:"artist_template,omitempty"`
	AlbumTemplate  string `bson:"album_template,omitempty" json:"album_template,omitempty"`
	IntroPath      string `bson:"intro_path,omitempty" json:"intro_path,omitempty"`
	OutroPath      string `bson:"outro_path,omitempty" json:"outro_path,omitempty"`
}

// DeliverySettings 投递选项，不影响转换结果
type DeliverySettings struct {
	Silent             bool `bson:"silent" json:"silent"`
	DisableLinkPreview bool `bson:"disable_link_preview" json:"disable_link_preview"`
	Pin                bool `bson:"pin" json:"pin"`
	SyncEdit           bool `bson:"sync_edit" json:"sync_edit"`                                         // 源消息编辑后同步到副本（仅 copy 模式）
	SyncDelete         bool `bson:"sync_delete" json:"sync_delete"`                                     // 允许撤回已投递的副本
	AutoDelete         bool `bson:"auto_delete" json:"auto_delete"`                                     // 副本到期自动删除
	AutoDeleteSeconds  int  `bson:"auto_delete_seconds,omitempty" json:"auto_delete_seconds,omitempty"` // 自动删除延迟（秒）
}

const (
	MinAutoDelete = time.Minute
	// 投递记录保留 48 小时，Bot 也只能删除 48 小时内的消息
	MaxAutoDelete = 47 * time.Hour
)

// AutoDeleteAfter 副本的自动删除延迟，未启用时返回 0
func (d DeliverySettings) AutoDeleteAfter() time.Duration {
	if !d.AutoDelete {
		return 0
	}
	return time.Duration(d.AutoDeleteSeconds) * time.Second
}

// Validate 校验投递选项
func (d DeliverySettings) Validate() error {
	if !d.AutoDelete {
		return nil
	}
	after := d.AutoDeleteAfter()
	if after < MinAutoDelete || after > MaxAutoDelete {
		return fmt.Errorf("auto delete delay must be between %s and %s, got %s", MinAutoDelete, MaxAutoDelete, after)
	}
	return nil
}

// WatermarkApplies 判断水印是否作用于该媒体类型
func (w WatermarkSettings) WatermarkApplies(kind MediaKind) bool {
	if !w.Enabled {
		return false
	}
	switch kind {
	case MediaPhoto:
		return w.ApplyPhotos
	case MediaVideo, MediaAnimation:
		return w.ApplyVideos
	default:
		return false
	}
}

// AudioApplies 判断音频处理是否作用于该媒体类型
func (a AudioSettings) AudioApplies(kind MediaKind) bool {
	return a.Enabled && kind == MediaAudio
}

// TransformHash 覆盖所有影响输出内容的字段（不含 Delivery）
func (s Settings) TransformHash() string {
	return hashOf(struct {
		TextCleaning TextCleaningSettings `json:"text_cleaning"`
		Replacements []Replacement        `json:"replacements"`
		Formatting   FormattingSettings   `json:"formatting"`
		HeaderFooter HeaderFooterSettings `json:"header_footer"`
		Buttons      []InlineButton       `json:"buttons"`
		Watermark    WatermarkSettings    `json:"watermark"`
		Audio        AudioSettings        `json:"audio"`
	}{s.TextCleaning, s.Replacements, s.Formatting, s.HeaderFooter, s.Buttons, s.Watermark, s.Audio})
}

// MediaHash 仅覆盖影响媒体产物的字段，供跨任务共享
func (s Settings) MediaHash(kind MediaKind) string {
	switch {
	case s.Watermark.WatermarkApplies(kind):
		return hashOf(struct {
			Kind      MediaKind         `json:"kind"`
			Watermark WatermarkSettings `json:"watermark"`
		}{kind, s.Watermark})
	case s.Audio.AudioApplies(kind):
		return hashOf(struct {
			Kind  MediaKind     `json:"kind"`
			Audio AudioSettings `json:"audio"`
		}{kind, s.Audio})
	default:
		return ""
	}
}

func hashOf(v any) string {
	// encoding/json 对结构体字段顺序固定，结果可重复
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
