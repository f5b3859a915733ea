package telegram

import (
	"slices"
	"time"

	"go_relay/internal/relay/models"

	botModels "github.com/go-telegram/bot/models"
)

// toInboundMessage 将 Bot API 消息转换为入站消息；不支持的消息返回 nil
func toInboundMessage(msg *botModels.Message) *models.InboundMessage {
	if msg == nil {
		return nil
	}

	in := &models.InboundMessage{
		MessageID:    msg.ID,
		ChatID:       msg.Chat.ID,
		ChatTitle:    msg.Chat.Title,
		Text:         msg.Text,
		Media:        mediaOf(msg),
		MediaGroupID: msg.MediaGroupID,
		Forwarded:    msg.ForwardOrigin != nil,
		HasButtons:   hasInlineButtons(msg.ReplyMarkup),
		ReceivedAt:   time.Now(),
	}
	if in.Media != nil {
		in.Text = msg.Caption
	}
	if in.Text == "" && in.Media == nil {
		return nil
	}
	return in
}

func mediaOf(msg *botModels.Message) *models.MediaRef {
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		return &models.MediaRef{
			Kind:     models.MediaPhoto,
			FileID:   largest.FileID,
			FileSize: int64(largest.FileSize),
		}
	case msg.Video != nil:
		return &models.MediaRef{
			Kind:     models.MediaVideo,
			FileID:   msg.Video.FileID,
			FileName: msg.Video.FileName,
			MimeType: msg.Video.MimeType,
			FileSize: int64(msg.Video.FileSize),
		}
	case msg.Animation != nil:
		return &models.MediaRef{
			Kind:     models.MediaAnimation,
			FileID:   msg.Animation.FileID,
			FileName: msg.Animation.FileName,
			MimeType: msg.Animation.MimeType,
			FileSize: int64(msg.Animation.FileSize),
		}
	case msg.Audio != nil:
		return &models.MediaRef{
			Kind:      models.MediaAudio,
			FileID:    msg.Audio.FileID,
			FileName:  msg.Audio.FileName,
			MimeType:  msg.Audio.MimeType,
			FileSize:  int64(msg.Audio.FileSize),
			Title:     msg.Audio.Title,
			Performer: msg.Audio.Performer,
		}
	case msg.Voice != nil:
		return &models.MediaRef{
			Kind:     models.MediaVoice,
			FileID:   msg.Voice.FileID,
			MimeType: msg.Voice.MimeType,
			FileSize: int64(msg.Voice.FileSize),
		}
	case msg.Document != nil:
		return &models.MediaRef{
			Kind:     models.MediaDocument,
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
			MimeType: msg.Document.MimeType,
			FileSize: int64(msg.Document.FileSize),
		}
	case msg.Sticker != nil:
		return &models.MediaRef{
			Kind:     models.MediaSticker,
			FileID:   msg.Sticker.FileID,
			FileSize: int64(msg.Sticker.FileSize),
		}
	default:
		return nil
	}
}

func hasInlineButtons(markup any) bool {
	switch m := markup.(type) {
	case *botModels.InlineKeyboardMarkup:
		return m != nil && len(m.InlineKeyboard) > 0
	case botModels.InlineKeyboardMarkup:
		return len(m.InlineKeyboard) > 0
	default:
		return false
	}
}

// buildKeyboard 按行号分组内联按钮，行内保持配置顺序
func buildKeyboard(buttons []models.InlineButton) botModels.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}

	rows := make(map[int][]botModels.InlineKeyboardButton)
	order := make([]int, 0)
	for _, btn := range buttons {
		if btn.Text == "" || btn.URL == "" {
			continue
		}
		if _, ok := rows[btn.Row]; !ok {
			order = append(order, btn.Row)
		}
		rows[btn.Row] = append(rows[btn.Row], botModels.InlineKeyboardButton{Text: btn.Text, URL: btn.URL})
	}
	if len(order) == 0 {
		return nil
	}

	slices.Sort(order)
	keyboard := make([][]botModels.InlineKeyboardButton, 0, len(order))
	for _, row := range order {
		keyboard = append(keyboard, rows[row])
	}
	return &botModels.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}
