package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go_relay/internal/logger"
	"go_relay/internal/relay/models"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

// apiClient 发送所需的 Bot API 子集（*bot.Bot 实现）
type apiClient interface {
	ForwardMessage(ctx context.Context, params *bot.ForwardMessageParams) (*botModels.Message, error)
	CopyMessage(ctx context.Context, params *bot.CopyMessageParams) (*botModels.MessageID, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*botModels.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*botModels.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*botModels.Message, error)
	SendVoice(ctx context.Context, params *bot.SendVoiceParams) (*botModels.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*botModels.Message, error)
	SendAnimation(ctx context.Context, params *bot.SendAnimationParams) (*botModels.Message, error)
	SendSticker(ctx context.Context, params *bot.SendStickerParams) (*botModels.Message, error)
	PinChatMessage(ctx context.Context, params *bot.PinChatMessageParams) (bool, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*botModels.Message, error)
	EditMessageCaption(ctx context.Context, params *bot.EditMessageCaptionParams) (*botModels.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
}

// Sender 通过 Bot API 投递内容，所有发送共用一个全局速率限制
type Sender struct {
	client  apiClient
	limiter *rate.Limiter
}

// NewSender 创建发送器；ratePerSecond <= 0 时不限速
func NewSender(client apiClient, ratePerSecond int) *Sender {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond)
	}
	return &Sender{client: client, limiter: limiter}
}

// Send 投递到单个目标，返回目标侧消息 ID。content 为 nil 时原样复制（relay 模式为转发）
func (s *Sender) Send(ctx context.Context, task *models.Task, target models.Chat, msg *models.InboundMessage, content *models.Content) (int64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("send rate limiter: %w", err)
	}

	opts := task.Settings.Delivery
	var (
		messageID int64
		err       error
	)
	switch {
	case task.NormalizedMode() == models.ForwardModeRelay:
		messageID, err = s.forward(ctx, target.ID, msg, opts)
	case content == nil:
		messageID, err = s.copy(ctx, target.ID, msg, opts)
	default:
		messageID, err = s.send(ctx, target.ID, content, opts)
	}
	if err != nil {
		return 0, err
	}

	if opts.Pin && messageID != 0 {
		s.pin(ctx, target.ID, messageID)
	}
	return messageID, nil
}

func (s *Sender) forward(ctx context.Context, chatID int64, msg *models.InboundMessage, opts models.DeliverySettings) (int64, error) {
	sent, err := s.client.ForwardMessage(ctx, &bot.ForwardMessageParams{
		ChatID:              chatID,
		FromChatID:          msg.ChatID,
		MessageID:           msg.MessageID,
		DisableNotification: opts.Silent,
	})
	if err != nil {
		return 0, decodeError("forwardMessage", err)
	}
	return int64(sent.ID), nil
}

func (s *Sender) copy(ctx context.Context, chatID int64, msg *models.InboundMessage, opts models.DeliverySettings) (int64, error) {
	sent, err := s.client.CopyMessage(ctx, &bot.CopyMessageParams{
		ChatID:              chatID,
		FromChatID:          msg.ChatID,
		MessageID:           msg.MessageID,
		DisableNotification: opts.Silent,
	})
	if err != nil {
		return 0, decodeError("copyMessage", err)
	}
	return int64(sent.ID), nil
}

func (s *Sender) send(ctx context.Context, chatID int64, content *models.Content, opts models.DeliverySettings) (int64, error) {
	parseMode := botModels.ParseMode(content.ParseMode)
	markup := buildKeyboard(content.Buttons)

	if content.Media == nil {
		params := &bot.SendMessageParams{
			ChatID:              chatID,
			Text:                content.Text,
			ParseMode:           parseMode,
			DisableNotification: opts.Silent,
			ReplyMarkup:         markup,
		}
		if opts.DisableLinkPreview {
			params.LinkPreviewOptions = &botModels.LinkPreviewOptions{IsDisabled: bot.True()}
		}
		sent, err := s.client.SendMessage(ctx, params)
		if err != nil {
			return 0, decodeError("sendMessage", err)
		}
		return int64(sent.ID), nil
	}

	file := inputFile(content)
	var (
		sent *botModels.Message
		err  error
		op   string
	)
	switch content.Media.Kind {
	case models.MediaPhoto:
		op = "sendPhoto"
		sent, err = s.client.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID: chatID, Photo: file, Caption: content.Text, ParseMode: parseMode,
			DisableNotification: opts.Silent, ReplyMarkup: markup,
		})
	case models.MediaVideo:
		op = "sendVideo"
		sent, err = s.client.SendVideo(ctx, &bot.SendVideoParams{
			ChatID: chatID, Video: file, Caption: content.Text, ParseMode: parseMode,
			DisableNotification: opts.Silent, ReplyMarkup: markup,
		})
	case models.MediaAnimation:
		op = "sendAnimation"
		sent, err = s.client.SendAnimation(ctx, &bot.SendAnimationParams{
			ChatID: chatID, Animation: file, Caption: content.Text, ParseMode: parseMode,
			DisableNotification: opts.Silent, ReplyMarkup: markup,
		})
	case models.MediaAudio:
		op = "sendAudio"
		sent, err = s.client.SendAudio(ctx, &bot.SendAudioParams{
			ChatID: chatID, Audio: file, Caption: content.Text, ParseMode: parseMode,
			Title: content.Media.Title, Performer: content.Media.Performer,
			DisableNotification: opts.Silent, ReplyMarkup: markup,
		})
	case models.MediaVoice:
		op = "sendVoice"
		sent, err = s.client.SendVoice(ctx, &bot.SendVoiceParams{
			ChatID: chatID, Voice: file, Caption: content.Text, ParseMode: parseMode,
			DisableNotification: opts.Silent, ReplyMarkup: markup,
		})
	case models.MediaSticker:
		op = "sendSticker"
		sent, err = s.client.SendSticker(ctx, &bot.SendStickerParams{
			ChatID: chatID, Sticker: file,
			DisableNotification: opts.Silent, ReplyMarkup: markup,
		})
	default:
		op = "sendDocument"
		sent, err = s.client.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID: chatID, Document: file, Caption: content.Text, ParseMode: parseMode,
			DisableNotification: opts.Silent, ReplyMarkup: markup,
		})
	}
	if err != nil {
		return 0, decodeError(op, err)
	}
	return int64(sent.ID), nil
}

// inputFile 处理过的媒体重新上传，否则按 file id 复用
func inputFile(content *models.Content) botModels.InputFile {
	if content.HasProcessedMedia() {
		name := content.FileName
		if name == "" {
			name = content.Media.FileName
		}
		if name == "" {
			name = string(content.Media.Kind)
		}
		return &botModels.InputFileUpload{Filename: name, Data: bytes.NewReader(content.Data)}
	}
	return &botModels.InputFileString{Data: content.Media.FileID}
}

func (s *Sender) pin(ctx context.Context, chatID, messageID int64) {
	_, err := s.client.PinChatMessage(ctx, &bot.PinChatMessageParams{
		ChatID:              chatID,
		MessageID:           int(messageID),
		DisableNotification: true,
	})
	if err != nil {
		logger.L().Warnf("Failed to pin message: chat_id=%d, message_id=%d, error=%v", chatID, messageID, err)
	}
}

// Edit 用新文本替换已投递的副本；内容未变化不视为错误
func (s *Sender) Edit(ctx context.Context, task *models.Task, chatID, messageID int64, caption bool, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limiter: %w", err)
	}

	markup := buildKeyboard(task.Settings.Buttons)
	var (
		op  string
		err error
	)
	if caption {
		op = "editMessageCaption"
		_, err = s.client.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
			ChatID:      chatID,
			MessageID:   int(messageID),
			Caption:     text,
			ParseMode:   botModels.ParseModeHTML,
			ReplyMarkup: markup,
		})
	} else {
		op = "editMessageText"
		params := &bot.EditMessageTextParams{
			ChatID:      chatID,
			MessageID:   int(messageID),
			Text:        text,
			ParseMode:   botModels.ParseModeHTML,
			ReplyMarkup: markup,
		}
		if task.Settings.Delivery.DisableLinkPreview {
			params.LinkPreviewOptions = &botModels.LinkPreviewOptions{IsDisabled: bot.True()}
		}
		_, err = s.client.EditMessageText(ctx, params)
	}
	if err != nil && !isBadRequest(err, "message is not modified") {
		return decodeError(op, err)
	}
	return nil
}

// Delete 删除已投递的副本；副本已不存在不视为错误
func (s *Sender) Delete(ctx context.Context, chatID, messageID int64) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limiter: %w", err)
	}

	_, err := s.client.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: int(messageID),
	})
	if err != nil && !isBadRequest(err, "message to delete not found") {
		return decodeError("deleteMessage", err)
	}
	return nil
}

func isBadRequest(err error, description string) bool {
	return errors.Is(err, bot.ErrorBadRequest) && strings.Contains(err.Error(), description)
}
