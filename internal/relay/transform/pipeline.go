package transform

import (
	"context"
	"errors"
	"strings"

	"go_relay/internal/logger"
	"go_relay/internal/relay/cache"
	"go_relay/internal/relay/models"

	botModels "github.com/go-telegram/bot/models"
)

const sourceMediaHash = "source"

// MediaInput 媒体处理输入
type MediaInput struct {
	Kind      models.MediaKind
	Data      []byte
	FileName  string
	MimeType  string
	Title     string
	Performer string
}

// MediaOutput 媒体处理输出
type MediaOutput struct {
	Data     []byte
	FileName string
}

// AudioTags 渲染后的音频标签
type AudioTags struct {
	Title  string
	Artist string
	Album  string
}

// MediaFetcher downloads the original media bytes from the platform.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, ref *models.MediaRef) ([]byte, error)
}

// Watermarker stamps photos and videos. Returns ErrUnchanged when nothing was applied.
type Watermarker interface {
	Watermark(ctx context.Context, in MediaInput, s models.WatermarkSettings) (MediaOutput, error)
}

// AudioProcessor rewrites audio tags and merges intro/outro clips.
type AudioProcessor interface {
	ProcessAudio(ctx context.Context, in MediaInput, s models.AudioSettings, tags AudioTags) (MediaOutput, error)
}

// Pipeline composes the per-task transform steps:
// text cleaning → replacements → formatting → header/footer → media.
type Pipeline struct {
	cache       *cache.Cache
	fetcher     MediaFetcher
	watermarker Watermarker
	audio       AudioProcessor
}

// NewPipeline 创建流水线；媒体相关依赖可以为 nil，对应步骤会跳过
func NewPipeline(c *cache.Cache, fetcher MediaFetcher, watermarker Watermarker, audio AudioProcessor) *Pipeline {
	return &Pipeline{
		cache:       c,
		fetcher:     fetcher,
		watermarker: watermarker,
		audio:       audio,
	}
}

// Process runs every enabled step for one task. The media step goes through
// the shared cache scope so tasks with identical media settings reuse one artifact.
func (p *Pipeline) Process(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
	if task.NormalizedMode() == models.ForwardModeRelay {
		return cache.Result{Unchanged: true}, nil
	}

	s := task.Settings
	textChanged := textStepsEnabled(s)

	var media cache.Result
	mediaChanged := false
	if msg.Media != nil {
		var err error
		media, err = p.processMedia(ctx, msg, s)
		if err != nil {
			return cache.Result{}, err
		}
		mediaChanged = !media.Unchanged
	}

	if !textChanged && !mediaChanged && len(s.Buttons) == 0 {
		return cache.Result{Unchanged: true}, nil
	}

	content := &models.Content{
		Text:      RenderText(msg.Text, s),
		ParseMode: string(botModels.ParseModeHTML),
		Media:     msg.Media,
		Buttons:   s.Buttons,
	}
	if mediaChanged && media.Content != nil {
		content.Data = media.Content.Data
		content.FileName = media.Filename
	}

	return cache.Result{Content: content, Filename: content.FileName}, nil
}

// RenderText runs the text steps and returns Telegram HTML.
func RenderText(text string, s models.Settings) string {
	if CleaningEnabled(s.TextCleaning) {
		text = CleanText(text, s.TextCleaning)
	}
	text = ApplyReplacements(text, s.Replacements)
	return WrapHeaderFooter(FormatHTML(text, s.Formatting), s.HeaderFooter)
}

func textStepsEnabled(s models.Settings) bool {
	return CleaningEnabled(s.TextCleaning) ||
		len(s.Replacements) > 0 ||
		(s.Formatting.Enabled && s.Formatting.Style != models.FormatRegular) ||
		(s.HeaderFooter.HeaderEnabled && strings.TrimSpace(s.HeaderFooter.HeaderText) != "") ||
		(s.HeaderFooter.FooterEnabled && strings.TrimSpace(s.HeaderFooter.FooterText) != "")
}

func (p *Pipeline) processMedia(ctx context.Context, msg *models.InboundMessage, s models.Settings) (cache.Result, error) {
	kind := msg.MediaKind()
	hash := s.MediaHash(kind)
	if hash == "" {
		return cache.Result{Unchanged: true}, nil
	}

	return p.cache.GetOrCompute(ctx, cache.SharedKey(msg, hash), func(ctx context.Context) (cache.Result, error) {
		var (
			step string
			run  func(in MediaInput) (MediaOutput, error)
		)
		switch {
		case s.Watermark.WatermarkApplies(kind) && p.watermarker != nil:
			step = "watermark"
			run = func(in MediaInput) (MediaOutput, error) {
				return p.watermarker.Watermark(ctx, in, s.Watermark)
			}
		case s.Audio.AudioApplies(kind) && p.audio != nil:
			step = "audio"
			run = func(in MediaInput) (MediaOutput, error) {
				return p.audio.ProcessAudio(ctx, in, s.Audio, renderAudioTags(msg, s.Audio))
			}
		default:
			logger.L().Debugf("Media step enabled without provider: chat_id=%d message_id=%d kind=%s",
				msg.ChatID, msg.MessageID, kind)
			return cache.Result{Unchanged: true}, nil
		}

		data, err := p.source(ctx, msg)
		if err != nil {
			return cache.Result{}, err
		}

		out, err := run(MediaInput{
			Kind:      kind,
			Data:      data,
			FileName:  msg.Media.FileName,
			MimeType:  msg.Media.MimeType,
			Title:     msg.Media.Title,
			Performer: msg.Media.Performer,
		})
		if errors.Is(err, ErrUnchanged) {
			return cache.Result{Unchanged: true}, nil
		}
		if err != nil {
			return cache.Result{}, stepError(step, err)
		}
		if len(out.Data) == 0 {
			return cache.Result{}, permanentError(step, errors.New("provider returned empty output"))
		}

		return cache.Result{
			Content:  &models.Content{Data: out.Data, FileName: out.FileName},
			Filename: out.FileName,
		}, nil
	})
}

// source downloads the original media once per message.
func (p *Pipeline) source(ctx context.Context, msg *models.InboundMessage) ([]byte, error) {
	if p.fetcher == nil {
		return nil, permanentError("fetch", errors.New("no media fetcher configured"))
	}
	r, err := p.cache.GetOrCompute(ctx, cache.SharedKey(msg, sourceMediaHash), func(ctx context.Context) (cache.Result, error) {
		data, err := p.fetcher.FetchMedia(ctx, msg.Media)
		if err != nil {
			return cache.Result{}, stepError("fetch", err)
		}
		return cache.Result{Content: &models.Content{Data: data}, Filename: msg.Media.FileName}, nil
	})
	if err != nil {
		return nil, err
	}
	return r.Content.Data, nil
}

func renderAudioTags(msg *models.InboundMessage, s models.AudioSettings) AudioTags {
	vars := map[string]string{
		"title":     msg.Media.Title,
		"artist":    msg.Media.Performer,
		"file_name": strings.TrimSuffix(msg.Media.FileName, extOf(msg.Media.FileName)),
		"chat":      msg.ChatTitle,
	}
	tags := AudioTags{
		Title:  RenderTemplate(s.TitleTemplate, vars),
		Artist: RenderTemplate(s.ArtistTemplate, vars),
		Album:  RenderTemplate(s.AlbumTemplate, vars),
	}
	if tags.Title == "" {
		tags.Title = msg.Media.Title
	}
	if tags.Artist == "" {
		tags.Artist = msg.Media.Performer
	}
	return tags
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[i:]
	}
	return ""
}
