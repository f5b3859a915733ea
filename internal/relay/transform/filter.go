package transform

import (
	"slices"
	"strings"

	"go_relay/internal/relay/models"
)

// Decision 过滤结果
type Decision struct {
	Skip   bool
	Reason string
}

// Evaluate 判断消息是否应被该任务跳过；跳过不是错误
func Evaluate(msg *models.InboundMessage, filters models.FilterSettings) Decision {
	if filters.SkipForwarded && msg.Forwarded {
		return Decision{Skip: true, Reason: "forwarded message"}
	}
	if filters.SkipWithButton && msg.HasButtons {
		return Decision{Skip: true, Reason: "message has inline buttons"}
	}

	if len(filters.AllowedMedia) > 0 {
		kind := msg.MediaKind()
		if kind == models.MediaNone {
			kind = models.MediaText
		}
		if !slices.Contains(filters.AllowedMedia, kind) {
			return Decision{Skip: true, Reason: "media type " + string(kind) + " not allowed"}
		}
	}

	text := strings.ToLower(msg.Text)
	for _, word := range filters.BlockedWords {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" && strings.Contains(text, word) {
			return Decision{Skip: true, Reason: "blocked word " + word}
		}
	}

	if len(filters.RequiredWords) > 0 {
		matched := false
		for _, word := range filters.RequiredWords {
			word = strings.ToLower(strings.TrimSpace(word))
			if word != "" && strings.Contains(text, word) {
				matched = true
				break
			}
		}
		if !matched {
			return Decision{Skip: true, Reason: "no required word"}
		}
	}

	return Decision{}
}
