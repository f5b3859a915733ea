package transform

import (
	"html"
	"regexp"
	"strings"

	"go_relay/internal/relay/models"
)

var (
	linkPattern    = regexp.MustCompile(`(?i)(?:https?://|www\.|t\.me/|telegram\.me/)\S+`)
	hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	phonePattern   = regexp.MustCompile(`\+?\d[\d\s\-()]{6,}\d`)
	emojiPattern   = regexp.MustCompile(`[\x{1F000}-\x{1FAFF}\x{2600}-\x{27BF}\x{2B00}-\x{2BFF}\x{1F1E6}-\x{1F1FF}\x{FE0F}\x{200D}\x{20E3}]`)
	spacesPattern  = regexp.MustCompile(`[ \t]{2,}`)
)

// CleanText 按配置清理纯文本
func CleanText(text string, s models.TextCleaningSettings) string {
	if text == "" {
		return text
	}

	if s.RemoveLinks {
		text = linkPattern.ReplaceAllString(text, "")
	}
	if s.RemoveHashtags {
		text = hashtagPattern.ReplaceAllString(text, "")
	}
	if s.RemovePhoneNumbers {
		text = phonePattern.ReplaceAllString(text, "")
	}
	if s.RemoveEmojis {
		text = emojiPattern.ReplaceAllString(text, "")
	}

	keywords := normalizeKeywords(s.Keywords)
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(spacesPattern.ReplaceAllString(line, " "), " \t")
		if s.RemoveKeywordLines && containsAny(strings.ToLower(line), keywords) {
			continue
		}
		if s.RemoveEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// CleaningEnabled 是否有任何清理规则启用
func CleaningEnabled(s models.TextCleaningSettings) bool {
	return s.RemoveLinks || s.RemoveEmojis || s.RemoveHashtags || s.RemovePhoneNumbers ||
		s.RemoveEmptyLines || (s.RemoveKeywordLines && len(s.Keywords) > 0)
}

// ApplyReplacements 按顺序执行查找替换
func ApplyReplacements(text string, rules []models.Replacement) string {
	for _, rule := range rules {
		if rule.Find == "" {
			continue
		}
		text = strings.ReplaceAll(text, rule.Find, rule.Replace)
	}
	return text
}

// FormatHTML 转义文本并按样式包裹 HTML 标签
func FormatHTML(text string, s models.FormattingSettings) string {
	escaped := html.EscapeString(text)
	if !s.Enabled || escaped == "" {
		return escaped
	}

	switch s.Style {
	case models.FormatBold:
		return "<b>" + escaped + "</b>"
	case models.FormatItalic:
		return "<i>" + escaped + "</i>"
	case models.FormatUnderline:
		return "<u>" + escaped + "</u>"
	case models.FormatStrikethrough:
		return "<s>" + escaped + "</s>"
	case models.FormatCode:
		return "<code>" + escaped + "</code>"
	case models.FormatQuote:
		return "<blockquote>" + escaped + "</blockquote>"
	case models.FormatSpoiler:
		return "<tg-spoiler>" + escaped + "</tg-spoiler>"
	case models.FormatHyperlink:
		url := strings.TrimSpace(s.HyperlinkURL)
		if url == "" {
			return escaped
		}
		label := escaped
		if s.HyperlinkText != "" {
			label = html.EscapeString(s.HyperlinkText)
		}
		return `<a href="` + html.EscapeString(url) + `">` + label + "</a>"
	default:
		return escaped
	}
}

// WrapHeaderFooter 注入页眉页脚（页眉页脚本身允许 HTML）
func WrapHeaderFooter(body string, s models.HeaderFooterSettings) string {
	parts := make([]string, 0, 3)
	if s.HeaderEnabled && strings.TrimSpace(s.HeaderText) != "" {
		parts = append(parts, s.HeaderText)
	}
	if body != "" {
		parts = append(parts, body)
	}
	if s.FooterEnabled && strings.TrimSpace(s.FooterText) != "" {
		parts = append(parts, s.FooterText)
	}
	return strings.Join(parts, "\n\n")
}

// RenderTemplate 替换 {name} 形式的占位符，未知占位符保持原样
func RenderTemplate(tpl string, vars map[string]string) string {
	if tpl == "" || len(vars) == 0 {
		return tpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
