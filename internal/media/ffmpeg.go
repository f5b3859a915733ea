// Package media shells out to ffmpeg for the codec level work of the
// pipeline: drawtext watermarks on photos and videos, audio tag rewriting
// and intro/outro concatenation.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go_relay/internal/logger"
	"go_relay/internal/relay/models"
	"go_relay/internal/relay/transform"
)

const (
	defaultFontSize = 36
	defaultColor    = "white"
	defaultOpacity  = 60
	stderrTail      = 512
)

// FFmpeg 基于 ffmpeg 可执行文件的媒体处理器
type FFmpeg struct {
	binary string
	tmpDir string
	run    func(ctx context.Context, binary string, args ...string) ([]byte, error)
}

// NewFFmpeg 创建处理器；binary 为空时使用 PATH 中的 ffmpeg
func NewFFmpeg(binary string) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{
		binary: binary,
		tmpDir: os.TempDir(),
		run:    runCommand,
	}
}

// Available 检查 ffmpeg 是否可用
func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return fmt.Errorf("ffmpeg not found at %q: %w", f.binary, err)
	}
	return nil
}

// Watermark 实现 transform.Watermarker
func (f *FFmpeg) Watermark(ctx context.Context, in transform.MediaInput, s models.WatermarkSettings) (transform.MediaOutput, error) {
	if strings.TrimSpace(s.Text) == "" {
		return transform.MediaOutput{}, transform.ErrUnchanged
	}

	ext := extension(in)
	work, err := os.MkdirTemp(f.tmpDir, "relay-wm-*")
	if err != nil {
		return transform.MediaOutput{}, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	input := filepath.Join(work, "in"+ext)
	output := filepath.Join(work, "out"+ext)
	if err := os.WriteFile(input, in.Data, 0o600); err != nil {
		return transform.MediaOutput{}, fmt.Errorf("failed to write input: %w", err)
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", input, "-vf", drawtextFilter(s)}
	if in.Kind == models.MediaPhoto {
		args = append(args, "-frames:v", "1")
	} else {
		args = append(args, "-c:a", "copy")
	}
	args = append(args, output)

	if out, err := f.run(ctx, f.binary, args...); err != nil {
		return transform.MediaOutput{}, commandError("watermark", err, out)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return transform.MediaOutput{}, fmt.Errorf("failed to read output: %w", err)
	}
	logger.L().Debugf("Watermark applied: kind=%s, in=%d bytes, out=%d bytes", in.Kind, len(in.Data), len(data))

	return transform.MediaOutput{Data: data, FileName: outputName(in, ext)}, nil
}

// ProcessAudio 实现 transform.AudioProcessor
func (f *FFmpeg) ProcessAudio(ctx context.Context, in transform.MediaInput, s models.AudioSettings, tags transform.AudioTags) (transform.MediaOutput, error) {
	intro := strings.TrimSpace(s.IntroPath)
	outro := strings.TrimSpace(s.OutroPath)
	if tags == (transform.AudioTags{}) && intro == "" && outro == "" {
		return transform.MediaOutput{}, transform.ErrUnchanged
	}

	ext := extension(in)
	work, err := os.MkdirTemp(f.tmpDir, "relay-audio-*")
	if err != nil {
		return transform.MediaOutput{}, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	input := filepath.Join(work, "in"+ext)
	output := filepath.Join(work, "out"+ext)
	if err := os.WriteFile(input, in.Data, 0o600); err != nil {
		return transform.MediaOutput{}, fmt.Errorf("failed to write input: %w", err)
	}

	parts := make([]string, 0, 3)
	for _, p := range []string{intro, input, outro} {
		if p == "" {
			continue
		}
		if p != input {
			if _, err := os.Stat(p); err != nil {
				return transform.MediaOutput{}, fmt.Errorf("audio clip %q: %w", p, err)
			}
		}
		parts = append(parts, p)
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, p := range parts {
		args = append(args, "-i", p)
	}
	if len(parts) > 1 {
		var filter strings.Builder
		for i := range parts {
			fmt.Fprintf(&filter, "[%d:a]", i)
		}
		fmt.Fprintf(&filter, "concat=n=%d:v=0:a=1[a]", len(parts))
		args = append(args, "-filter_complex", filter.String(), "-map", "[a]")
	} else {
		args = append(args, "-map", "0:a", "-c", "copy")
	}
	args = append(args, metadataArgs(tags)...)
	args = append(args, output)

	if out, err := f.run(ctx, f.binary, args...); err != nil {
		return transform.MediaOutput{}, commandError("audio", err, out)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return transform.MediaOutput{}, fmt.Errorf("failed to read output: %w", err)
	}
	return transform.MediaOutput{Data: data, FileName: outputName(in, ext)}, nil
}

func drawtextFilter(s models.WatermarkSettings) string {
	size := s.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	color := strings.TrimSpace(s.Color)
	if color == "" {
		color = defaultColor
	}
	opacity := s.Opacity
	if opacity <= 0 || opacity > 100 {
		opacity = defaultOpacity
	}

	x, y := position(s.Position)
	return fmt.Sprintf("drawtext=text='%s':fontsize=%d:fontcolor=%s@%s:x=%s:y=%s",
		escapeDrawtext(s.Text), size, color, strconv.FormatFloat(float64(opacity)/100, 'f', 2, 64), x, y)
}

func position(p models.WatermarkPosition) (string, string) {
	const margin = "20"
	switch p {
	case models.PositionTopLeft:
		return margin, margin
	case models.PositionTop:
		return "(w-text_w)/2", margin
	case models.PositionTopRight:
		return "w-text_w-" + margin, margin
	case models.PositionCenter:
		return "(w-text_w)/2", "(h-text_h)/2"
	case models.PositionBottomLeft:
		return margin, "h-text_h-" + margin
	case models.PositionBottom:
		return "(w-text_w)/2", "h-text_h-" + margin
	default:
		return "w-text_w-" + margin, "h-text_h-" + margin
	}
}

// escapeDrawtext 转义 drawtext 参数中的特殊字符
func escapeDrawtext(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`, `,`, `\,`)
	return r.Replace(text)
}

func metadataArgs(tags transform.AudioTags) []string {
	var args []string
	add := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			args = append(args, "-metadata", key+"="+value)
		}
	}
	add("title", tags.Title)
	add("artist", tags.Artist)
	add("album", tags.Album)
	return args
}

func extension(in transform.MediaInput) string {
	if ext := filepath.Ext(in.FileName); ext != "" {
		return strings.ToLower(ext)
	}
	switch in.Kind {
	case models.MediaPhoto:
		return ".jpg"
	case models.MediaVideo, models.MediaAnimation:
		return ".mp4"
	case models.MediaAudio:
		return ".mp3"
	default:
		return ".bin"
	}
}

func outputName(in transform.MediaInput, ext string) string {
	if in.FileName != "" {
		return in.FileName
	}
	return string(in.Kind) + ext
}

func runCommand(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

func commandError(step string, err error, stderr []byte) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("ffmpeg %s: binary not found: %w", step, err)
	}
	msg := strings.TrimSpace(string(stderr))
	if len(msg) > stderrTail {
		msg = msg[len(msg)-stderrTail:]
	}
	if msg == "" {
		return fmt.Errorf("ffmpeg %s: %w", step, err)
	}
	return fmt.Errorf("ffmpeg %s: %w: %s", step, err, msg)
}
